package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/upilookup/am"
	"github.com/teranos/upilookup/errors"
	"github.com/teranos/upilookup/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage upilookup configuration",
	Long: sym.AM + ` am - Manage upilookup configuration ("I am")

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/upilookup/am.toml)
3. User config (~/.upilookup/am.toml)
4. Project config (./am.toml, searched up from the working directory)
5. Environment variables (UPILOOKUP_* prefix, e.g. UPILOOKUP_RATE_LIMIT_CALLS_PER_SECOND)

Examples:
  upilookup am show                 # Show effective configuration
  upilookup am show --format json   # Show configuration as JSON
  upilookup am show --format yaml   # Show configuration as YAML
  upilookup am init                 # Write a default ./am.toml
  upilookup am validate             # Validate current configuration
  upilookup am where                # Show which files are read`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default am.toml",
	RunE:  runAmInit,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var (
	configFormat string
	initPath     string
	initForce    bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amInitCmd.Flags().StringVar(&initPath, "path", "am.toml", "Where to write the config file")
	amInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amInitCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(out, string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(out, "# upilookup configuration\n%s", string(data))

	case "toml":
		text, err := am.Render(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "# upilookup configuration\n%s", text)

	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	if err := am.WriteDefaults(initPath, initForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", sym.Success, initPath)
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	fmt.Fprintln(cmd.OutOrStdout(), sym.Success+" Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	active := ConfigPath
	if active == "" {
		active = am.ActiveConfigPath()
	}

	fmt.Fprintln(out, "Configuration cascade (later overrides earlier):")
	fmt.Fprintln(out, "  [DEFAULT]  Built-in defaults")
	for _, path := range am.ConfigPaths() {
		status := "missing"
		if _, err := os.Stat(path); err == nil {
			status = "found"
		}
		marker := " "
		if path == active {
			marker = "*"
		}
		fmt.Fprintf(out, "%s [%-7s]  %s\n", marker, status, path)
	}
	fmt.Fprintln(out, "  [ENV]      UPILOOKUP_* environment variables")
	if ConfigPath != "" {
		fmt.Fprintf(out, "\n--config %s replaces the file cascade\n", ConfigPath)
	}
	return nil
}
