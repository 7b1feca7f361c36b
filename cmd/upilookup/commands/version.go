package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/upilookup/errors"
	"github.com/teranos/upilookup/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show upilookup version information",
	Long: `Display version, build time, commit hash, and platform information for the upilookup binary.

With --check, exits non-zero when the version does not satisfy the
constraint. Development builds satisfy every constraint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		check, _ := cmd.Flags().GetString("check")
		info := version.Get()
		out := cmd.OutOrStdout()

		if check != "" {
			ok, err := info.Satisfies(check)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Newf("upilookup %s does not satisfy %s", info.Version, check)
			}
		}

		if jsonOutput {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(output))
			return nil
		}
		fmt.Fprintln(out, info.String())
		fmt.Fprintf(out, "Platform: %s\n", info.Platform)
		fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
		return nil
	},
}

func init() {
	VersionCmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
	VersionCmd.Flags().String("check", "", `Fail unless the version satisfies a constraint (e.g. ">= 1.2")`)
}
