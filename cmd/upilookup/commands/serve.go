package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/upilookup/am"
	"github.com/teranos/upilookup/errors"
	"github.com/teranos/upilookup/logger"
	"github.com/teranos/upilookup/server"
	"github.com/teranos/upilookup/sym"
	"github.com/teranos/upilookup/version"
)

// ServeCmd starts the HTTP control server
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the upilookup HTTP control server",
	Long: `Start the HTTP control server. Runs are submitted with POST /api/run and
controlled with POST /api/run/{pause,resume,cancel,reset}. GET /ws streams
run events over a WebSocket.

Changes to rate_limit.calls_per_second in the active am.toml apply without
a restart.`,
	RunE: runServe,
}

var servePort int

func init() {
	ServeCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	log := logger.Logger.Named("serve")

	ctx, shutdown := context.WithCancel(cmd.Context())
	defer shutdown()

	eng, err := newEngine(ctx, cfg, log)
	if err != nil {
		return err
	}

	database, archiveStore, err := openArchive(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	if database != nil {
		defer database.Close()
	}

	configPath := ConfigPath
	if configPath == "" {
		configPath = am.ActiveConfigPath()
	}
	if configPath != "" {
		watcher, err := am.NewConfigWatcher(configPath, log)
		if err != nil {
			log.Warnw("Config hot reload disabled", "path", configPath, logger.FieldError, err)
		} else {
			watcher.OnReload(func(next *am.Config) error {
				if next.RateLimit.CallsPerSecond <= 0 {
					return errors.Newf("calls_per_second must be positive, got %d", next.RateLimit.CallsPerSecond)
				}
				eng.limiter.SetLimit(next.RateLimit.CallsPerSecond)
				log.Infow(sym.Pulse+" Rate limit updated", "calls_per_second", next.RateLimit.CallsPerSecond)
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	srv := server.New(eng.ctrl, eng.normalizer, archiveStore, cfg.Server, log)

	printStartupBanner(cfg, configPath)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(cfg.Server.Port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server failed to start")
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

		if err := eng.ctrl.Cancel(); err == nil {
			pterm.Info.Println("Cancelled active run")
		}

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- srv.Stop()
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return errors.Wrap(err, "shutdown error")
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("Force shutdown, aborting in-flight lookups")
			shutdown()
			return errors.New("forced shutdown")
		}
	}
}

// printStartupBanner prints the server summary block.
func printStartupBanner(cfg *am.Config, configPath string) {
	info := version.Get()

	pterm.DefaultHeader.WithFullWidth().Println(sym.Pulse + " upilookup")
	pterm.Printf("%s Version:   %s (commit %s)\n", pterm.Green("│"), info.Version, info.Short())
	pterm.Printf("%s Port:      %d\n", pterm.Green("│"), cfg.Server.Port)
	pterm.Printf("%s Rate:      %d calls / %dms (%s)\n", pterm.Green("│"),
		cfg.RateLimit.CallsPerSecond, cfg.RateLimit.WindowMS, cfg.RateLimit.Policy)
	pterm.Printf("%s Workers:   %d\n", pterm.Green("│"), cfg.Pool.Workers)
	if cfg.Database.Path != "" {
		pterm.Printf("%s Database:  %s\n", pterm.Green("│"), cfg.Database.Path)
	} else {
		pterm.Printf("%s Database:  %s\n", pterm.Green("│"), pterm.Gray("disabled (history off)"))
	}
	if configPath != "" {
		pterm.Printf("%s Config:    %s (watched)\n", pterm.Green("│"), configPath)
	}
	pterm.Println()
	pterm.Printf("%s\n\n", pterm.Blue("Press Ctrl+C to stop"))
}
