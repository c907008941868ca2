package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nexuslabs/nexus/internal/config"
	"github.com/nexuslabs/nexus/internal/logger"
	"github.com/nexuslabs/nexus/internal/telemetry"
)

var (
	// Version is injected at build time.
	Version = "dev"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "nexusd",
	Short: "Nexus virtual filesystem composition root",
	Long: `nexusd wires the Nexus CORE's tuple store, Leopard closure index,
permission cache, storage backend, and upload/share-link/snapshot/sync-pipe/
event-log subsystems into one running process and serves its metrics
endpoint until terminated.

Use --config to point at a configuration file, or it falls back to
$XDG_CONFIG_HOME/nexus/config.yaml.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(Version)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/nexus/config.yaml)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command. Called once from main.main().
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln(err)
		return err
	}
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(cfgFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "nexus",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("telemetry disabled")
	}

	app, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wire app: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("app close error", "error", err)
		}
	}()

	logger.Info("nexusd starting",
		"tuplestore", cfg.TupleStore.Type,
		"backend", cfg.Backend.Type,
		"eventlog", cfg.EventLog.Mode,
		"leopard", cfg.Leopard.Backend,
		"metrics_enabled", cfg.Metrics.Enabled,
	)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- app.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, draining")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		select {
		case err := <-serverDone:
			if err != nil {
				logger.Error("shutdown error", "error", err)
				return err
			}
		case <-shutdownCtx.Done():
			logger.Warn("shutdown timed out, forcing exit")
		}
		logger.Info("nexusd stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
		logger.Info("nexusd stopped")
	}

	return nil
}
