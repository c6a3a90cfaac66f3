package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"registrar/internal/configuration"
	"registrar/internal/logging"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "registrar",
		Short:        "Service registry consistency node",
		SilenceUsage: true,
	}

	var opts configuration.LoadOptions
	var logLevel string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a registry node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts, logLevel)
		},
	}
	serveCmd.Flags().StringVar(&opts.Dir, "config-dir", configuration.DefaultConfigDir, "directory holding application*.yml")
	serveCmd.Flags().StringVar(&opts.Profile, "profile", "", "configuration profile (overrides "+configuration.ProfileEnv+")")
	serveCmd.Flags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before configuration")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "log level override")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	root.AddCommand(serveCmd, versionCmd)
	return root
}

func serve(opts configuration.LoadOptions, logLevel string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	cfg, err := configuration.LoadFrom(opts)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}

	if logLevel != "" {
		cfg.App.LogLevel = logLevel
	}
	logging.InitWithOptions(os.Stderr, logging.Options{
		Level:      cfg.App.LogLevel,
		Format:     cfg.App.LogFormat,
		NoColor:    cfg.App.NoColor,
		StackTrace: true,
	})

	slog.Info("Starting registrar...",
		"version", version,
		"profile", cfg.App.Profile,
		"standalone", cfg.Raft.Standalone,
		"addr", cfg.Transport.PeerAddr(),
	)

	services, err := NewServices(configuration.NewProvider(cfg))
	if err != nil {
		slog.Error("Failed to initialize services", "error", err)
		return err
	}

	if err := services.Start(ctx); err != nil {
		slog.Error("Failed to start services", "error", err)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		services.Stop(stopCtx)
		stopCancel()
		return err
	}

	slog.Info("registrar ready")
	<-ctx.Done()

	slog.Info("Shutting down registrar...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	services.Stop(stopCtx)

	return nil
}
