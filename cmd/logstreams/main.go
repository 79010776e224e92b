package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/logstreams/internal/cmd/client"
	serverrun "github.com/rzbill/logstreams/internal/cmd/server"
	cfgpkg "github.com/rzbill/logstreams/internal/config"
	logpkg "github.com/rzbill/logstreams/pkg/log"
)

func main() {
	// LOGSTREAMS_LOG_LEVEL applies to CLI output and to server start.
	parsed, err := logpkg.ParseLevel(os.Getenv("LOGSTREAMS_LOG_LEVEL"))
	if err != nil {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:          "logstreams",
		Short:        "logstreams append-only log runtime",
		SilenceUsage: true,
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start a logstreams node (gRPC, admin HTTP and exporter)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := cfgpkg.Load(path)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			flags := cmd.Flags()
			if flags.Changed("data-dir") {
				cfg.DataDir, _ = flags.GetString("data-dir")
			}
			if flags.Changed("partitions") {
				cfg.Partitions, _ = flags.GetInt("partitions")
			}
			if flags.Changed("fsync") {
				cfg.Storage.Fsync, _ = flags.GetString("fsync")
			}
			if flags.Changed("fsync-interval-ms") {
				cfg.Storage.FsyncIntervalMs, _ = flags.GetInt("fsync-interval-ms")
			}
			if flags.Changed("linger-ms") {
				cfg.Appender.LingerMs, _ = flags.GetInt("linger-ms")
			}
			if flags.Changed("log-level") {
				cfg.Log.Level, _ = flags.GetString("log-level")
			}
			if flags.Changed("log-format") {
				cfg.Log.Format, _ = flags.GetString("log-format")
			}
			grpcAddr, _ := flags.GetString("grpc")
			httpAddr, _ := flags.GetString("http")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{
				GRPCAddr: grpcAddr,
				HTTPAddr: httpAddr,
				Config:   cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("config", "", "Config file (JSON or YAML)")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (default: OS data dir)")
	serverStartCmd.Flags().String("grpc", ":50051", "gRPC listen address")
	serverStartCmd.Flags().String("http", ":8080", "Admin HTTP listen address (metrics, health); empty disables")
	serverStartCmd.Flags().Int("partitions", 1, "Number of partitions")
	serverStartCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "Fsync interval in ms when --fsync=interval")
	serverStartCmd.Flags().Int("linger-ms", 0, "Appender linger before a partial flush")
	serverStartCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "", "Log format: text|json")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	rootCmd.AddCommand(clientcmd.Commands()...)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", logpkg.Err(err))
		os.Exit(1)
	}
}
