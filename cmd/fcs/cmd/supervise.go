package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Patryk27/free-churro-scheduler/internal/registry"
	"github.com/Patryk27/free-churro-scheduler/internal/scheduler"
	"github.com/Patryk27/free-churro-scheduler/internal/storage/postgres"
)

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Run the supervisor: dispatch pending tasks to live workers",
	RunE:  runSupervise,
}

func init() {
	rootCmd.AddCommand(superviseCmd)
	superviseCmd.Flags().String("database", "", "Postgres connection string (required)")
	superviseCmd.Flags().Duration("liveness-window", registry.DefaultLivenessWindow, "how long a worker may go quiet before it's considered dead")
	superviseCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	superviseCmd.Flags().String("log-format", "text", "log format (text, json)")
	_ = superviseCmd.MarkFlagRequired("database")
}

func runSupervise(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gw, err := postgres.Connect(ctx, postgres.Options{DSN: cfg.DatabaseDSN})
	if err != nil {
		return fmt.Errorf("couldn't connect to database: %w", err)
	}
	defer gw.Close()

	sup := scheduler.New(gw,
		scheduler.WithLogger(logger),
		scheduler.WithLivenessWindow(cfg.LivenessWindow),
	)

	if err := sup.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor stopped: %w", err)
	}

	return nil
}
