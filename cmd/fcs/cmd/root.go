// Package cmd wires the fcs command-line tool together: init (apply the
// database schema), supervise (run the scheduler) and work (run a
// worker), cobra-routed the way the retrieved quorum-ai CLI is.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Patryk27/free-churro-scheduler/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fcs",
	Short: "Free Churro Scheduler - a small distributed task dispatch engine",
	Long: `fcs runs the Free Churro Scheduler: a supervisor process that dispatches
pending tasks to live workers, and worker processes that claim and run them,
coordinating purely through a shared Postgres database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fcs:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./fcs.yaml)")
}

// loadConfig loads config for the subcommand owning cmd's flag set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	return config.Load(cmd.Flags(), cfgFile)
}

// newLogger builds the slog.Logger every subcommand logs through, text
// or JSON depending on cfg.LogFormat.
func newLogger(cfg config.Config) *slog.Logger {
	var out io.Writer = os.Stderr

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}
