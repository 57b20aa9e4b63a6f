package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Patryk27/free-churro-scheduler/internal/migrate"
	"github.com/Patryk27/free-churro-scheduler/internal/storage/postgres"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Apply the database schema",
	Long:  `init connects to the database and applies the tasks/workers schema. Safe to run against an already-initialized database.`,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().String("database", "", "Postgres connection string (required)")
	_ = initCmd.MarkFlagRequired("database")
}

func runInit(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	ctx := cmd.Context()

	gw, err := postgres.Connect(ctx, postgres.Options{DSN: cfg.DatabaseDSN})
	if err != nil {
		return fmt.Errorf("couldn't connect to database: %w", err)
	}
	defer gw.Close()

	if err := migrate.Run(ctx, gw.DB()); err != nil {
		return fmt.Errorf("couldn't apply schema: %w", err)
	}

	logger.Info("schema applied")
	return nil
}
