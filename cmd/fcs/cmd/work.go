package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Patryk27/free-churro-scheduler/internal/api"
	"github.com/Patryk27/free-churro-scheduler/internal/registry"
	"github.com/Patryk27/free-churro-scheduler/internal/storage/postgres"
	"github.com/Patryk27/free-churro-scheduler/internal/taskrunner"
	"github.com/Patryk27/free-churro-scheduler/internal/workerproc"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run a worker: dispatch slots, heartbeat emitter, and the task submission endpoint",
	RunE:  runWork,
}

func init() {
	rootCmd.AddCommand(workCmd)
	workCmd.Flags().String("database", "", "Postgres connection string (required)")
	workCmd.Flags().String("listen", "localhost:8080", "address the task submission endpoint listens on")
	workCmd.Flags().String("id", "", "this worker's id (random UUID if omitted)")
	workCmd.Flags().Int("slots", 1, "number of concurrent dispatch slots")
	workCmd.Flags().Duration("heartbeat-interval", registry.DefaultHeartbeatInterval, "how often to heartbeat")
	workCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	workCmd.Flags().String("log-format", "text", "log format (text, json)")
	_ = workCmd.MarkFlagRequired("database")
}

func runWork(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)

	workerID := uuid.New()
	if cfg.WorkerID != "" {
		workerID, err = uuid.Parse(cfg.WorkerID)
		if err != nil {
			return fmt.Errorf("couldn't parse --id: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gw, err := postgres.Connect(ctx, postgres.Options{DSN: cfg.DatabaseDSN})
	if err != nil {
		return fmt.Errorf("couldn't connect to database: %w", err)
	}
	defer gw.Close()

	apiCfg := api.DefaultConfig()
	apiCfg.Addr = cfg.ListenAddr
	server := api.New(apiCfg, gw, logger)
	server.Start()
	defer server.Shutdown(context.Background()) //nolint:errcheck

	slots := cfg.Slots
	if slots < 1 {
		slots = 1
	}

	runner := taskrunner.NewDemo(logger)
	heartbeat := workerproc.NewHeartbeat(gw, workerID, cfg.HeartbeatInterval, logger)

	var wg sync.WaitGroup
	errCh := make(chan error, slots+1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := heartbeat.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("heartbeat: %w", err)
		}
	}()

	for i := 0; i < slots; i++ {
		dispatcher := workerproc.NewDispatcher(gw, workerID, runner, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dispatcher.Start(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("dispatcher: %w", err)
			}
		}()
	}

	logger.Info("worker ready", "worker", workerID, "slots", slots)

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}

	return nil
}
