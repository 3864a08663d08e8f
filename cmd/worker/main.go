// Package main provides the Veriflow check execution worker.
//
// The worker consumes job IDs from the shared queue (a Kafka topic when
// BROKER_URL is set) and executes checks with bounded concurrency. It also
// runs the cron scheduler. Firing is at-least-once: MarkRun advances
// next_run_at only after dispatch, so concurrent scheduler ticks in separate
// processes can enqueue a due schedule twice.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/veriflow-io/veriflow/internal/config"
	"github.com/veriflow-io/veriflow/internal/jobs"
	"github.com/veriflow-io/veriflow/internal/notify"
	"github.com/veriflow-io/veriflow/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "veriflow-worker"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	configPath := flag.String("config", config.GetEnvStr("VERIFLOW_CONFIG_FILE", ""), "optional YAML config overlay")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if err := config.LoadFile(*configPath); err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("VERIFLOW_LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting Veriflow worker",
		slog.String("service", name),
		slog.String("version", version),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	fatal := func(what string, err error) {
		logger.Error(what, slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	jobStore, err := storage.NewJobStore(dbConn)
	if err != nil {
		fatal("Failed to create job store", err)
	}

	scheduleStore, err := storage.NewScheduleStore(dbConn)
	if err != nil {
		fatal("Failed to create schedule store", err)
	}

	channelStore, err := storage.NewChannelStore(dbConn)
	if err != nil {
		fatal("Failed to create channel store", err)
	}

	dispatcher := notify.NewDispatcher(channelStore, logger)
	defer func() {
		_ = dispatcher.Close()
	}()

	queue := jobs.NewQueue()
	defer func() {
		_ = queue.Close()
	}()

	jobManager := jobs.NewManager(jobStore, queue, logger)
	sessions := jobs.NewSessionFactory(storageConfig, dispatcher, logger)

	poolConfig := jobs.PoolConfig{
		MaxWorkers:    config.GetEnvInt("VERIFLOW_MAX_WORKERS", 0),
		JobTimeout:    config.GetEnvDuration("VERIFLOW_JOB_TIMEOUT", 0),
		RetryInterval: config.GetEnvDuration("VERIFLOW_RETRY_INTERVAL", 0),
	}

	pool := jobs.NewPool(queue, jobs.NewCheckRunner(sessions, logger), poolConfig, logger)
	scheduler := jobs.NewScheduler(scheduleStore, jobManager, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go scheduler.Start(ctx)

	logger.Info("Worker consuming queue",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("max_workers", poolConfig.MaxWorkers),
	)

	// Blocks until the context is cancelled, then drains in-flight jobs.
	pool.Start(ctx)

	logger.Info("Veriflow worker stopped")
}
