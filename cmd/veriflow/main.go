// Package main provides the Veriflow data quality API server.
//
// The server owns the HTTP surface and the job manager. In single-binary
// deployments (no BROKER_URL) it also runs the worker pool and scheduler
// in-process over an in-memory queue; with a Kafka broker configured, run
// cmd/worker separately and the two processes share the topic.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/segmentio/kafka-go"

	"github.com/veriflow-io/veriflow/internal/api"
	"github.com/veriflow-io/veriflow/internal/api/middleware"
	"github.com/veriflow-io/veriflow/internal/config"
	"github.com/veriflow-io/veriflow/internal/engine"
	"github.com/veriflow-io/veriflow/internal/incident"
	"github.com/veriflow-io/veriflow/internal/jobs"
	"github.com/veriflow-io/veriflow/internal/notify"
	"github.com/veriflow-io/veriflow/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "veriflow"
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

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting Veriflow service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	rateLimitConfig := middleware.LoadRateLimitConfig()
	rateLimiter := middleware.NewInMemoryRateLimiter(rateLimitConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", rateLimitConfig.GlobalRPS),
		slog.Int("key_rps", rateLimitConfig.KeyRPS),
		slog.Int("unauth_rps", rateLimitConfig.UnAuthRPS),
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

		// Close database connection before exit (defer won't run with os.Exit)
		_ = dbConn.Close()
		os.Exit(1)
	}

	var apiKeyStore storage.APIKeyStore

	if config.GetEnvBool("VERIFLOW_AUTH_ENABLED", false) {
		apiKeyStore, err = storage.NewPersistentKeyStore(dbConn)
		if err != nil {
			fatal("Failed to connect to persistent key store", err)
		}

		logger.Info("API key authentication enabled",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
		)
	} else {
		logger.Warn("API key authentication disabled",
			slog.String("security", "Only use in trusted networks (localhost, VPN, internal)"),
			slog.String("note", "Set VERIFLOW_AUTH_ENABLED=true to enable API key authentication"),
		)
	}

	cipher, err := storage.NewConfigCipher(storageConfig.EncryptionKeyHex())
	if err != nil {
		fatal("Failed to initialize config cipher", err)
	}

	connectionStore, err := storage.NewConnectionStore(dbConn, cipher)
	if err != nil {
		fatal("Failed to create connection store", err)
	}

	checkStore, err := storage.NewCheckStore(dbConn)
	if err != nil {
		fatal("Failed to create check store", err)
	}

	jobStore, err := storage.NewJobStore(dbConn)
	if err != nil {
		fatal("Failed to create job store", err)
	}

	resultStore, err := storage.NewResultStore(dbConn,
		storageConfig.CleanupInterval, storageConfig.ResultRetention)
	if err != nil {
		fatal("Failed to create result store", err)
	}

	defer func() {
		_ = resultStore.Close()
	}()

	incidentStore, err := storage.NewIncidentStore(dbConn)
	if err != nil {
		fatal("Failed to create incident store", err)
	}

	scheduleStore, err := storage.NewScheduleStore(dbConn)
	if err != nil {
		fatal("Failed to create schedule store", err)
	}

	channelStore, err := storage.NewChannelStore(dbConn)
	if err != nil {
		fatal("Failed to create channel store", err)
	}

	logger.Info("Storage initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Duration("result_cleanup_interval", storageConfig.CleanupInterval),
		slog.Duration("result_retention", storageConfig.ResultRetention),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	dispatcher := notify.NewDispatcher(channelStore, logger)
	defer func() {
		_ = dispatcher.Close()
	}()

	incidentManager := incident.NewManager(incidentStore, dispatcher, logger)
	executor := engine.New(connectionStore, resultStore, logger)

	queue := jobs.NewQueue()
	defer func() {
		_ = queue.Close()
	}()

	jobManager := jobs.NewManager(jobStore, queue, logger)

	// Background workers: in single-binary mode the pool and scheduler run
	// here; with a broker the worker process consumes the topic instead, but
	// running the pool here too is harmless (consumer group shares the load).
	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()

	sessions := jobs.NewSessionFactory(storageConfig, dispatcher, logger)
	pool := jobs.NewPool(queue, jobs.NewCheckRunner(sessions, logger), jobs.PoolConfig{
		MaxWorkers: config.GetEnvInt("VERIFLOW_MAX_WORKERS", 0),
		JobTimeout: config.GetEnvDuration("VERIFLOW_JOB_TIMEOUT", 0),
	}, logger)

	go pool.Start(workCtx)
	go jobs.NewScheduler(scheduleStore, jobManager, logger).Start(workCtx)

	deps := &api.Dependencies{
		Connections: connectionStore,
		Checks:      checkStore,
		Jobs:        jobStore,
		Runner:      jobManager,
		Results:     resultStore,
		Incidents:   incidentStore,
		IncidentOps: incidentManager,
		Schedules:   scheduleStore,
		Channels:    channelStore,
		Notifier:    dispatcher,
		Executor:    executor,
		Health: []api.HealthCheck{
			{Name: "database", Check: dbConn.Ping},
		},
	}

	if broker := config.GetEnvStr("BROKER_URL", ""); broker != "" {
		addr := strings.Split(broker, ",")[0]

		deps.Health = append(deps.Health, api.HealthCheck{
			Name: "broker",
			Check: func(ctx context.Context) error {
				conn, err := kafka.DialContext(ctx, "tcp", addr)
				if err != nil {
					return err
				}

				return conn.Close()
			},
		})
	}

	server := api.NewServer(serverConfig, deps, apiKeyStore, rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	stopWork()

	logger.Info("Veriflow service stopped")
}
