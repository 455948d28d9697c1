package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	mqcontracts "startupai/contracts/mq"
	"startupai/internal/checkpoint"
	"startupai/internal/controller"
	"startupai/internal/crew"
	"startupai/internal/gate"
	"startupai/internal/handler"
	"startupai/internal/httpserver"
	"startupai/internal/mqhandler"
	"startupai/internal/pivot"
	"startupai/internal/repository"
	"startupai/pkg/config"
	"startupai/pkg/db"
	"startupai/pkg/logger"
	"startupai/pkg/mq"
	"startupai/pkg/otel"
	"startupai/pkg/outbox"
	"startupai/pkg/redis"
	"startupai/pkg/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting orchestrator...",
		zap.String("db_host", cfg.DB.Host),
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("crew_base_url", cfg.Crew.BaseURL),
	)

	// Tracing
	otelShutdown, err := otel.Init(otel.Config{
		ServiceName: "orchestrator",
		Endpoint:    cfg.Otel.Endpoint,
		Enabled:     cfg.Otel.Enabled,
	}, log)
	if err != nil {
		log.Fatal("OpenTelemetry init failed", zap.Error(err))
	}
	defer otelShutdown()

	// Redis
	rdb := redis.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	deduper := util.NewDeduper(rdb, time.Hour)
	retryCounter := util.NewRetryCounter(rdb, time.Hour)

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB connection failed", zap.Error(err))
	}
	defer dbConn.Close()

	log.Info("DB ready")

	// MQ publisher (outbox dispatch + DLQ)
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	if err := declareDLQ(cfg.MQ.URL); err != nil {
		log.Fatal("DLQ declaration failed", zap.Error(err))
	}

	// Repositories
	outboxRepo := outbox.NewRepository(dbConn)
	projectRepo := repository.NewProjectRepository(dbConn, log)
	runRepo := repository.NewPhaseRunRepository(dbConn, log)
	evidenceRepo := repository.NewEvidenceRepository(dbConn, log)
	pivotRepo := repository.NewPivotRepository(dbConn, log)
	checkpointRepo := repository.NewCheckpointRepository(dbConn, outboxRepo, log)

	// Services
	crewClient := crew.NewClient(cfg.Crew, log)
	checkpointManager := checkpoint.NewManager(checkpointRepo, projectRepo, outboxRepo, cfg.Escalation, log)
	pivotDispatcher := pivot.NewDispatcher(pivotRepo, log)
	evaluator := gate.NewEvaluator(cfg.Gates)

	ctrl := controller.NewController(
		projectRepo,
		runRepo,
		evidenceRepo,
		checkpointManager,
		pivotDispatcher,
		crewClient,
		evaluator,
		outboxRepo,
		log,
	)

	// Outbox dispatcher
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log)
	go dispatcher.Start(context.Background())

	// MQ handlers
	completedHandler := mqhandler.NewCrewCompletedHandler(ctrl, retryCounter, deduper, publisher, log)
	failedHandler := mqhandler.NewCrewFailedHandler(ctrl, retryCounter, deduper, publisher, log)

	log.Info("Init consumer: crew.completed.orchestrator.q")
	completedConsumer, err := mq.NewConsumer(
		cfg.MQ.URL,
		"crew.completed.orchestrator.q",
		mqcontracts.RoutingKeyCrewCompleted,
		log,
	)
	if err != nil {
		log.Fatal("crew.completed consumer init failed", zap.Error(err))
	}
	completedConsumer.SetHandler(completedHandler.Handle)
	go func() {
		if err := completedConsumer.StartConsuming(); err != nil {
			log.Fatal("crew.completed consumer crashed", zap.Error(err))
		}
	}()
	defer completedConsumer.Close()

	log.Info("Init consumer: crew.failed.orchestrator.q")
	failedConsumer, err := mq.NewConsumer(
		cfg.MQ.URL,
		"crew.failed.orchestrator.q",
		mqcontracts.RoutingKeyCrewFailed,
		log,
	)
	if err != nil {
		log.Fatal("crew.failed consumer init failed", zap.Error(err))
	}
	failedConsumer.SetHandler(failedHandler.Handle)
	go func() {
		if err := failedConsumer.StartConsuming(); err != nil {
			log.Fatal("crew.failed consumer crashed", zap.Error(err))
		}
	}()
	defer failedConsumer.Close()

	// HTTP layer
	stateReader := handler.NewStateReader(projectRepo, runRepo, checkpointRepo, pivotRepo)
	projectHandler := handler.NewProjectHandler(ctrl, stateReader, log)
	checkpointHandler := handler.NewCheckpointHandler(checkpointManager, ctrl, projectRepo, pivotDispatcher, log)

	replayService := outbox.NewReplayService(outboxRepo, publisher)
	adminHandler := handler.NewAdminHandler(outboxRepo, replayService, log)

	router := httpserver.NewRouter(
		projectHandler,
		checkpointHandler,
		adminHandler,
		cfg.JWT.Secret,
		dbConn,
	)

	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := router.Run(cfg.Server.Port); err != nil {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down orchestrator gracefully...")

	log.Info("Stopping MQ consumers...")
	completedConsumer.Stop()
	failedConsumer.Stop()

	log.Info("Closing database connection...")
	dbConn.Close()

	log.Info("Closing Redis connection...")
	rdb.Close()

	log.Info("Closing MQ publisher...")
	publisher.Close()

	log.Info("orchestrator shutdown complete")
}

// declareDLQ sets up the dead letter exchange and one DLQ per consumed
// routing key so poison messages land somewhere inspectable.
func declareDLQ(url string) error {
	conn, err := mq.NewConnection(url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := mq.DeclareDLQExchange(ch); err != nil {
		return err
	}
	for _, key := range []string{mqcontracts.RoutingKeyCrewCompleted, mqcontracts.RoutingKeyCrewFailed} {
		if _, err := mq.DeclareDLQQueue(ch, key); err != nil {
			return err
		}
	}
	return nil
}
