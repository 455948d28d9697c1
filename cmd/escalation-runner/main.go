package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"startupai/internal/checkpoint"
	"startupai/internal/controller"
	"startupai/internal/crew"
	"startupai/internal/gate"
	"startupai/internal/pivot"
	"startupai/internal/repository"
	"startupai/internal/service"
	"startupai/pkg/config"
	"startupai/pkg/db"
	"startupai/pkg/logger"
	"startupai/pkg/mq"
	"startupai/pkg/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting escalation-runner...",
		zap.String("db_host", cfg.DB.Host),
		zap.Duration("run_max_duration", cfg.Crew.RunMaxDuration),
	)

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	// MQ publisher (outbox dispatch)
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

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

	sweeper := service.NewSweeper(checkpointManager, runRepo, ctrl, cfg.Crew.RunMaxDuration, log)

	// Outbox dispatcher
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log)
	go dispatcher.Start(context.Background())

	// Sweep loop - runs every 1 minute
	log.Info("Starting escalation sweeper (runs every 1 minute)...")
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()

	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		// Run immediately on startup
		sweep(sweepCtx, sweeper, log)

		for {
			select {
			case <-sweepCtx.Done():
				log.Info("Escalation sweeper stopped")
				return
			case <-ticker.C:
				sweep(sweepCtx, sweeper, log)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down escalation-runner gracefully...")
	sweepCancel()
	dbConn.Close()
	publisher.Close()
	log.Info("escalation-runner shutdown complete")
}

func sweep(ctx context.Context, sweeper *service.Sweeper, log *zap.Logger) {
	if err := sweeper.SweepEscalations(ctx); err != nil {
		log.Error("Escalation sweep failed", zap.Error(err))
	}
	if err := sweeper.ReconcileTimedOutRuns(ctx); err != nil {
		log.Error("Timed-out run reconciliation failed", zap.Error(err))
	}
}
