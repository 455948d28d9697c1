package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"startupai/internal/checkpoint"
	"startupai/internal/controller"
	"startupai/internal/repository"
)

const sweepBatchSize = 100

// Sweeper is the escalation runner's periodic work: firing due escalation
// tiers and reconciling crew runs whose results never arrived. Both checks
// are idempotent, so overlapping runners are safe.
type Sweeper struct {
	checkpoints *checkpoint.Manager
	runs        *repository.PhaseRunRepository
	controller  *controller.Controller
	runMax      time.Duration
	logger      *zap.Logger
}

func NewSweeper(
	checkpoints *checkpoint.Manager,
	runs *repository.PhaseRunRepository,
	ctrl *controller.Controller,
	runMax time.Duration,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		checkpoints: checkpoints,
		runs:        runs,
		controller:  ctrl,
		runMax:      runMax,
		logger:      logger,
	}
}

// SweepEscalations fires every escalation tier that is past due.
func (s *Sweeper) SweepEscalations(ctx context.Context) error {
	fired, err := s.checkpoints.EscalateDue(ctx, sweepBatchSize)
	if err != nil {
		s.logger.Error("Escalation sweep failed", zap.Error(err))
		return err
	}
	if fired > 0 {
		s.logger.Info("Escalation sweep completed", zap.Int("fired", fired))
	}
	return nil
}

// ReconcileTimedOutRuns force-fails running phase runs older than the crew
// run window. Without this a lost crew.failed message would leave a project
// stuck in Running forever.
func (s *Sweeper) ReconcileTimedOutRuns(ctx context.Context) error {
	stale, err := s.runs.ListTimedOut(ctx, s.runMax, sweepBatchSize)
	if err != nil {
		s.logger.Error("Failed to list timed out runs", zap.Error(err))
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	reconciled := 0
	for _, run := range stale {
		err := s.controller.OnCrewFailure(ctx, controller.CrewFailure{
			RunID:   run.ID,
			JobID:   run.JobID,
			Reason:  fmt.Sprintf("no crew result within %s", s.runMax),
			Timeout: true,
		})
		if err != nil {
			s.logger.Error("Failed to time out phase run",
				zap.String("run_id", run.ID.String()),
				zap.String("project_id", run.ProjectID.String()),
				zap.Error(err),
			)
			continue
		}
		reconciled++
		s.logger.Warn("Phase run timed out",
			zap.String("run_id", run.ID.String()),
			zap.String("project_id", run.ProjectID.String()),
			zap.String("phase", string(run.Phase)),
			zap.Duration("run_max", s.runMax),
		)
	}

	s.logger.Info("Timeout reconciliation completed",
		zap.Int("reconciled", reconciled),
		zap.Int("total_stale", len(stale)),
	)
	return nil
}
