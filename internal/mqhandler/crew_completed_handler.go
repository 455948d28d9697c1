package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "startupai/contracts/mq"
	"startupai/internal/controller"
	"startupai/pkg/logger"
	"startupai/pkg/mq"
	"startupai/pkg/trace"
	"startupai/pkg/util"
)

const maxRetries = 5

// CrewCompletedHandler consumes crew.completed messages and feeds them into
// the phase controller. Duplicate deliveries are cheap: Redis dedup catches
// concurrent ones and the one-shot run finish catches the rest.
type CrewCompletedHandler struct {
	controller   *controller.Controller
	retryCounter *util.RetryCounter
	deduper      *util.Deduper
	dlq          *mq.Publisher
	logger       *zap.Logger
}

func NewCrewCompletedHandler(
	ctrl *controller.Controller,
	retryCounter *util.RetryCounter,
	deduper *util.Deduper,
	dlq *mq.Publisher,
	logger *zap.Logger,
) *CrewCompletedHandler {
	return &CrewCompletedHandler{
		controller:   ctrl,
		retryCounter: retryCounter,
		deduper:      deduper,
		dlq:          dlq,
		logger:       logger,
	}
}

func (h *CrewCompletedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	defer h.recoverPanic()

	var payload mqcontracts.CrewCompletedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.logger.Error("Invalid CrewCompletedPayload, sending to DLQ",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		h.toDLQ(raw, mqcontracts.RoutingKeyCrewCompleted, err)
		return nil
	}

	if payload.TraceID != "" {
		ctx = trace.WithContext(ctx, payload.TraceID)
	}
	traceLogger := logger.WithTrace(ctx, h.logger)

	runID, err := uuid.Parse(payload.PhaseRunID)
	if err != nil && payload.JobID == "" {
		traceLogger.Error("Crew result carries neither a valid run id nor a job id, sending to DLQ",
			zap.String("phase_run_id", payload.PhaseRunID),
		)
		h.toDLQ(raw, mqcontracts.RoutingKeyCrewCompleted, fmt.Errorf("bad phase_run_id: %w", err))
		return nil
	}

	if !h.deduper.AcquireOnce(ctx, "crew_completed", payload.JobID) {
		traceLogger.Info("Duplicated crew result, skip",
			zap.String("job_id", payload.JobID),
		)
		return nil
	}

	retryKey := util.FormatRetryKey("crew_completed", payload.JobID)
	retryCount, _ := h.retryCounter.IncrementAndGet(ctx, retryKey)

	traceLogger.Info("Crew result received",
		zap.String("job_id", payload.JobID),
		zap.String("phase", payload.Phase),
		zap.Float64("quality_score", payload.QualityScore),
		zap.Int64("retry", retryCount),
	)

	if err := h.controller.OnCrewResult(ctx, controller.CrewResult{
		RunID:        runID,
		JobID:        payload.JobID,
		Metrics:      payload.Metrics,
		Artifact:     payload.Artifact,
		QualityScore: payload.QualityScore,
	}); err != nil {
		return h.handleError(ctx, raw, payload.JobID, retryKey, retryCount, err)
	}

	h.retryCounter.Reset(ctx, retryKey)
	return nil
}

func (h *CrewCompletedHandler) handleError(ctx context.Context, raw json.RawMessage, jobID, retryKey string, retryCount int64, err error) error {
	isRetryable, errType := util.IsRetryableError(err)
	h.logger.Warn("Crew result processing failed",
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Int64("retry", retryCount),
		zap.Error(err),
	)

	if util.ShouldRetry(retryCount, maxRetries, isRetryable) {
		// the redelivery must not be mistaken for a duplicate
		h.deduper.Release(ctx, "crew_completed", jobID)
		return err // nack, broker redelivers
	}

	h.toDLQ(raw, mqcontracts.RoutingKeyCrewCompleted, err)
	h.retryCounter.Reset(ctx, retryKey)
	return nil // ack, message is parked
}

func (h *CrewCompletedHandler) toDLQ(raw json.RawMessage, routingKey string, cause error) {
	if err := h.dlq.PublishToDLQ(routingKey, raw, cause.Error()); err != nil {
		h.logger.Error("Failed to publish to DLQ", zap.Error(err))
	}
}

func (h *CrewCompletedHandler) recoverPanic() {
	if r := recover(); r != nil {
		h.logger.Error("panic recovered in handler", zap.Any("panic", r))
	}
}
