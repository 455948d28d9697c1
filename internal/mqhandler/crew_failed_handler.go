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

// CrewFailedHandler consumes crew.failed messages. The failure is recorded
// against the run and the project; re-running is always a human action.
type CrewFailedHandler struct {
	controller   *controller.Controller
	retryCounter *util.RetryCounter
	deduper      *util.Deduper
	dlq          *mq.Publisher
	logger       *zap.Logger
}

func NewCrewFailedHandler(
	ctrl *controller.Controller,
	retryCounter *util.RetryCounter,
	deduper *util.Deduper,
	dlq *mq.Publisher,
	logger *zap.Logger,
) *CrewFailedHandler {
	return &CrewFailedHandler{
		controller:   ctrl,
		retryCounter: retryCounter,
		deduper:      deduper,
		dlq:          dlq,
		logger:       logger,
	}
}

func (h *CrewFailedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	defer h.recoverPanic()

	var payload mqcontracts.CrewFailedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.logger.Error("Invalid CrewFailedPayload, sending to DLQ",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		h.toDLQ(raw, mqcontracts.RoutingKeyCrewFailed, err)
		return nil
	}

	if payload.TraceID != "" {
		ctx = trace.WithContext(ctx, payload.TraceID)
	}
	traceLogger := logger.WithTrace(ctx, h.logger)

	runID, err := uuid.Parse(payload.PhaseRunID)
	if err != nil && payload.JobID == "" {
		traceLogger.Error("Crew failure carries neither a valid run id nor a job id, sending to DLQ",
			zap.String("phase_run_id", payload.PhaseRunID),
		)
		h.toDLQ(raw, mqcontracts.RoutingKeyCrewFailed, fmt.Errorf("bad phase_run_id: %w", err))
		return nil
	}

	if !h.deduper.AcquireOnce(ctx, "crew_failed", payload.JobID) {
		traceLogger.Info("Duplicated crew failure, skip",
			zap.String("job_id", payload.JobID),
		)
		return nil
	}

	retryKey := util.FormatRetryKey("crew_failed", payload.JobID)
	retryCount, _ := h.retryCounter.IncrementAndGet(ctx, retryKey)

	traceLogger.Warn("Crew failure received",
		zap.String("job_id", payload.JobID),
		zap.String("phase", payload.Phase),
		zap.String("reason", payload.Reason),
		zap.Bool("timeout", payload.Timeout),
	)

	if err := h.controller.OnCrewFailure(ctx, controller.CrewFailure{
		RunID:   runID,
		JobID:   payload.JobID,
		Reason:  payload.Reason,
		Timeout: payload.Timeout,
	}); err != nil {
		isRetryable, errType := util.IsRetryableError(err)
		h.logger.Warn("Crew failure processing failed",
			zap.String("error_type", errType),
			zap.Bool("retryable", isRetryable),
			zap.Int64("retry", retryCount),
			zap.Error(err),
		)
		if util.ShouldRetry(retryCount, maxRetries, isRetryable) {
			// the redelivery must not be mistaken for a duplicate
			h.deduper.Release(ctx, "crew_failed", payload.JobID)
			return err
		}
		h.toDLQ(raw, mqcontracts.RoutingKeyCrewFailed, err)
		h.retryCounter.Reset(ctx, retryKey)
		return nil
	}

	h.retryCounter.Reset(ctx, retryKey)
	return nil
}

func (h *CrewFailedHandler) toDLQ(raw json.RawMessage, routingKey string, cause error) {
	if err := h.dlq.PublishToDLQ(routingKey, raw, cause.Error()); err != nil {
		h.logger.Error("Failed to publish to DLQ", zap.Error(err))
	}
}

func (h *CrewFailedHandler) recoverPanic() {
	if r := recover(); r != nil {
		h.logger.Error("panic recovered in handler", zap.Any("panic", r))
	}
}
