package crew

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"startupai/internal/model"
	"startupai/pkg/circuitbreaker"
	"startupai/pkg/config"
	"startupai/pkg/metrics"
	"startupai/pkg/trace"
)

// SubmitRequest is the body posted to the crew gateway.
type SubmitRequest struct {
	ProjectID  string         `json:"project_id"`
	PhaseRunID string         `json:"phase_run_id"`
	Hypothesis map[string]any `json:"hypothesis"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// Client submits phase analysis jobs to the crew gateway. Submission is
// synchronous and returns a job id; results arrive later on the message
// bus. Calls run behind a circuit breaker so a down gateway fails fast
// instead of stacking up timeouts.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewClient(cfg config.CrewConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.SubmitTimeout},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger:  logger,
	}
}

// Submit posts the project's current hypothesis to the crew for the given
// phase and returns the gateway's job id.
func (c *Client) Submit(ctx context.Context, project *model.Project, phaseRunID uuid.UUID, phase model.Phase, parameters map[string]any) (string, error) {
	start := time.Now()

	var jobID string
	err := c.breaker.Execute(func() error {
		var submitErr error
		jobID, submitErr = c.submit(ctx, project, phaseRunID, phase, parameters)
		return submitErr
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordCrewSubmitLatency(string(phase), status, time.Since(start))

	if err != nil {
		c.logger.Error("Crew submission failed",
			zap.String("project_id", project.ID.String()),
			zap.String("phase", string(phase)),
			zap.Error(err),
		)
		return "", err
	}

	c.logger.Info("Crew job submitted",
		zap.String("project_id", project.ID.String()),
		zap.String("phase", string(phase)),
		zap.String("job_id", jobID),
	)
	return jobID, nil
}

func (c *Client) submit(ctx context.Context, project *model.Project, phaseRunID uuid.UUID, phase model.Phase, parameters map[string]any) (string, error) {
	body, err := json.Marshal(SubmitRequest{
		ProjectID:  project.ID.String(),
		PhaseRunID: phaseRunID.String(),
		Hypothesis: project.Hypothesis,
		Parameters: parameters,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal crew request: %w", err)
	}

	url := fmt.Sprintf("%s/crews/%s/analyze", c.baseURL, phase)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build crew request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.HeaderName(), traceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("crew gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("crew gateway 5xx: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("crew gateway rejected submission: status %d body %q", resp.StatusCode, payload)
	}

	var parsed submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode crew response: %w", err)
	}
	if parsed.JobID == "" {
		return "", fmt.Errorf("crew gateway returned empty job id")
	}
	return parsed.JobID, nil
}
