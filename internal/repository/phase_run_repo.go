package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"startupai/internal/model"
)

type PhaseRunRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPhaseRunRepository(db *pgxpool.Pool, logger *zap.Logger) *PhaseRunRepository {
	return &PhaseRunRepository{db: db, logger: logger}
}

// InsertActive starts a run for the project. The WHERE NOT EXISTS guard
// enforces at most one running run per project inside the database, so two
// concurrent starts cannot both succeed. Returns ErrConflictingRun for the
// loser.
func (r *PhaseRunRepository) InsertActive(ctx context.Context, run *model.PhaseRun) error {
	r.logger.Debug("Inserting phase run",
		zap.String("project_id", run.ProjectID.String()),
		zap.String("phase", string(run.Phase)),
	)
	query := `
        INSERT INTO phase_runs (id, project_id, phase, job_id, status, parameters, started_at)
        SELECT $1, $2, $3, $4, 'running', $5, NOW()
        WHERE NOT EXISTS (
            SELECT 1 FROM phase_runs
            WHERE project_id = $2 AND status = 'running'
        )
        RETURNING started_at
    `
	err := r.db.QueryRow(ctx, query,
		run.ID,
		run.ProjectID,
		run.Phase,
		run.JobID,
		run.Parameters,
	).Scan(&run.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.Warn("Rejected conflicting phase run",
			zap.String("project_id", run.ProjectID.String()),
			zap.String("phase", string(run.Phase)),
		)
		return model.ErrConflictingRun
	}
	if err != nil {
		r.logger.Error("Failed to insert phase run",
			zap.Error(err),
			zap.String("project_id", run.ProjectID.String()),
		)
		return err
	}
	run.Status = model.RunRunning
	r.logger.Info("Phase run started",
		zap.String("run_id", run.ID.String()),
		zap.String("project_id", run.ProjectID.String()),
		zap.String("phase", string(run.Phase)),
		zap.String("job_id", run.JobID),
	)
	return nil
}

func (r *PhaseRunRepository) Get(ctx context.Context, id uuid.UUID) (*model.PhaseRun, error) {
	query := `
        SELECT id, project_id, phase, job_id, status, COALESCE(outcome, ''),
               COALESCE(failure_reason, ''), parameters, started_at, finished_at
        FROM phase_runs
        WHERE id = $1
    `
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// GetByJobID resolves the run a crew result message belongs to.
func (r *PhaseRunRepository) GetByJobID(ctx context.Context, jobID string) (*model.PhaseRun, error) {
	query := `
        SELECT id, project_id, phase, job_id, status, COALESCE(outcome, ''),
               COALESCE(failure_reason, ''), parameters, started_at, finished_at
        FROM phase_runs
        WHERE job_id = $1
        ORDER BY started_at DESC
        LIMIT 1
    `
	return r.scanOne(r.db.QueryRow(ctx, query, jobID))
}

// GetActiveByProject returns the project's running run, if any.
func (r *PhaseRunRepository) GetActiveByProject(ctx context.Context, projectID uuid.UUID) (*model.PhaseRun, error) {
	query := `
        SELECT id, project_id, phase, job_id, status, COALESCE(outcome, ''),
               COALESCE(failure_reason, ''), parameters, started_at, finished_at
        FROM phase_runs
        WHERE project_id = $1 AND status = 'running'
    `
	return r.scanOne(r.db.QueryRow(ctx, query, projectID))
}

// SetJobID records the crew gateway's job id once submission succeeds. The
// run row is inserted before the job is submitted so the one-active-run
// guard holds even if submission fails.
func (r *PhaseRunRepository) SetJobID(ctx context.Context, id uuid.UUID, jobID string) error {
	query := `
        UPDATE phase_runs
        SET job_id = $2
        WHERE id = $1
    `
	result, err := r.db.Exec(ctx, query, id, jobID)
	if err != nil {
		r.logger.Error("Failed to set phase run job id",
			zap.Error(err),
			zap.String("run_id", id.String()),
		)
		return err
	}
	if result.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// Finish closes a running run exactly once. Returns ErrNotFound when the
// run is absent or already finished, which makes redelivered result
// messages harmless.
func (r *PhaseRunRepository) Finish(ctx context.Context, id uuid.UUID, outcome model.RunOutcome, failureReason string) error {
	query := `
        UPDATE phase_runs
        SET status = 'finished', outcome = $2, failure_reason = $3, finished_at = NOW()
        WHERE id = $1 AND status = 'running'
    `
	result, err := r.db.Exec(ctx, query, id, outcome, failureReason)
	if err != nil {
		r.logger.Error("Failed to finish phase run",
			zap.Error(err),
			zap.String("run_id", id.String()),
		)
		return err
	}
	if result.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	r.logger.Info("Phase run finished",
		zap.String("run_id", id.String()),
		zap.String("outcome", string(outcome)),
	)
	return nil
}

// ListTimedOut returns running runs older than the max duration. The
// reconciliation sweep closes them as timed out.
func (r *PhaseRunRepository) ListTimedOut(ctx context.Context, olderThan time.Duration, limit int) ([]model.PhaseRun, error) {
	query := `
        SELECT id, project_id, phase, job_id, status, COALESCE(outcome, ''),
               COALESCE(failure_reason, ''), parameters, started_at, finished_at
        FROM phase_runs
        WHERE status = 'running' AND started_at < NOW() - $1::interval
        ORDER BY started_at
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		r.logger.Error("Failed to query timed out runs", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	runs := []model.PhaseRun{}
	for rows.Next() {
		run, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (r *PhaseRunRepository) scanOne(row pgx.Row) (*model.PhaseRun, error) {
	var run model.PhaseRun
	err := row.Scan(
		&run.ID,
		&run.ProjectID,
		&run.Phase,
		&run.JobID,
		&run.Status,
		&run.Outcome,
		&run.FailureReason,
		&run.Parameters,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to scan phase run row", zap.Error(err))
		return nil, err
	}
	return &run, nil
}
