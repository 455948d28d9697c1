package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"startupai/internal/model"
)

// PivotRepository records pivot decisions. Decisions are immutable history;
// there is no update path.
type PivotRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPivotRepository(db *pgxpool.Pool, logger *zap.Logger) *PivotRepository {
	return &PivotRepository{db: db, logger: logger}
}

func (r *PivotRepository) Insert(ctx context.Context, d *model.PivotDecision) error {
	query := `
        INSERT INTO pivot_decisions (id, project_id, checkpoint_id, from_phase, signal, option, target_phase, hypothesis, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err := r.db.Exec(ctx, query,
		d.ID,
		d.ProjectID,
		d.CheckpointID,
		d.FromPhase,
		d.Signal,
		d.Option,
		d.TargetPhase,
		d.Hypothesis,
		d.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert pivot decision",
			zap.Error(err),
			zap.String("project_id", d.ProjectID.String()),
			zap.String("option", string(d.Option)),
		)
		return err
	}
	r.logger.Info("Pivot decision recorded",
		zap.String("pivot_id", d.ID.String()),
		zap.String("project_id", d.ProjectID.String()),
		zap.String("option", string(d.Option)),
	)
	return nil
}

func (r *PivotRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]model.PivotDecision, error) {
	query := `
        SELECT id, project_id, checkpoint_id, from_phase, signal, option, target_phase, hypothesis, created_at
        FROM pivot_decisions
        WHERE project_id = $1
        ORDER BY created_at
    `
	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		r.logger.Error("Failed to query pivot decisions",
			zap.Error(err),
			zap.String("project_id", projectID.String()),
		)
		return nil, err
	}
	defer rows.Close()

	decisions := []model.PivotDecision{}
	for rows.Next() {
		var d model.PivotDecision
		if err := rows.Scan(
			&d.ID,
			&d.ProjectID,
			&d.CheckpointID,
			&d.FromPhase,
			&d.Signal,
			&d.Option,
			&d.TargetPhase,
			&d.Hypothesis,
			&d.CreatedAt,
		); err != nil {
			r.logger.Error("Failed to scan pivot decision row", zap.Error(err))
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}
