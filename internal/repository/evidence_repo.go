package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"startupai/internal/model"
)

// EvidenceRepository is append-only. Evidence is never updated or deleted;
// gate evaluation reads the full set for a phase and resolves conflicts by
// recency.
type EvidenceRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewEvidenceRepository(db *pgxpool.Pool, logger *zap.Logger) *EvidenceRepository {
	return &EvidenceRepository{db: db, logger: logger}
}

func (r *EvidenceRepository) Insert(ctx context.Context, e *model.Evidence) error {
	r.logger.Debug("Inserting evidence",
		zap.String("project_id", e.ProjectID.String()),
		zap.String("phase", string(e.Phase)),
		zap.String("kind", e.Kind),
	)
	query := `
        INSERT INTO evidence (id, project_id, phase_run_id, phase, kind, metrics, artifact, quality_score)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING created_at
    `
	err := r.db.QueryRow(ctx, query,
		e.ID,
		e.ProjectID,
		e.PhaseRunID,
		e.Phase,
		e.Kind,
		e.Metrics,
		e.Artifact,
		e.QualityScore,
	).Scan(&e.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to insert evidence",
			zap.Error(err),
			zap.String("project_id", e.ProjectID.String()),
		)
		return err
	}
	r.logger.Info("Evidence recorded",
		zap.String("evidence_id", e.ID.String()),
		zap.String("project_id", e.ProjectID.String()),
		zap.String("phase", string(e.Phase)),
		zap.Float64("quality_score", e.QualityScore),
	)
	return nil
}

// ListByProjectPhase returns evidence in creation order, oldest first, so
// gate evaluation can let later entries override earlier ones.
func (r *EvidenceRepository) ListByProjectPhase(ctx context.Context, projectID uuid.UUID, phase model.Phase) ([]model.Evidence, error) {
	query := `
        SELECT id, project_id, phase_run_id, phase, kind, metrics, COALESCE(artifact, ''), quality_score, created_at
        FROM evidence
        WHERE project_id = $1 AND phase = $2
        ORDER BY created_at
    `
	rows, err := r.db.Query(ctx, query, projectID, phase)
	if err != nil {
		r.logger.Error("Failed to query evidence",
			zap.Error(err),
			zap.String("project_id", projectID.String()),
			zap.String("phase", string(phase)),
		)
		return nil, err
	}
	defer rows.Close()

	evidence := []model.Evidence{}
	for rows.Next() {
		var e model.Evidence
		if err := rows.Scan(
			&e.ID,
			&e.ProjectID,
			&e.PhaseRunID,
			&e.Phase,
			&e.Kind,
			&e.Metrics,
			&e.Artifact,
			&e.QualityScore,
			&e.CreatedAt,
		); err != nil {
			r.logger.Error("Failed to scan evidence row", zap.Error(err))
			return nil, err
		}
		evidence = append(evidence, e)
	}
	return evidence, rows.Err()
}
