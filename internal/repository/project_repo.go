package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"startupai/internal/model"
)

type ProjectRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewProjectRepository(db *pgxpool.Pool, logger *zap.Logger) *ProjectRepository {
	return &ProjectRepository{db: db, logger: logger}
}

func (r *ProjectRepository) Insert(ctx context.Context, p *model.Project) error {
	r.logger.Debug("Inserting project",
		zap.String("owner_id", p.OwnerID.String()),
		zap.String("name", p.Name),
	)
	query := `
        INSERT INTO projects (id, owner_id, name, hypothesis, phase, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING created_at, updated_at
    `
	err := r.db.QueryRow(ctx, query,
		p.ID,
		p.OwnerID,
		p.Name,
		p.Hypothesis,
		p.Phase,
		p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to insert project",
			zap.Error(err),
			zap.String("owner_id", p.OwnerID.String()),
		)
		return err
	}
	r.logger.Info("Project inserted successfully",
		zap.String("project_id", p.ID.String()),
		zap.String("owner_id", p.OwnerID.String()),
	)
	return nil
}

func (r *ProjectRepository) Get(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	query := `
        SELECT id, owner_id, name, hypothesis, phase, status, created_at, updated_at
        FROM projects
        WHERE id = $1
    `
	var p model.Project
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.OwnerID,
		&p.Name,
		&p.Hypothesis,
		&p.Phase,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to query project",
			zap.Error(err),
			zap.String("project_id", id.String()),
		)
		return nil, err
	}
	return &p, nil
}

// UpdatePhase moves the project to a new phase and status in one statement.
func (r *ProjectRepository) UpdatePhase(ctx context.Context, id uuid.UUID, phase model.Phase, status model.ProjectStatus) error {
	query := `
        UPDATE projects
        SET phase = $2, status = $3, updated_at = NOW()
        WHERE id = $1
    `
	result, err := r.db.Exec(ctx, query, id, phase, status)
	if err != nil {
		r.logger.Error("Failed to update project phase",
			zap.Error(err),
			zap.String("project_id", id.String()),
		)
		return err
	}
	if result.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	r.logger.Info("Project phase updated",
		zap.String("project_id", id.String()),
		zap.String("phase", string(phase)),
		zap.String("status", string(status)),
	)
	return nil
}

func (r *ProjectRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ProjectStatus) error {
	query := `
        UPDATE projects
        SET status = $2, updated_at = NOW()
        WHERE id = $1
    `
	result, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		r.logger.Error("Failed to update project status",
			zap.Error(err),
			zap.String("project_id", id.String()),
		)
		return err
	}
	if result.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	r.logger.Info("Project status updated",
		zap.String("project_id", id.String()),
		zap.String("status", string(status)),
	)
	return nil
}

// AmendHypothesis merges the given parameters into the stored hypothesis.
// Used when a pivot decision restarts the journey with amended assumptions.
func (r *ProjectRepository) AmendHypothesis(ctx context.Context, id uuid.UUID, parameters map[string]any) error {
	query := `
        UPDATE projects
        SET hypothesis = hypothesis || $2::jsonb, updated_at = NOW()
        WHERE id = $1
    `
	result, err := r.db.Exec(ctx, query, id, parameters)
	if err != nil {
		r.logger.Error("Failed to amend project hypothesis",
			zap.Error(err),
			zap.String("project_id", id.String()),
		)
		return err
	}
	if result.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *ProjectRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Project, error) {
	query := `
        SELECT id, owner_id, name, hypothesis, phase, status, created_at, updated_at
        FROM projects
        WHERE owner_id = $1
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		r.logger.Error("Failed to query projects by owner",
			zap.Error(err),
			zap.String("owner_id", ownerID.String()),
		)
		return nil, err
	}
	defer rows.Close()

	projects := []model.Project{}
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(
			&p.ID,
			&p.OwnerID,
			&p.Name,
			&p.Hypothesis,
			&p.Phase,
			&p.Status,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			r.logger.Error("Failed to scan project row", zap.Error(err))
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
