package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"startupai/internal/checkpoint"
	"startupai/internal/model"
	"startupai/pkg/outbox"
)

// CheckpointRepository persists checkpoints, their escalation timer rows,
// and the outbox event describing each change in a single transaction.
type CheckpointRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewCheckpointRepository(db *pgxpool.Pool, ob *outbox.Repository, logger *zap.Logger) *CheckpointRepository {
	return &CheckpointRepository{db: db, outbox: ob, logger: logger}
}

// Create inserts the checkpoint, its escalation schedule, and the created
// event atomically. The WHERE NOT EXISTS guard enforces at most one
// unresolved checkpoint per project; the loser of a concurrent create gets
// ErrCheckpointOutstanding and nothing is written.
func (r *CheckpointRepository) Create(ctx context.Context, cp *model.Checkpoint, schedule []checkpoint.ScheduledEscalation, event *outbox.Event) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.logger.Error("Failed to begin checkpoint transaction", zap.Error(err))
		return err
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO checkpoints (id, project_id, phase_run_id, phase, type, status, gate_signal, payload, created_at)
        SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
        WHERE NOT EXISTS (
            SELECT 1 FROM checkpoints
            WHERE project_id = $2 AND status IN ('pending', 'escalated')
        )
        RETURNING id
    `
	var inserted uuid.UUID
	err = tx.QueryRow(ctx, query,
		cp.ID,
		cp.ProjectID,
		cp.PhaseRunID,
		cp.Phase,
		cp.Type,
		cp.Status,
		cp.GateSignal,
		cp.Payload,
		cp.CreatedAt,
	).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.Warn("Rejected second unresolved checkpoint",
			zap.String("project_id", cp.ProjectID.String()),
			zap.String("type", string(cp.Type)),
		)
		return model.ErrCheckpointOutstanding
	}
	if err != nil {
		r.logger.Error("Failed to insert checkpoint",
			zap.Error(err),
			zap.String("project_id", cp.ProjectID.String()),
		)
		return err
	}

	for _, esc := range schedule {
		_, err := tx.Exec(ctx, `
            INSERT INTO escalations (id, checkpoint_id, project_id, tier, due_at)
            VALUES ($1, $2, $3, $4, $5)
        `, esc.ID, esc.CheckpointID, esc.ProjectID, esc.Tier, esc.DueAt)
		if err != nil {
			r.logger.Error("Failed to insert escalation row",
				zap.Error(err),
				zap.String("checkpoint_id", cp.ID.String()),
				zap.String("tier", esc.Tier),
			)
			return err
		}
	}

	if err := r.outbox.InsertEvent(ctx, tx, event); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *CheckpointRepository) Get(ctx context.Context, id uuid.UUID) (*model.Checkpoint, error) {
	query := `
        SELECT id, project_id, phase_run_id, phase, type, status, escalation_level,
               COALESCE(gate_signal, ''), payload, decision, created_at, resolved_at, resolved_by
        FROM checkpoints
        WHERE id = $1
    `
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// GetUnresolvedByProject returns the project's open checkpoint, if any.
func (r *CheckpointRepository) GetUnresolvedByProject(ctx context.Context, projectID uuid.UUID) (*model.Checkpoint, error) {
	query := `
        SELECT id, project_id, phase_run_id, phase, type, status, escalation_level,
               COALESCE(gate_signal, ''), payload, decision, created_at, resolved_at, resolved_by
        FROM checkpoints
        WHERE project_id = $1 AND status IN ('pending', 'escalated')
    `
	return r.scanOne(r.db.QueryRow(ctx, query, projectID))
}

// Resolve records the decision exactly once. The status guard makes
// concurrent resolvers race on the update; exactly one row wins and every
// other attempt sees ErrAlreadyResolved. Pending escalation timers are
// removed and the resolved event joins the same transaction.
func (r *CheckpointRepository) Resolve(ctx context.Context, id uuid.UUID, status model.CheckpointStatus, decision *model.Decision, actorID uuid.UUID, event *outbox.Event) (*model.Checkpoint, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.logger.Error("Failed to begin resolve transaction", zap.Error(err))
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
        UPDATE checkpoints
        SET status = $2, decision = $3, resolved_at = NOW(), resolved_by = $4
        WHERE id = $1 AND status IN ('pending', 'escalated')
        RETURNING id, project_id, phase_run_id, phase, type, status, escalation_level,
                  COALESCE(gate_signal, ''), payload, decision, created_at, resolved_at, resolved_by
    `
	cp, err := r.scanOne(tx.QueryRow(ctx, query, id, status, decision, actorID))
	if errors.Is(err, model.ErrNotFound) {
		// Distinguish a missing checkpoint from one already terminal.
		existing, getErr := r.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Status.Terminal() {
			return nil, model.ErrAlreadyResolved
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
        DELETE FROM escalations
        WHERE checkpoint_id = $1 AND fired_at IS NULL
    `, id); err != nil {
		r.logger.Error("Failed to cancel escalation timers",
			zap.Error(err),
			zap.String("checkpoint_id", id.String()),
		)
		return nil, err
	}

	if err := r.outbox.InsertEvent(ctx, tx, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	r.logger.Info("Checkpoint resolution committed",
		zap.String("checkpoint_id", id.String()),
		zap.String("status", string(status)),
	)
	return cp, nil
}

// DueEscalations returns unfired timers whose due time has passed, oldest
// first so tiers fire in order.
func (r *CheckpointRepository) DueEscalations(ctx context.Context, now time.Time, limit int) ([]*checkpoint.ScheduledEscalation, error) {
	query := `
        SELECT id, checkpoint_id, project_id, tier, due_at
        FROM escalations
        WHERE fired_at IS NULL AND due_at <= $1
        ORDER BY due_at
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		r.logger.Error("Failed to query due escalations", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	due := []*checkpoint.ScheduledEscalation{}
	for rows.Next() {
		var esc checkpoint.ScheduledEscalation
		if err := rows.Scan(&esc.ID, &esc.CheckpointID, &esc.ProjectID, &esc.Tier, &esc.DueAt); err != nil {
			r.logger.Error("Failed to scan escalation row", zap.Error(err))
			return nil, err
		}
		due = append(due, &esc)
	}
	return due, rows.Err()
}

// MarkEscalated consumes a fired timer and raises the checkpoint's
// escalation level. The level never moves backwards and terminal
// checkpoints are left untouched. Status moves to escalated only when the
// firing tier asks for it.
func (r *CheckpointRepository) MarkEscalated(ctx context.Context, escalationID, checkpointID uuid.UUID, level int, setEscalated bool) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
        UPDATE escalations SET fired_at = NOW() WHERE id = $1
    `, escalationID); err != nil {
		r.logger.Error("Failed to mark escalation fired",
			zap.Error(err),
			zap.String("escalation_id", escalationID.String()),
		)
		return err
	}

	if _, err := tx.Exec(ctx, `
        UPDATE checkpoints
        SET escalation_level = GREATEST(escalation_level, $2),
            status = CASE WHEN $3 AND status = 'pending' THEN 'escalated' ELSE status END
        WHERE id = $1 AND status IN ('pending', 'escalated')
    `, checkpointID, level, setEscalated); err != nil {
		r.logger.Error("Failed to raise checkpoint escalation level",
			zap.Error(err),
			zap.String("checkpoint_id", checkpointID.String()),
		)
		return err
	}

	return tx.Commit(ctx)
}

func (r *CheckpointRepository) scanOne(row pgx.Row) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := row.Scan(
		&cp.ID,
		&cp.ProjectID,
		&cp.PhaseRunID,
		&cp.Phase,
		&cp.Type,
		&cp.Status,
		&cp.EscalationLevel,
		&cp.GateSignal,
		&cp.Payload,
		&cp.Decision,
		&cp.CreatedAt,
		&cp.ResolvedAt,
		&cp.ResolvedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to scan checkpoint row", zap.Error(err))
		return nil, err
	}
	return &cp, nil
}
