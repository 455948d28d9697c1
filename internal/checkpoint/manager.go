package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "startupai/contracts/mq"
	"startupai/internal/model"
	"startupai/pkg/config"
	"startupai/pkg/metrics"
	"startupai/pkg/outbox"
	"startupai/pkg/rbac"
	"startupai/pkg/trace"
)

// Escalation tier names, in firing order.
const (
	TierReminder   = "reminder"
	TierUrgent     = "urgent"
	TierAutoPause  = "auto_pause"
	TierAutoExpire = "auto_expire"
)

// tierLevel maps a tier to the escalation level it leaves on the checkpoint.
var tierLevel = map[string]int{
	TierReminder:   1,
	TierUrgent:     2,
	TierAutoPause:  3,
	TierAutoExpire: 4,
}

// ScheduledEscalation is a durable timer row. Rows are written in the same
// transaction as their checkpoint and swept by the escalation runner, so
// timers survive process restarts.
type ScheduledEscalation struct {
	ID           uuid.UUID
	CheckpointID uuid.UUID
	ProjectID    uuid.UUID
	Tier         string
	DueAt        time.Time
}

// Store persists checkpoints together with their escalation schedule. Create
// and Resolve run as single transactions: the checkpoint change, the
// escalation rows, and the outbox event commit or roll back together.
type Store interface {
	Create(ctx context.Context, cp *model.Checkpoint, schedule []ScheduledEscalation, event *outbox.Event) error
	Get(ctx context.Context, id uuid.UUID) (*model.Checkpoint, error)
	GetUnresolvedByProject(ctx context.Context, projectID uuid.UUID) (*model.Checkpoint, error)
	Resolve(ctx context.Context, id uuid.UUID, status model.CheckpointStatus, decision *model.Decision, actorID uuid.UUID, event *outbox.Event) (*model.Checkpoint, error)
	DueEscalations(ctx context.Context, now time.Time, limit int) ([]*ScheduledEscalation, error)
	MarkEscalated(ctx context.Context, escalationID, checkpointID uuid.UUID, level int, setEscalated bool) error
}

// ProjectStore is the slice of project persistence the manager needs when a
// terminal escalation tier fires.
type ProjectStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Project, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ProjectStatus) error
}

// Emitter writes notification events through the outbox.
type Emitter interface {
	Emit(ctx context.Context, aggregateType string, aggregateID uuid.UUID, routingKey string, payload any) error
}

// Manager owns the checkpoint lifecycle: creation with a durable escalation
// schedule, single resolution, and sweeping of due escalation tiers.
type Manager struct {
	store    Store
	projects ProjectStore
	emitter  Emitter
	tiers    config.EscalationConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewManager(store Store, projects ProjectStore, emitter Emitter, tiers config.EscalationConfig, logger *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		projects: projects,
		emitter:  emitter,
		tiers:    tiers,
		logger:   logger,
		now:      time.Now,
	}
}

// Create opens a checkpoint for the project. The store enforces the
// one-unresolved-checkpoint rule and returns ErrCheckpointOutstanding when
// it is violated.
func (m *Manager) Create(
	ctx context.Context,
	project *model.Project,
	phaseRunID *uuid.UUID,
	cpType model.CheckpointType,
	gateSignal model.Signal,
	payload map[string]any,
) (*model.Checkpoint, error) {
	if !cpType.Valid() {
		return nil, fmt.Errorf("unknown checkpoint type %q", cpType)
	}

	now := m.now()
	cp := &model.Checkpoint{
		ID:         uuid.New(),
		ProjectID:  project.ID,
		PhaseRunID: phaseRunID,
		Phase:      project.Phase,
		Type:       cpType,
		Status:     model.CheckpointPending,
		GateSignal: gateSignal,
		Payload:    payload,
		CreatedAt:  now,
	}

	event, err := buildEvent("checkpoint", cp.ID, mqcontracts.RoutingKeyCheckpointCreated, mqcontracts.CheckpointCreatedPayload{
		CheckpointID: cp.ID.String(),
		ProjectID:    project.ID.String(),
		Phase:        string(project.Phase),
		Type:         string(cpType),
		GateSignal:   string(gateSignal),
		TraceID:      trace.FromContext(ctx),
	})
	if err != nil {
		return nil, err
	}

	if err := m.store.Create(ctx, cp, m.buildSchedule(cp, now), event); err != nil {
		return nil, err
	}

	m.logger.Info("Checkpoint created",
		zap.String("checkpoint_id", cp.ID.String()),
		zap.String("project_id", project.ID.String()),
		zap.String("type", string(cpType)),
		zap.String("phase", string(project.Phase)),
		zap.String("gate_signal", string(gateSignal)),
	)

	return cp, nil
}

// buildSchedule turns the configured tier durations into timer rows. A zero
// duration disables its tier.
func (m *Manager) buildSchedule(cp *model.Checkpoint, from time.Time) []ScheduledEscalation {
	durations := []struct {
		tier string
		d    time.Duration
	}{
		{TierReminder, m.tiers.Reminder},
		{TierUrgent, m.tiers.Urgent},
		{TierAutoPause, m.tiers.AutoPause},
		{TierAutoExpire, m.tiers.AutoExpire},
	}

	schedule := make([]ScheduledEscalation, 0, len(durations))
	for _, e := range durations {
		if e.d <= 0 {
			continue
		}
		schedule = append(schedule, ScheduledEscalation{
			ID:           uuid.New(),
			CheckpointID: cp.ID,
			ProjectID:    cp.ProjectID,
			Tier:         e.tier,
			DueAt:        from.Add(e.d),
		})
	}
	return schedule
}

// Get returns the checkpoint by id.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*model.Checkpoint, error) {
	return m.store.Get(ctx, id)
}

// GetUnresolvedByProject returns the project's open checkpoint, or
// ErrNotFound when every checkpoint is terminal.
func (m *Manager) GetUnresolvedByProject(ctx context.Context, projectID uuid.UUID) (*model.Checkpoint, error) {
	return m.store.GetUnresolvedByProject(ctx, projectID)
}

// Resolve records the actor's decision exactly once. A checkpoint already in
// a terminal state yields ErrAlreadyResolved; concurrent resolvers therefore
// race on a guarded update and exactly one wins. Only the project owner or
// an admin may resolve.
func (m *Manager) Resolve(
	ctx context.Context,
	project *model.Project,
	checkpointID uuid.UUID,
	actor model.Actor,
	decision model.Decision,
) (*model.Checkpoint, error) {
	if err := rbac.CheckPermission(actor.Role, rbac.PermissionResolveCheckpoint); err != nil {
		return nil, err
	}
	if actor.ID != project.OwnerID && actor.Role != rbac.RoleAdmin {
		return nil, &rbac.PermissionDeniedError{Role: actor.Role, Permission: rbac.PermissionResolveCheckpoint}
	}
	if !decision.Kind.Valid() {
		return nil, fmt.Errorf("unknown decision kind %q", decision.Kind)
	}

	status, err := statusForDecision(decision.Kind)
	if err != nil {
		return nil, err
	}

	event, err := buildEvent("checkpoint", checkpointID, mqcontracts.RoutingKeyCheckpointResolved, mqcontracts.CheckpointResolvedPayload{
		CheckpointID: checkpointID.String(),
		ProjectID:    project.ID.String(),
		Decision:     string(decision.Kind),
		ResolvedBy:   actor.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	cp, err := m.store.Resolve(ctx, checkpointID, status, &decision, actor.ID, event)
	if err != nil {
		return nil, err
	}

	metrics.IncrementCheckpointResolution(string(cp.Type), string(decision.Kind))
	m.logger.Info("Checkpoint resolved",
		zap.String("checkpoint_id", checkpointID.String()),
		zap.String("project_id", project.ID.String()),
		zap.String("decision", string(decision.Kind)),
		zap.String("resolved_by", actor.ID.String()),
	)

	return cp, nil
}

func statusForDecision(kind model.DecisionKind) (model.CheckpointStatus, error) {
	switch kind {
	case model.DecisionApprove, model.DecisionPivot:
		return model.CheckpointApproved, nil
	case model.DecisionRevise:
		return model.CheckpointRevised, nil
	case model.DecisionReject:
		return model.CheckpointRejected, nil
	}
	return "", fmt.Errorf("unknown decision kind %q", kind)
}

// EscalateDue fires every escalation tier whose due time has passed. Called
// by the escalation runner on a ticker. Returns how many tiers fired.
//
// Reminder and urgent tiers raise the escalation level and notify. The
// auto-pause tier additionally pauses the project; auto-expire closes the
// checkpoint as auto_expired.
func (m *Manager) EscalateDue(ctx context.Context, limit int) (int, error) {
	due, err := m.store.DueEscalations(ctx, m.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load due escalations: %w", err)
	}

	fired := 0
	for _, esc := range due {
		if err := m.fire(ctx, esc); err != nil {
			m.logger.Error("Escalation tier failed",
				zap.String("escalation_id", esc.ID.String()),
				zap.String("checkpoint_id", esc.CheckpointID.String()),
				zap.String("tier", esc.Tier),
				zap.Error(err),
			)
			continue
		}
		fired++
	}
	return fired, nil
}

func (m *Manager) fire(ctx context.Context, esc *ScheduledEscalation) error {
	cp, err := m.store.Get(ctx, esc.CheckpointID)
	if err != nil {
		return err
	}
	if cp.Status.Terminal() {
		// Resolved between scheduling and sweep; consume the timer quietly.
		return m.store.MarkEscalated(ctx, esc.ID, esc.CheckpointID, cp.EscalationLevel, false)
	}

	level := tierLevel[esc.Tier]

	switch esc.Tier {
	case TierAutoPause:
		if err := m.pauseProject(ctx, esc.ProjectID, cp); err != nil {
			return err
		}
	case TierAutoExpire:
		expired := &model.Decision{Kind: model.DecisionReject, Note: "auto-expired: no response within the escalation window"}
		event, err := buildEvent("checkpoint", cp.ID, mqcontracts.RoutingKeyCheckpointResolved, mqcontracts.CheckpointResolvedPayload{
			CheckpointID: cp.ID.String(),
			ProjectID:    cp.ProjectID.String(),
			Decision:     string(model.CheckpointAutoExpired),
			ResolvedBy:   uuid.Nil.String(),
		})
		if err != nil {
			return err
		}
		if _, err := m.store.Resolve(ctx, cp.ID, model.CheckpointAutoExpired, expired, uuid.Nil, event); err != nil {
			return err
		}
	}

	// Reminder and urgent tiers leave the checkpoint status untouched;
	// only the auto-pause tier moves pending to escalated.
	if err := m.store.MarkEscalated(ctx, esc.ID, esc.CheckpointID, level, esc.Tier == TierAutoPause); err != nil {
		return err
	}

	if err := m.emitter.Emit(ctx, "checkpoint", cp.ID, mqcontracts.RoutingKeyCheckpointEscalated, mqcontracts.CheckpointEscalatedPayload{
		CheckpointID:    cp.ID.String(),
		ProjectID:       cp.ProjectID.String(),
		Tier:            esc.Tier,
		EscalationLevel: level,
	}); err != nil {
		return err
	}

	metrics.IncrementEscalation(esc.Tier)
	m.logger.Warn("Checkpoint escalated",
		zap.String("checkpoint_id", cp.ID.String()),
		zap.String("project_id", cp.ProjectID.String()),
		zap.String("tier", esc.Tier),
		zap.Int("level", level),
	)

	return nil
}

func (m *Manager) pauseProject(ctx context.Context, projectID uuid.UUID, cp *model.Checkpoint) error {
	project, err := m.projects.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if project.Status == model.StatusPaused {
		return nil
	}

	if err := m.projects.UpdateStatus(ctx, projectID, model.StatusPaused); err != nil {
		return err
	}

	return m.emitter.Emit(ctx, "project", projectID, mqcontracts.RoutingKeyProjectPaused, mqcontracts.ProjectStatusPayload{
		ProjectID: projectID.String(),
		Phase:     string(project.Phase),
		Status:    string(model.StatusPaused),
		Reason:    fmt.Sprintf("checkpoint %s unanswered past the auto-pause window", cp.ID),
	})
}

func buildEvent(aggregateType string, aggregateID uuid.UUID, routingKey string, payload any) (*outbox.Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", routingKey, err)
	}
	id := aggregateID
	return &outbox.Event{
		AggregateType: aggregateType,
		AggregateID:   &id,
		RoutingKey:    routingKey,
		Payload:       body,
		Status:        "pending",
	}, nil
}
