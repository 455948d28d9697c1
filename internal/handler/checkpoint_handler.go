package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"startupai/internal/checkpoint"
	"startupai/internal/controller"
	"startupai/internal/model"
	"startupai/internal/pivot"
	"startupai/internal/repository"
	"startupai/pkg/rbac"
)

// CheckpointHandler serves checkpoint reads, ad-hoc creation, and
// resolution.
type CheckpointHandler struct {
	manager    *checkpoint.Manager
	controller *controller.Controller
	projects   *repository.ProjectRepository
	pivots     *pivot.Dispatcher
	logger     *zap.Logger
}

func NewCheckpointHandler(
	manager *checkpoint.Manager,
	ctrl *controller.Controller,
	projects *repository.ProjectRepository,
	pivots *pivot.Dispatcher,
	logger *zap.Logger,
) *CheckpointHandler {
	return &CheckpointHandler{
		manager:    manager,
		controller: ctrl,
		projects:   projects,
		pivots:     pivots,
		logger:     logger,
	}
}

// Get returns a checkpoint by id.
// GET /checkpoints/:id
func (h *CheckpointHandler) Get(c *gin.Context) {
	actor := MustActor(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid checkpoint id"})
		return
	}

	cp, err := h.manager.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "checkpoint not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load checkpoint"})
		return
	}

	project, err := h.projects.Get(c.Request.Context(), cp.ProjectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load project"})
		return
	}
	if project.OwnerID != actor.ID && actor.Role != rbac.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your project"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"checkpoint": cp})
}

type createCheckpointRequest struct {
	Type    model.CheckpointType `json:"type" binding:"required"`
	Payload map[string]any       `json:"payload"`
}

// Create opens an ad-hoc mid-phase approval (campaign launch, spend
// increase). Gate-driven checkpoints are created by the controller, never
// through this endpoint.
// POST /projects/:id/checkpoints
func (h *CheckpointHandler) Create(c *gin.Context) {
	actor := MustActor(c)

	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	var req createCheckpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if !req.Type.Valid() || !req.Type.AdHoc() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be an ad-hoc checkpoint type"})
		return
	}

	project, err := h.projects.Get(c.Request.Context(), projectID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load project"})
		return
	}
	if project.OwnerID != actor.ID && actor.Role != rbac.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your project"})
		return
	}

	cp, err := h.controller.RequestCheckpoint(c.Request.Context(), project.ID, req.Type, req.Payload)
	if err != nil {
		if errors.Is(err, model.ErrCheckpointOutstanding) {
			c.JSON(http.StatusConflict, gin.H{"error": "an approval checkpoint is still open"})
			return
		}
		if errors.Is(err, model.ErrConflictingRun) {
			c.JSON(http.StatusConflict, gin.H{"error": "an analysis run is active, wait for its result"})
			return
		}
		h.logger.Error("Ad-hoc checkpoint creation failed",
			zap.String("project_id", projectID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkpoint"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"checkpoint": cp})
}

type resolveRequest struct {
	Kind        model.DecisionKind `json:"kind" binding:"required"`
	PivotOption model.PivotOption  `json:"pivot_option,omitempty"`
	Parameters  map[string]any     `json:"parameters,omitempty"`
	Note        string             `json:"note,omitempty"`
}

// Resolve records the human decision and applies it to the state machine.
// Invalid pivot combinations are rejected before anything is recorded.
// POST /checkpoints/:id/resolve
func (h *CheckpointHandler) Resolve(c *gin.Context) {
	actor := MustActor(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid checkpoint id"})
		return
	}

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if !req.Kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown decision kind"})
		return
	}

	cp, err := h.manager.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "checkpoint not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load checkpoint"})
		return
	}

	project, err := h.projects.Get(c.Request.Context(), cp.ProjectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load project"})
		return
	}

	if req.Kind == model.DecisionPivot {
		if err := h.pivots.Validate(project.Phase, req.PivotOption); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
	}

	decision := model.Decision{
		Kind:        req.Kind,
		PivotOption: req.PivotOption,
		Parameters:  req.Parameters,
		Note:        req.Note,
	}

	resolved, err := h.manager.Resolve(c.Request.Context(), project, id, actor, decision)
	if err != nil {
		var denied *rbac.PermissionDeniedError
		switch {
		case errors.Is(err, model.ErrAlreadyResolved):
			c.JSON(http.StatusConflict, gin.H{"error": "checkpoint already resolved"})
		case errors.As(err, &denied):
			c.JSON(http.StatusForbidden, gin.H{"error": denied.Error()})
		default:
			h.logger.Error("Checkpoint resolution failed",
				zap.String("checkpoint_id", id.String()),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve checkpoint"})
		}
		return
	}

	if err := h.controller.OnCheckpointResolved(c.Request.Context(), resolved); err != nil {
		// The decision is recorded; the state transition hit an error.
		h.logger.Error("Post-resolution transition failed",
			zap.String("checkpoint_id", id.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{
			"checkpoint": resolved,
			"warning":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"checkpoint": resolved})
}
