package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"startupai/internal/controller"
	"startupai/internal/model"
	"startupai/pkg/rbac"
)

// ProjectHandler serves project creation, state and phase control.
type ProjectHandler struct {
	controller *controller.Controller
	state      *StateReader
	logger     *zap.Logger
}

func NewProjectHandler(ctrl *controller.Controller, state *StateReader, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{controller: ctrl, state: state, logger: logger}
}

type createProjectRequest struct {
	Name       string         `json:"name" binding:"required"`
	Hypothesis map[string]any `json:"hypothesis"`
}

// List returns the caller's projects.
// GET /projects
func (h *ProjectHandler) List(c *gin.Context) {
	actor := MustActor(c)

	projects, err := h.state.ListByOwner(c.Request.Context(), actor.ID)
	if err != nil {
		h.logger.Error("Project list failed",
			zap.String("owner_id", actor.ID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list projects"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// CreateProject registers a business idea and starts discovery.
// POST /projects
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	actor := MustActor(c)

	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	project, err := h.controller.CreateProject(c.Request.Context(), actor, req.Name, req.Hypothesis)
	if err != nil {
		var denied *rbac.PermissionDeniedError
		switch {
		case errors.As(err, &denied):
			c.JSON(http.StatusForbidden, gin.H{"error": denied.Error()})
		case project != nil:
			// The project exists but discovery could not start.
			c.JSON(http.StatusAccepted, gin.H{
				"project": project,
				"warning": "discovery start failed, re-run via the phase start endpoint",
			})
		default:
			h.logger.Error("Project creation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create project"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"project": project})
}

// GetState returns the project with its active run, open checkpoint, and
// pivot history.
// GET /projects/:id/state
func (h *ProjectHandler) GetState(c *gin.Context) {
	actor := MustActor(c)

	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	state, err := h.state.Load(c.Request.Context(), projectID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		h.logger.Error("Failed to load project state",
			zap.String("project_id", projectID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load project state"})
		return
	}

	if state.Project.OwnerID != actor.ID && actor.Role != rbac.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your project"})
		return
	}

	c.JSON(http.StatusOK, state)
}

type startPhaseRequest struct {
	Parameters map[string]any `json:"parameters"`
}

// StartPhase starts (or manually re-runs) the project's current phase.
// POST /projects/:id/phases/:phase/start
func (h *ProjectHandler) StartPhase(c *gin.Context) {
	actor := MustActor(c)

	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}
	phase := model.Phase(c.Param("phase"))
	if !phase.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown phase"})
		return
	}

	state, err := h.state.Load(c.Request.Context(), projectID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load project"})
		return
	}
	if state.Project.OwnerID != actor.ID && actor.Role != rbac.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your project"})
		return
	}

	var req startPhaseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	if err := h.controller.StartPhase(c.Request.Context(), projectID, phase, req.Parameters); err != nil {
		switch {
		case errors.Is(err, model.ErrConflictingRun):
			c.JSON(http.StatusConflict, gin.H{"error": "a phase run is already active"})
		case errors.Is(err, model.ErrCheckpointOutstanding):
			c.JSON(http.StatusConflict, gin.H{"error": "an approval checkpoint is still open"})
		default:
			h.logger.Error("Phase start failed",
				zap.String("project_id", projectID.String()),
				zap.String("phase", string(phase)),
				zap.Error(err),
			)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "started", "phase": phase})
}
