package model

import (
	"time"

	"github.com/google/uuid"
)

// Project is the unit of validation. It is owned by exactly one principal
// (founder, or consultant acting for a client) and is mutated only by the
// phase controller. This subsystem never deletes projects.
type Project struct {
	ID         uuid.UUID      `json:"id"`
	OwnerID    uuid.UUID      `json:"owner_id"`
	Name       string         `json:"name"`
	Hypothesis map[string]any `json:"hypothesis"`
	Phase      Phase          `json:"phase"`
	Status     ProjectStatus  `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Actor is the authenticated principal acting on a project, extracted from
// the JWT by the HTTP layer.
type Actor struct {
	ID   uuid.UUID
	Role string
}
