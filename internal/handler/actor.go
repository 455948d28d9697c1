package handler

import (
	"github.com/gin-gonic/gin"

	"startupai/internal/model"
)

const actorContextKey = "actor"

// SetActor stores the authenticated actor on the gin context. Called by the
// auth middleware.
func SetActor(c *gin.Context, actor model.Actor) {
	c.Set(actorContextKey, actor)
}

// MustActor returns the actor placed by the auth middleware. Routes using
// it are always behind that middleware, so a missing actor is a programming
// error and yields a zero actor that fails every ownership check.
func MustActor(c *gin.Context) model.Actor {
	v, ok := c.Get(actorContextKey)
	if !ok {
		return model.Actor{}
	}
	actor, _ := v.(model.Actor)
	return actor
}
