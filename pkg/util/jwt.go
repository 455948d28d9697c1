package util

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ActorClaims is what the orchestrator needs from a token: who is acting
// and with which role. Token issuance belongs to the auth service.
type ActorClaims struct {
	ActorID uuid.UUID
	Role    string
}

// GenerateJWT creates a token for an actor. Used by tests and seed tooling.
func GenerateJWT(actorID uuid.UUID, role string, secret string) (string, error) {
	claims := jwt.MapClaims{
		"actor_id": actorID.String(),
		"role":     role,
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
		"iat":      time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseJWT validates the token and extracts the actor claims.
func ParseJWT(tokenStr, secret string) (*ActorClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenMalformed
	}

	actorIDStr, ok := claims["actor_id"].(string)
	if !ok {
		return nil, jwt.ErrTokenMalformed
	}
	actorID, err := uuid.Parse(actorIDStr)
	if err != nil {
		return nil, jwt.ErrTokenMalformed
	}

	role, ok := claims["role"].(string)
	if !ok {
		return nil, jwt.ErrTokenMalformed
	}

	return &ActorClaims{ActorID: actorID, Role: role}, nil
}

// ExtractBearer pulls the token out of an Authorization header value.
func ExtractBearer(header string) string {
	if header == "" {
		return ""
	}

	parts := strings.Split(header, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}
