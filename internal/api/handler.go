package api

import (
	"entitlement-api/internal/services"
)

// Handler carries the injected validation service into the route handlers.
type Handler struct {
	validation *services.ValidationService
}

// NewHandler creates a new API handler
func NewHandler(validation *services.ValidationService) *Handler {
	return &Handler{validation: validation}
}
