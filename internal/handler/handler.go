// Package handler provides the HTTP and WebSocket handlers of the reference
// cart API.
package handler

import "github.com/vyrodovalexey/cartsync/internal/model"

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status string `json:"status"`
}

// EventPublisher delivers cart events to the subscribers of one user.
type EventPublisher interface {
	Publish(owner string, event model.CartEvent)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, model.CartEvent) {}
