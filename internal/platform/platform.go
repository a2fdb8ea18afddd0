// Package platform defines the home automation collaborator hearth drives.
//
// A platform lists controllable entities and executes service calls against
// them. Home Assistant is the production backend; the static backend reads a
// YAML inventory for development.
package platform

import (
	"context"
	"log/slog"

	"github.com/nadzzz/hearth/internal/inventory"
)

// Platform is the interface every home automation backend implements.
type Platform interface {
	// Name returns the backend identifier (e.g., "homeassistant", "static").
	Name() string

	// ListEntities returns every entity the platform exposes for voice control.
	ListEntities(ctx context.Context) ([]inventory.Entity, error)

	// CallService executes action on a single entity with the given parameters.
	CallService(ctx context.Context, entityID, action string, params map[string]any) error
}

// AreaResolver is implemented by platforms that know which room a source
// device sits in.
type AreaResolver interface {
	SourceArea(ctx context.Context, sourceDeviceID string) (string, error)
}

// Rooms resolves the room a request came from. Configured mappings win over
// the platform's answer.
type Rooms struct {
	static   map[string]string
	resolver AreaResolver
}

// NewRooms creates a resolver from static mappings and an optional platform resolver.
func NewRooms(static map[string]string, resolver AreaResolver) *Rooms {
	m := make(map[string]string, len(static))
	for k, v := range static {
		m[k] = v
	}
	return &Rooms{static: m, resolver: resolver}
}

// SourceArea returns the room of sourceDeviceID, or "" when unknown.
func (r *Rooms) SourceArea(ctx context.Context, sourceDeviceID string) string {
	if sourceDeviceID == "" {
		return ""
	}
	if area, ok := r.static[sourceDeviceID]; ok {
		return area
	}
	if r.resolver == nil {
		return ""
	}
	area, err := r.resolver.SourceArea(ctx, sourceDeviceID)
	if err != nil {
		slog.Warn("resolving source area failed", "source", sourceDeviceID, "error", err)
		return ""
	}
	return area
}
