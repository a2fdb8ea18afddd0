// Package static implements platform.Platform from a YAML inventory file.
//
// It is meant for development and demos without a live home platform:
// service calls are logged and recorded, and entities marked offline fail.
//
//	sources:
//	  satellite.kitchen: Kitchen
//	entities:
//	  - id: light.kitchen
//	    name: Kitchen Light
//	    area: Kitchen
//	    state: "off"
package static

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nadzzz/hearth/internal/inventory"
)

// Call is one recorded service invocation.
type Call struct {
	EntityID string
	Action   string
	Params   map[string]any
}

type fileEntity struct {
	inventory.Entity `yaml:",inline"`
	Offline          bool `yaml:"offline"`
}

type file struct {
	Sources  map[string]string `yaml:"sources"`
	Entities []fileEntity      `yaml:"entities"`
}

// Platform serves a fixed inventory.
type Platform struct {
	mu       sync.Mutex
	entities []inventory.Entity
	offline  map[string]bool
	sources  map[string]string
	calls    []Call
}

// Load reads a YAML inventory file.
func Load(path string) (*Platform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory file: %w", err)
	}
	return Parse(data)
}

// Parse builds a platform from YAML inventory bytes.
func Parse(data []byte) (*Platform, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing inventory file: %w", err)
	}
	p := &Platform{offline: make(map[string]bool), sources: f.Sources}
	for _, e := range f.Entities {
		if e.ID == "" {
			return nil, fmt.Errorf("inventory entity without id")
		}
		p.entities = append(p.entities, e.Entity)
		if e.Offline {
			p.offline[e.ID] = true
		}
	}
	return p, nil
}

// New creates a platform from in-memory entities. Ids listed in offline fail on CallService.
func New(entities []inventory.Entity, sources map[string]string, offline ...string) *Platform {
	p := &Platform{
		entities: append([]inventory.Entity(nil), entities...),
		offline:  make(map[string]bool, len(offline)),
		sources:  sources,
	}
	for _, id := range offline {
		p.offline[id] = true
	}
	return p
}

// Name returns the backend identifier.
func (p *Platform) Name() string { return "static" }

// ListEntities returns the configured entities.
func (p *Platform) ListEntities(context.Context) ([]inventory.Entity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]inventory.Entity(nil), p.entities...), nil
}

// SourceArea returns the configured room of a source device.
func (p *Platform) SourceArea(_ context.Context, sourceDeviceID string) (string, error) {
	return p.sources[sourceDeviceID], nil
}

// CallService records the call, failing for unknown or offline entities.
func (p *Platform) CallService(_ context.Context, entityID, action string, params map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	known := false
	for _, e := range p.entities {
		if e.ID == entityID {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown entity %s", entityID)
	}
	if p.offline[entityID] {
		return fmt.Errorf("device offline")
	}

	p.calls = append(p.calls, Call{EntityID: entityID, Action: action, Params: params})
	slog.Info("static platform service call", "entity_id", entityID, "action", action, "params", params)
	return nil
}

// SetOffline marks an entity as unreachable (or reachable again).
func (p *Platform) SetOffline(entityID string, offline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline[entityID] = offline
}

// Calls returns the recorded service calls in order.
func (p *Platform) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}
