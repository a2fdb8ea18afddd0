// Package inventory holds the read-only view of controllable devices.
//
// A Snapshot is taken once per orchestration round and never changes after
// construction, so concurrent requests can share it without locking. The
// Cache rebuilds snapshots from the platform in the background.
package inventory

import (
	"strings"
	"time"
)

// Entity is one controllable device as reported by the home platform.
type Entity struct {
	// ID is the platform identifier in "domain.object" form (e.g., "light.kitchen").
	ID string `json:"id" yaml:"id"`

	// Name is the human-friendly name shown to users.
	Name string `json:"name" yaml:"name"`

	// Area is the user-facing room label. Empty when unassigned.
	Area string `json:"area,omitempty" yaml:"area"`

	// Domain is the capability class (light, climate, media_player, ...).
	Domain string `json:"domain" yaml:"domain"`

	State      string         `json:"state,omitempty" yaml:"state"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes"`
}

// DomainOf returns the domain prefix of an entity id.
func DomainOf(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i > 0 {
		return entityID[:i]
	}
	return ""
}

// Snapshot is an immutable, ordered view of the entity inventory.
type Snapshot struct {
	entities []Entity
	byID     map[string]int
	areas    []string
	takenAt  time.Time
}

// NewSnapshot copies entities into a new snapshot. Order is preserved and
// later duplicates of an id are dropped.
func NewSnapshot(entities []Entity, takenAt time.Time) *Snapshot {
	s := &Snapshot{
		entities: make([]Entity, 0, len(entities)),
		byID:     make(map[string]int, len(entities)),
		takenAt:  takenAt,
	}
	seenArea := make(map[string]bool)
	for _, e := range entities {
		if e.ID == "" {
			continue
		}
		if _, dup := s.byID[e.ID]; dup {
			continue
		}
		if e.Domain == "" {
			e.Domain = DomainOf(e.ID)
		}
		if e.Name == "" {
			e.Name = e.ID
		}
		e.Attributes = copyAttrs(e.Attributes)
		s.byID[e.ID] = len(s.entities)
		s.entities = append(s.entities, e)

		key := strings.ToLower(e.Area)
		if e.Area != "" && !seenArea[key] {
			seenArea[key] = true
			s.areas = append(s.areas, e.Area)
		}
	}
	return s
}

// Entities returns the entities in inventory order.
func (s *Snapshot) Entities() []Entity {
	out := make([]Entity, len(s.entities))
	copy(out, s.entities)
	return out
}

// Lookup returns the entity with the given id.
func (s *Snapshot) Lookup(id string) (Entity, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Entity{}, false
	}
	return s.entities[i], true
}

// Index returns the insertion position of id, or -1.
func (s *Snapshot) Index(id string) int {
	if i, ok := s.byID[id]; ok {
		return i
	}
	return -1
}

// Areas returns the distinct room labels in first-seen order.
func (s *Snapshot) Areas() []string {
	return append([]string(nil), s.areas...)
}

// Len returns the number of entities.
func (s *Snapshot) Len() int { return len(s.entities) }

// TakenAt returns when the snapshot was built.
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

func copyAttrs(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
