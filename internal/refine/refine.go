// Package refine ranks inventory entities against a target description.
//
// Scoring is a fixed weighted sum, so the same snapshot and query always
// produce the same ranking. Weights favour whole-name matches, then rooms
// named in the request, then the room the request came from.
package refine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nadzzz/hearth/internal/inventory"
)

// Scoring weights.
const (
	WeightExactName    = 100.0
	WeightNamePhrase   = 60.0
	WeightNameToken    = 15.0
	WeightAreaMatch    = 50.0
	WeightAreaMismatch = -40.0
	WeightCoLocated    = 30.0
	WeightCapability   = 20.0
)

// excludedDomains are never command targets.
var excludedDomains = set(
	"sensor", "binary_sensor", "number", "automation", "assist_satellite", "button",
	"camera", "conversation", "event", "input_select", "script", "select", "stt",
	"sun", "tts", "time", "update", "wake_word", "zone", "weather", "person",
	"device_tracker", "input_boolean", "input_number", "input_text", "input_datetime",
)

// compatible lists, per inferred capability, the domains that can serve it
// and how strongly.
var compatible = map[string]map[string]float64{
	"light": {"light": 1, "switch": 0.5},
	"fan":   {"fan": 1, "switch": 0.5},
}

// Match is one ranked candidate.
type Match struct {
	Entity    inventory.Entity
	Score     float64
	CoLocated bool
	index     int
}

// Engine ranks entities. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	maxCandidates int
	tieMargin     float64
}

// New creates an engine that returns at most maxCandidates matches and
// treats scores within tieMargin of the best as tied.
func New(maxCandidates int, tieMargin float64) *Engine {
	if maxCandidates <= 0 {
		maxCandidates = 10
	}
	if tieMargin < 0 {
		tieMargin = 0
	}
	return &Engine{maxCandidates: maxCandidates, tieMargin: tieMargin}
}

// Rank scores every entity in snap against q and returns the plausible ones,
// best first. An empty result means nothing in the inventory fits.
func (e *Engine) Rank(snap *inventory.Snapshot, q Query) []Match {
	var matches []Match
	for i, ent := range snap.Entities() {
		m, ok := score(ent, q)
		if !ok {
			continue
		}
		m.index = i
		matches = append(matches, m)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CoLocated != b.CoLocated {
			return a.CoLocated
		}
		return a.index < b.index
	})

	if len(matches) > e.maxCandidates {
		matches = matches[:e.maxCandidates]
	}
	return matches
}

func score(ent inventory.Entity, q Query) (Match, bool) {
	domain := ent.Domain
	if domain == "" {
		domain = inventory.DomainOf(ent.ID)
	}
	if excludedDomains[domain] {
		return Match{}, false
	}

	var capFactor float64
	if q.Capability != "" {
		capFactor = compatibility(q.Capability, domain)
		if capFactor == 0 {
			return Match{}, false
		}
	}

	area := Normalize(ent.Area)
	m := Match{Entity: ent, CoLocated: area != "" && area == q.SourceArea}

	var evidence bool
	name := singularPhrase(Normalize(ent.Name))
	nameWords := set(strings.Fields(name)...)

	if q.Phrase != "" {
		padded := " " + name + " "
		switch {
		case name == q.Phrase:
			m.Score += WeightExactName
			evidence = true
		case strings.Contains(padded, " "+q.Phrase+" "), strings.Contains(" "+q.Phrase+" ", padded):
			m.Score += WeightNamePhrase
			evidence = true
		}
	}
	for _, tok := range q.Tokens {
		if nameWords[tok] {
			m.Score += WeightNameToken
			evidence = true
		}
	}

	switch {
	case q.Area != "" && area == q.Area:
		m.Score += WeightAreaMatch
		evidence = true
	case q.Area != "" && area != "":
		m.Score += WeightAreaMismatch
	case q.Area == "" && m.CoLocated:
		m.Score += WeightCoLocated
	}

	if capFactor > 0 {
		m.Score += WeightCapability * capFactor
		evidence = true
	}

	if !evidence || m.Score <= 0 {
		return Match{}, false
	}
	return m, true
}

func compatibility(capability, domain string) float64 {
	if capability == domain {
		return 1
	}
	return compatible[capability][domain]
}

// AmbiguousTargetError reports that the best candidates are too close to
// pick one without asking the user.
type AmbiguousTargetError struct {
	Candidates []Match
}

func (e *AmbiguousTargetError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.Entity.ID
	}
	return fmt.Sprintf("ambiguous target: %d candidates tied (%s)", len(e.Candidates), strings.Join(names, ", "))
}

// IDs returns the tied entity ids in rank order.
func (e *AmbiguousTargetError) IDs() []string {
	ids := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		ids[i] = c.Entity.ID
	}
	return ids
}

// Ambiguity returns an *AmbiguousTargetError when at least two ranked
// matches score within the tie margin of the best one, and nil otherwise.
func (e *Engine) Ambiguity(matches []Match) *AmbiguousTargetError {
	if len(matches) < 2 {
		return nil
	}
	top := matches[0].Score
	var tied []Match
	for _, m := range matches {
		if top-m.Score <= e.tieMargin {
			tied = append(tied, m)
		}
	}
	if len(tied) < 2 {
		return nil
	}
	return &AmbiguousTargetError{Candidates: tied}
}
