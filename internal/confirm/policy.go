package confirm

import (
	"math"
	"strings"

	"github.com/nadzzz/hearth/internal/inventory"
	"github.com/nadzzz/hearth/internal/message"
	"github.com/nadzzz/hearth/internal/phrase"
	"github.com/nadzzz/hearth/internal/refine"
)

// Reason explains why an action needs confirmation.
type Reason string

const (
	ReasonMultiRoom  Reason = "multi_room"
	ReasonHighImpact Reason = "high_impact"
	ReasonAmbiguous  Reason = "ambiguous"
)

// Option is one device the user can pick or confirm.
type Option struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Area     string `json:"area,omitempty"`
}

// Decision is the policy outcome for one candidate action.
type Decision struct {
	Required bool
	Reasons  []Reason
	Options  []Option
	Prompt   string
}

// Has reports whether r is among the decision's reasons.
func (d Decision) Has(r Reason) bool {
	for _, x := range d.Reasons {
		if x == r {
			return true
		}
	}
	return false
}

// PolicyConfig tunes what counts as high impact.
type PolicyConfig struct {
	// HighImpactActions adds "domain.action" keys to the builtin list.
	HighImpactActions []string

	// ClimateMin and ClimateMax bound setpoints accepted without confirmation.
	ClimateMin float64
	ClimateMax float64

	// ClimateMaxDelta is the largest setpoint change accepted without
	// confirmation. Zero disables the check.
	ClimateMaxDelta float64
}

var builtinHighImpact = []string{
	"lock.unlock",
	"lock.open",
	"alarm_control_panel.alarm_disarm",
}

// Policy decides whether a candidate action must be confirmed.
type Policy struct {
	highImpact map[string]bool
	cfg        PolicyConfig
}

// NewPolicy creates a policy.
func NewPolicy(cfg PolicyConfig) *Policy {
	p := &Policy{highImpact: make(map[string]bool), cfg: cfg}
	for _, k := range builtinHighImpact {
		p.highImpact[k] = true
	}
	for _, k := range cfg.HighImpactActions {
		p.highImpact[strings.ToLower(strings.TrimSpace(k))] = true
	}
	return p
}

// Evaluate applies the confirmation rules: targets spanning more than one
// room, high-impact actions, and a tie between the top refinement candidates.
func (p *Policy) Evaluate(action *message.CandidateAction, snap *inventory.Snapshot, amb *refine.AmbiguousTargetError) Decision {
	var d Decision
	targets := resolve(action.TargetEntityIDs, snap)

	if len(targets) > 1 && len(phrase.Rooms(targets)) > 1 {
		d.Reasons = append(d.Reasons, ReasonMultiRoom)
	}
	if p.highImpactAction(action, targets) {
		d.Reasons = append(d.Reasons, ReasonHighImpact)
	}
	if amb != nil && len(amb.Candidates) > 1 {
		d.Reasons = append(d.Reasons, ReasonAmbiguous)
	}
	// The tie is offered only when a single device was picked from it.
	if d.Has(ReasonAmbiguous) && len(targets) <= 1 {
		for _, c := range amb.Candidates {
			d.Options = append(d.Options, optionOf(c.Entity))
		}
	} else {
		for _, e := range targets {
			d.Options = append(d.Options, optionOf(e))
		}
	}

	d.Required = len(d.Reasons) > 0
	if d.Required {
		d.Prompt = BuildPrompt(d, action)
	}
	return d
}

func (p *Policy) highImpactAction(action *message.CandidateAction, targets []inventory.Entity) bool {
	if action.Intent == message.IntentMediaSearchPlay && len(phrase.Rooms(targets)) > 1 {
		return true
	}
	for _, e := range targets {
		if p.highImpact[e.Domain+"."+action.Action] {
			return true
		}
		switch {
		case e.Domain == "cover" && action.Action == "open_cover" && isGarage(e):
			return true
		case e.Domain == "climate" && action.Action == "set_temperature" && p.extremeClimate(e, action.Parameters):
			return true
		}
	}
	return false
}

func isGarage(e inventory.Entity) bool {
	if class, _ := e.Attributes["device_class"].(string); class == "garage" || class == "gate" {
		return true
	}
	name := " " + refine.Normalize(e.Name) + " "
	return strings.Contains(name, " garage ") || strings.Contains(name, " gate ")
}

func (p *Policy) extremeClimate(e inventory.Entity, params map[string]any) bool {
	target, ok := phrase.Number(params["temperature"])
	if !ok {
		return false
	}
	if p.cfg.ClimateMax > p.cfg.ClimateMin && (target < p.cfg.ClimateMin || target > p.cfg.ClimateMax) {
		return true
	}
	if p.cfg.ClimateMaxDelta > 0 {
		if current, ok := phrase.Number(e.Attributes["temperature"]); ok && math.Abs(target-current) > p.cfg.ClimateMaxDelta {
			return true
		}
	}
	return false
}

func resolve(ids []string, snap *inventory.Snapshot) []inventory.Entity {
	out := make([]inventory.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := snap.Lookup(id); ok {
			out = append(out, e)
		}
	}
	return out
}

func optionOf(e inventory.Entity) Option {
	return Option{EntityID: e.ID, Name: e.Name, Area: e.Area}
}

func (o Option) entity() inventory.Entity {
	return inventory.Entity{ID: o.EntityID, Name: o.Name, Area: o.Area}
}
