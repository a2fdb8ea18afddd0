package confirm

import (
	"slices"
	"strings"

	"github.com/nadzzz/hearth/internal/inventory"
	"github.com/nadzzz/hearth/internal/message"
	"github.com/nadzzz/hearth/internal/phrase"
	"github.com/nadzzz/hearth/internal/refine"
)

// Reprompt prefixes the original question when a reply was not understood.
const Reprompt = "Please say yes or no."

// ChoicePrompt asks the user to pick one of the listed devices. It replaces
// the question when a bare yes answers a choice.
func ChoicePrompt(options []Option) string {
	return "Which one: " + phrase.Entities(entitiesOf(options), "or") + "?"
}

// BuildPrompt phrases the confirmation question. A tie between devices
// becomes "Did you mean A or B?"; everything else, multi-room actions
// included, is read back naming each device with its room for a yes/no.
func BuildPrompt(d Decision, action *message.CandidateAction) string {
	entities := entitiesOf(d.Options)
	if asksChoice(d.Reasons, d.Options, action) {
		return "Did you mean " + phrase.Entities(entities, "or") + "?"
	}

	targets := phrase.Entities(entities, "and")
	command := phrase.Command(action.Action, action.Parameters, targets, false)
	if action.Intent == message.IntentMediaSearchPlay && action.MediaQuery != "" {
		command = "Play " + phrase.MediaLabel(action.MediaQuery) + " on " + targets
	}
	return command + "? Say yes to confirm or no to cancel."
}

// asksChoice reports whether the round is a choice between tied devices
// rather than a yes/no on the action's own targets.
func asksChoice(reasons []Reason, options []Option, action *message.CandidateAction) bool {
	return len(options) > 1 && len(action.TargetEntityIDs) <= 1 && slices.Contains(reasons, ReasonAmbiguous)
}

func entitiesOf(options []Option) []inventory.Entity {
	entities := make([]inventory.Entity, len(options))
	for i, o := range options {
		entities[i] = o.entity()
	}
	return entities
}

// ReplyKind classifies a user's answer to a confirmation prompt.
type ReplyKind int

const (
	ReplyUnrecognized ReplyKind = iota
	ReplyAffirmative
	ReplyNegative
	ReplySelection
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyAffirmative:
		return "affirmative"
	case ReplyNegative:
		return "negative"
	case ReplySelection:
		return "selection"
	}
	return "unrecognized"
}

// Reply is a classified answer. Selected holds entity ids for ReplySelection.
type Reply struct {
	Kind     ReplyKind
	Selected []string
}

var (
	affirmativeWords   = map[string]bool{"yes": true, "yep": true, "yeah": true, "yup": true, "sure": true, "ok": true, "okay": true, "confirm": true, "confirmed": true, "correct": true, "right": true, "absolutely": true}
	affirmativePhrases = []string{"go ahead", "do it", "please do", "sound good", "that one"}
	negativeWords      = map[string]bool{"no": true, "not": true, "nope": true, "nah": true, "cancel": true, "stop": true, "dont": true, "nevermind": true, "negative": true}
	negativePhrases    = []string{"never mind", "don t", "do not", "forget it"}
	everyWords         = map[string]bool{"both": true, "all": true, "everything": true, "every": true, "each": true}
)

// Classify reads a reply against the offered options. Any negation declines,
// even when the reply also names an option ("don't turn off the kitchen").
// Otherwise naming a room or a device picks those options, "both" or "all"
// picks every option, and the rest is matched against the yes lexicon.
func Classify(text string, options []Option) Reply {
	words := refine.Words(text)
	if len(words) == 0 {
		return Reply{Kind: ReplyUnrecognized}
	}
	padded := " " + strings.Join(words, " ") + " "

	if containsAny(words, padded, negativeWords, negativePhrases) {
		return Reply{Kind: ReplyNegative}
	}

	if selected := selectOptions(words, options); len(selected) > 0 {
		return Reply{Kind: ReplySelection, Selected: selected}
	}

	for _, w := range words {
		if everyWords[w] && len(options) > 0 {
			all := make([]string, len(options))
			for i, o := range options {
				all[i] = o.EntityID
			}
			return Reply{Kind: ReplySelection, Selected: all}
		}
	}

	if containsAny(words, padded, affirmativeWords, affirmativePhrases) {
		return Reply{Kind: ReplyAffirmative}
	}
	return Reply{Kind: ReplyUnrecognized}
}

func containsAny(words []string, padded string, lexicon map[string]bool, phrases []string) bool {
	for _, w := range words {
		if lexicon[w] {
			return true
		}
	}
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

// selectOptions returns the options the reply singles out by a word that
// distinguishes them from the other options (a room or part of a name).
func selectOptions(words []string, options []Option) []string {
	if len(options) < 2 {
		return nil
	}

	tokens := make([]map[string]bool, len(options))
	count := make(map[string]int)
	for i, o := range options {
		tokens[i] = make(map[string]bool)
		for _, w := range refine.Words(o.Name + " " + o.Area) {
			if !refine.Filler(w) && !tokens[i][w] {
				tokens[i][w] = true
				count[w]++
			}
		}
	}

	said := make(map[string]bool, len(words))
	for _, w := range words {
		said[w] = true
	}

	var selected []string
	for i, o := range options {
		for w := range tokens[i] {
			if count[w] < len(options) && said[w] && !affirmativeWords[w] {
				selected = append(selected, o.EntityID)
				break
			}
		}
	}
	return selected
}
