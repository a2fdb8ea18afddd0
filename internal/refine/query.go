package refine

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Query is a parsed target description.
type Query struct {
	// Text is the raw utterance.
	Text string

	// Phrase is the normalized description including any room words
	// (e.g., "kitchen light"). It is matched against whole entity names.
	Phrase string

	// Tokens are the description words with room words removed.
	Tokens []string

	// Capability is the inferred domain ("light", "climate", ...), or "".
	Capability string

	// Area is the normalized room mentioned in the text, or "".
	Area string

	// SourceArea is the normalized room of the requesting device, or "".
	SourceArea string
}

// builtinAreas are room words recognised even when no entity is assigned to them.
var builtinAreas = []string{"office", "living room", "bedroom", "nursery", "kitchen"}

// fillers never describe a target.
var fillers = set(
	"a", "an", "the", "my", "our", "your", "this", "that", "these", "those", "it", "them",
	"please", "can", "could", "would", "will", "you", "hey", "i", "want", "need", "me",
	"to", "of", "in", "on", "off", "at", "for", "by", "with", "and", "or", "up", "down",
	"turn", "set", "make", "change", "put", "switch", "start", "stop", "open", "close",
	"dim", "brighten", "raise", "lower", "increase", "decrease", "play", "pause", "resume",
	"lock", "unlock", "toggle", "all", "every", "some", "percent", "degree", "bit", "little",
	"brightness", "now",
)

// nounDomains maps device nouns to the domain they usually refer to.
var nounDomains = map[string]string{
	"light": "light", "lamp": "light", "bulb": "light", "chandelier": "light", "sconce": "light", "lighting": "light",
	"brightness": "light",
	"thermostat": "climate", "temperature": "climate", "heat": "climate", "heating": "climate",
	"ac": "climate", "hvac": "climate", "climate": "climate", "heater": "climate",
	"music": "media_player", "song": "media_player", "speaker": "media_player", "tv": "media_player",
	"television": "media_player", "playlist": "media_player", "album": "media_player",
	"artist": "media_player", "track": "media_player", "radio": "media_player", "volume": "media_player",
	"blind": "cover", "shade": "cover", "curtain": "cover", "cover": "cover", "garage": "cover",
	"shutter": "cover", "gate": "cover",
	"fan": "fan",
	"plug": "switch", "outlet": "switch", "switch": "switch",
	"alarm": "alarm_control_panel",
	"vacuum": "vacuum",
}

// verbDomains maps verbs that imply a capability when no noun does.
var verbDomains = map[string]string{
	"dim": "light", "brighten": "light",
	"play": "media_player", "pause": "media_player", "resume": "media_player", "skip": "media_player",
	"lock": "lock", "unlock": "lock",
	"disarm": "alarm_control_panel", "arm": "alarm_control_panel",
	"warmer": "climate", "cooler": "climate", "colder": "climate", "heat": "climate", "cool": "climate",
}

// ParseQuery extracts a target description from an utterance. knownAreas
// are the room labels of the current inventory.
func ParseQuery(text, sourceArea string, knownAreas []string) Query {
	words := Words(text)

	q := Query{
		Text:       text,
		SourceArea: Normalize(sourceArea),
		Capability: inferCapability(words),
		Area:       mentionedArea(words, knownAreas),
	}

	areaWords := set(strings.Fields(singularPhrase(q.Area))...)
	var phrase []string
	for _, w := range words {
		if fillers[w] || isNumber(w) {
			continue
		}
		phrase = append(phrase, w)
		if !areaWords[w] {
			q.Tokens = append(q.Tokens, w)
		}
	}
	q.Phrase = strings.Join(phrase, " ")
	return q
}

func inferCapability(words []string) string {
	for i, w := range words {
		// "switch on the lamp" uses switch as a verb.
		if w == "switch" && i+1 < len(words) && (words[i+1] == "on" || words[i+1] == "off") {
			continue
		}
		if d, ok := nounDomains[w]; ok {
			return d
		}
	}
	for _, w := range words {
		if d, ok := verbDomains[w]; ok {
			return d
		}
	}
	return ""
}

// mentionedArea returns the longest room phrase that appears as whole words.
func mentionedArea(words []string, knownAreas []string) string {
	padded := " " + strings.Join(words, " ") + " "
	best := ""
	consider := func(area string) {
		a := Normalize(area)
		if a == "" || len(a) <= len(best) {
			return
		}
		if strings.Contains(padded, " "+a+" ") || strings.Contains(padded, " "+singularPhrase(a)+" ") {
			best = a
		}
	}
	for _, a := range knownAreas {
		consider(a)
	}
	for _, a := range builtinAreas {
		consider(a)
	}
	return best
}

// Normalize lowercases s, strips diacritics and replaces punctuation with
// single spaces.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.ToLower(out)

	var b strings.Builder
	b.Grow(len(out))
	for _, r := range out {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// singular strips common English plural endings.
func singular(w string) string {
	switch {
	case len(w) <= 3:
		return w
	case strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"), strings.HasSuffix(w, "xes"), strings.HasSuffix(w, "sses"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ss"), strings.HasSuffix(w, "us"):
		return w
	case strings.HasSuffix(w, "s"):
		return w[:len(w)-1]
	}
	return w
}

func singularPhrase(p string) string {
	words := strings.Fields(p)
	for i, w := range words {
		words[i] = singular(w)
	}
	return strings.Join(words, " ")
}

func isNumber(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return w != ""
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Words returns the normalized, singularized words of s.
func Words(s string) []string {
	words := strings.Fields(Normalize(s))
	for i, w := range words {
		if !fillers[w] {
			words[i] = singular(w)
		}
	}
	return words
}

// Filler reports whether w is a word that never describes a target.
func Filler(w string) bool { return fillers[w] }
