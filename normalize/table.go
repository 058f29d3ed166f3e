package normalize

import "strings"

// Table is the vocabulary the Normalizer works with. Every key list is
// searched in order, first match wins. Lookups are case-sensitive first and
// then case-insensitive.
type Table struct {
	// IDKeys name the member that carries an item identifier.
	IDKeys []string
	// TextKeys name the member that carries translated text.
	TextKeys []string
	// StringKeys are consulted after TextKeys and only accept string values.
	StringKeys []string
	// JoinKeys are consulted last; their array values are coerced
	// element-wise and joined with newlines.
	JoinKeys []string
	// ReservedKeys are never treated as item identifiers by the id-map
	// strategy.
	ReservedKeys []string
}

var (
	defaultIDKeys = []string{"id", "i", "key", "k", "name", "index", "position", "idx"}

	defaultTextKeys = []string{
		"vi", "translatedText", "translated", "text", "translation",
		"v", "t", "value", "output", "content", "answer", "message", "response",
	}

	defaultStringKeys = []string{"body", "data", "result", "outputText", "responseText"}

	defaultJoinKeys = []string{"values", "parts"}

	// Structural members of wrappers and generateContent envelopes.
	structuralKeys = []string{
		"items", "results", "translations", "outputs", "contents", "messages",
		"candidates", "choices", "error", "errors", "status", "code", "role",
		"type", "model", "modelVersion", "responseId", "finishReason",
		"usageMetadata", "safetyRatings", "promptFeedback", "citationMetadata",
		"functionCall", "functionResponse", "inlineData", "mimeType", "args",
		"arguments", "thought", "thoughtSignature", "language", "outcome",
		"lang", "source", "target", "ok",
	}
)

// DefaultTable returns the built-in vocabulary.
func DefaultTable() Table {
	t := Table{
		IDKeys:     clone(defaultIDKeys),
		TextKeys:   clone(defaultTextKeys),
		StringKeys: clone(defaultStringKeys),
		JoinKeys:   clone(defaultJoinKeys),
	}
	t.ReservedKeys = concat(t.IDKeys, t.TextKeys, t.StringKeys, t.JoinKeys, structuralKeys)
	return t
}

// WithReservedKeys returns a copy of t with extra reserved keys appended.
// Empty and duplicate names are dropped.
func (t Table) WithReservedKeys(extra ...string) Table {
	out := t
	out.ReservedKeys = clone(t.ReservedKeys)
	have := make(map[string]struct{}, len(out.ReservedKeys))
	for _, k := range out.ReservedKeys {
		have[strings.ToLower(k)] = struct{}{}
	}
	for _, k := range extra {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := have[strings.ToLower(k)]; dup {
			continue
		}
		have[strings.ToLower(k)] = struct{}{}
		out.ReservedKeys = append(out.ReservedKeys, k)
	}
	return out
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
