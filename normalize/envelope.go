package normalize

import (
	"encoding/base64"
	"strings"
)

// ExtractEnvelope pulls pairs out of a generateContent response envelope.
//
// Each candidate's parts are scanned in order. Structured payloads come
// first: function-call arguments, then base64 inline data with a JSON mime
// type, then any other member of the part. The first candidate that yields
// pairs wins. Otherwise the plain text of each candidate is normalized on its
// own, and finally the text of all candidates joined with newlines.
func ExtractEnvelope(v *Value) []Pair { return std.ExtractEnvelope(v) }

// ExtractEnvelope is the method form of the package-level function.
func (n *Normalizer) ExtractEnvelope(v *Value) []Pair {
	candidates := v.Get("candidates")
	if candidates == nil || candidates.Kind != KindArray {
		return nil
	}

	w := n.newWalker()
	texts := make([]string, 0, len(candidates.Items))

	for _, cand := range candidates.Items {
		var buf strings.Builder
		for _, part := range candidateParts(cand) {
			if pairs := w.structuredPart(part, &buf); len(pairs) > 0 {
				return pairs
			}
		}
		if buf.Len() > 0 {
			texts = append(texts, buf.String())
		}
	}

	for _, text := range texts {
		if pairs := w.walk(String(text), ""); len(pairs) > 0 {
			return pairs
		}
	}
	if len(texts) > 1 {
		return w.walk(String(strings.Join(texts, "\n")), "")
	}
	return nil
}

// CandidateText returns the concatenated text parts of every candidate,
// joined with newlines. It is what a caller falls back to when no pairs
// could be extracted.
func CandidateText(v *Value) string {
	candidates := v.Get("candidates")
	if candidates == nil || candidates.Kind != KindArray {
		return ""
	}
	var texts []string
	for _, cand := range candidates.Items {
		var buf strings.Builder
		for _, part := range candidateParts(cand) {
			if th := part.Get("thought"); th != nil && th.Kind == KindBool && th.Bool {
				continue
			}
			if t := part.Get("text"); t != nil && t.Kind == KindString {
				buf.WriteString(t.Str)
			}
		}
		if buf.Len() > 0 {
			texts = append(texts, buf.String())
		}
	}
	return strings.Join(texts, "\n")
}

func candidateParts(cand *Value) []*Value {
	parts := cand.Get("content").Get("parts")
	if parts == nil || parts.Kind != KindArray {
		return nil
	}
	return parts.Items
}

// structuredPart extracts pairs from a single part. Plain text is appended to
// buf instead.
func (w *walker) structuredPart(part *Value, buf *strings.Builder) []Pair {
	if part == nil || part.Kind != KindObject {
		return nil
	}
	if th := part.Get("thought"); th != nil && th.Kind == KindBool && th.Bool {
		return nil
	}

	if fc := part.lookupAny("functionCall", "function_call"); fc != nil {
		args := fc.lookupAny("args", "arguments")
		return w.walk(args, "")
	}

	if inline := part.lookupAny("inlineData", "inline_data"); inline != nil {
		mime := inline.lookupAny("mimeType", "mime_type")
		data := inline.Get("data")
		if mime == nil || mime.Kind != KindString || !strings.Contains(strings.ToLower(mime.Str), "json") {
			return nil
		}
		if data == nil || data.Kind != KindString {
			return nil
		}
		for _, payload := range inlinePayloads(data.Str) {
			if pairs := w.walk(String(payload), ""); len(pairs) > 0 {
				return pairs
			}
		}
		return nil
	}

	var pairs []Pair
	for _, f := range part.Fields {
		if f.Key == "text" {
			continue
		}
		pairs = append(pairs, w.walk(f.Value, "")...)
	}
	if len(pairs) > 0 {
		return pairs
	}

	if t := part.Get("text"); t != nil && t.Kind == KindString {
		buf.WriteString(t.Str)
	}
	return nil
}

// inlinePayloads returns the decoded data (when it is valid base64 in any
// common alphabet) followed by the raw string.
func inlinePayloads(data string) []string {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	trimmed := strings.TrimSpace(data)
	for _, enc := range encodings {
		if decoded, err := enc.DecodeString(trimmed); err == nil {
			return []string{string(decoded), data}
		}
	}
	return []string{data}
}
