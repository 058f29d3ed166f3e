package normalize

import (
	"regexp"
	"strings"
)

var (
	fenceOpen  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	fenceClose = regexp.MustCompile("\\s*```$")
)

// ParseEmbeddedJSON recovers a JSON value from model text. It tries, in
// order: the string as-is, the string with a surrounding ``` or ```json
// fence removed, and the substring from the first '[' to the last ']'. The
// bracket substring gets one more try with invalid backslash escapes
// repaired. It reports false when nothing parses.
func ParseEmbeddedJSON(s string) (*Value, bool) {
	if v, err := Parse([]byte(s)); err == nil {
		return v, true
	}

	t := strings.TrimSpace(s)
	t = fenceOpen.ReplaceAllString(t, "")
	t = fenceClose.ReplaceAllString(t, "")
	if v, err := Parse([]byte(t)); err == nil {
		return v, true
	}

	start := strings.Index(t, "[")
	end := strings.LastIndex(t, "]")
	if start < 0 || end <= start {
		return nil, false
	}
	fragment := t[start : end+1]
	if v, err := Parse([]byte(fragment)); err == nil {
		return v, true
	}
	if v, err := Parse([]byte(repairEscapes(fragment))); err == nil {
		return v, true
	}
	return nil, false
}

// repairEscapes doubles backslashes inside string literals that do not start
// a valid JSON escape. Models copy things like \& or \[ straight from the
// source text.
func repairEscapes(src string) string {
	var out strings.Builder
	out.Grow(len(src) + 8)
	inString := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		if c == '"' && !escaped {
			inString = !inString
			out.WriteByte(c)
			continue
		}

		if inString && c == '\\' && !escaped {
			if i+1 < len(src) && strings.IndexByte(`"\/bfnrtu`, src[i+1]) >= 0 {
				out.WriteByte(c)
				escaped = true
				continue
			}
			out.WriteString(`\\`)
			continue
		}

		out.WriteByte(c)
		escaped = false
	}
	return out.String()
}
