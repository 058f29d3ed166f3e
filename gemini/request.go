// Package gemini talks to the Google Generative Language generateContent
// REST endpoint: it builds translation requests in either response mode,
// sends them, and hands back the raw status and body for the caller to
// interpret.
package gemini

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Item is one source string to translate.
type Item struct {
	ID   string `json:"id" yaml:"id"`
	Text string `json:"text" yaml:"text"`
}

// Mode selects how the response shape is requested.
type Mode int

const (
	// ModeStructured asks the API to constrain output to a JSON schema.
	ModeStructured Mode = iota
	// ModeFreeform relies on the prompt alone and parses free text.
	ModeFreeform
)

func (m Mode) String() string {
	if m == ModeStructured {
		return "structured"
	}
	return "freeform"
}

// translationRules open the user prompt. Requests never carry a
// systemInstruction: Gemma models answer it with a 400.
const translationRules = `You are a translation engine. Translate the "text" of every input item into Vietnamese.

RULES:
1. Reply with ONLY a JSON array, no prose and no markdown. Each element is {"id":"<id>","vi":"<translation>"}.
2. Keep the id of every item exactly as given. Do not add, drop, merge or reorder items.
3. Preserve URLs, emoji, numbers and punctuation.
4. Preserve placeholders and markup exactly: {name}, ${value}, %(x)s, %s, %d, <tag>, &amp;.
5. Keep the tone and register of the source.`

const (
	temperature     = 0
	maxOutputTokens = 8192
)

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type schema struct {
	Type       string            `json:"type"`
	Items      *schema           `json:"items,omitempty"`
	Properties map[string]schema `json:"properties,omitempty"`
	Required   []string          `json:"required,omitempty"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
	ResponseSchema   *schema `json:"responseSchema,omitempty"`
}

type request struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

// pairSchema describes [{"id": string, "vi": string}, ...].
var pairSchema = schema{
	Type: "ARRAY",
	Items: &schema{
		Type: "OBJECT",
		Properties: map[string]schema{
			"id": {Type: "STRING"},
			"vi": {Type: "STRING"},
		},
		Required: []string{"id", "vi"},
	},
}

// BuildRequest returns the JSON body of a generateContent call translating
// items. ModeStructured adds responseMimeType and responseSchema to the
// generation config; ModeFreeform leaves the output shape to the prompt.
func BuildRequest(items []Item, mode Mode) ([]byte, error) {
	prompt, err := userPrompt(items)
	if err != nil {
		return nil, err
	}

	req := request{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: prompt}}},
		},
		GenerationConfig: generationConfig{
			Temperature:     temperature,
			MaxOutputTokens: maxOutputTokens,
		},
	}
	if mode == ModeStructured {
		s := pairSchema
		req.GenerationConfig.ResponseMimeType = "application/json"
		req.GenerationConfig.ResponseSchema = &s
	}
	return json.Marshal(req)
}

func userPrompt(items []Item) (string, error) {
	if items == nil {
		items = []Item{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding items: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(translationRules)
	sb.WriteString("\n\nInput items (JSON):\n")
	sb.Write(data)
	return sb.String(), nil
}

// probeRequest is the small JSON-mode call used as a connectivity check.
func probeRequest() ([]byte, error) {
	req := request{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: `Translate into Vietnamese and return only JSON: [{"id":"1","text":"Hello world"}]`}},
		}},
		GenerationConfig: generationConfig{
			Temperature:      temperature,
			ResponseMimeType: "application/json",
		},
	}
	return json.Marshal(req)
}
