package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/minios-linux/vitrans/settings"
	"google.golang.org/api/option"
)

// ErrNoAPIKey is returned when a call needs a key and none is set.
var ErrNoAPIKey = errors.New("no API key configured")

// ModelInfo is what VerifyModel learns about a model.
type ModelInfo struct {
	Name             string   `json:"name"`
	DisplayName      string   `json:"displayName"`
	InputTokenLimit  int32    `json:"inputTokenLimit"`
	OutputTokenLimit int32    `json:"outputTokenLimit"`
	Methods          []string `json:"supportedGenerationMethods"`
}

// SupportsGenerateContent reports whether the model can serve translations.
func (m *ModelInfo) SupportsGenerateContent() bool {
	for _, method := range m.Methods {
		if method == "generateContent" {
			return true
		}
	}
	return false
}

// VerifyModel checks the key and model through the official SDK by fetching
// the model's metadata. Extra options are passed to genai.NewClient.
func VerifyModel(ctx context.Context, creds settings.Credentials, opts ...option.ClientOption) (*ModelInfo, error) {
	key := strings.TrimSpace(creds.APIKey)
	if key == "" {
		return nil, ErrNoAPIKey
	}
	model := strings.TrimPrefix(strings.TrimSpace(creds.Model), "models/")
	if model == "" {
		model = settings.DefaultModel
	}

	cl, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(key)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	defer cl.Close()

	info, err := cl.GenerativeModel(model).Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching model %s: %w", model, err)
	}

	return &ModelInfo{
		Name:             info.Name,
		DisplayName:      info.DisplayName,
		InputTokenLimit:  info.InputTokenLimit,
		OutputTokenLimit: info.OutputTokenLimit,
		Methods:          info.SupportedGenerationMethods,
	}, nil
}
