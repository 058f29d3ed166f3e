// Package settings stores the Gemini API key and model for vitrans.
//
// Credentials live in two tiers, checked in this order:
//
//	$XDG_CONFIG_HOME/vitrans/settings.yaml  sync tier (default: ~/.config/vitrans/)
//	$XDG_DATA_HOME/vitrans/auth.json        local tier (default: ~/.local/share/vitrans/)
//
// The sync tier is meant to travel with dotfiles; the local tier stays on
// the machine. Both are flat key/value documents with the keys
// GEMINI_API_KEY and GEMINI_MODEL. Files are written with 0600 permissions.
//
// Lookup order for each field:
//  1. --api-key / --model flags (highest priority)
//  2. VITRANS_API_KEY, GEMINI_API_KEY, VITRANS_MODEL environment variables
//  3. sync tier
//  4. local tier
package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

//go:generate mockgen -source=settings.go -destination=mock/mock_store.go

const (
	appDirName   = "vitrans"
	authFileName = "auth.json"
	syncFileName = "settings.yaml"

	// KeyAPIKey and KeyModel are the document keys used by both tiers.
	KeyAPIKey = "GEMINI_API_KEY"
	KeyModel  = "GEMINI_MODEL"

	// DefaultModel is used when no tier names a model.
	DefaultModel = "gemini-2.5-flash"
)

var (
	// ErrNotFound means the key is not configured in the store.
	ErrNotFound = errors.New("setting not configured")
	// ErrUnavailable means the store could not be read or written.
	ErrUnavailable = errors.New("settings store unavailable")
)

// Store is a small key/value store for credentials.
type Store interface {
	// Get returns the value stored under key. It fails with ErrNotFound
	// when the key is absent or blank, and with ErrUnavailable when the
	// backing storage cannot be read.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Credentials is what a translation call needs.
type Credentials struct {
	APIKey string `json:"apiKey" yaml:"apiKey"`
	Model  string `json:"model" yaml:"model"`
}

// ---------------------------------------------------------------------------
// Paths
// ---------------------------------------------------------------------------

// DataDir returns the XDG data directory for vitrans.
// Respects $XDG_DATA_HOME (falls back to ~/.local/share).
func DataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", appDirName), nil
}

// ConfigDir returns the XDG config directory for vitrans.
// Respects $XDG_CONFIG_HOME (falls back to ~/.config).
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", appDirName), nil
}

// FilePath returns the local tier path for display purposes.
func FilePath() string {
	dir, err := DataDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, authFileName)
}

// SyncFilePath returns the sync tier path for display purposes.
func SyncFilePath() string {
	dir, err := ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, syncFileName)
}

// ---------------------------------------------------------------------------
// Display helpers
// ---------------------------------------------------------------------------

// MaskKey returns a masked version of a key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

var googleKeyPattern = regexp.MustCompile(`^AIza[0-9A-Za-z_\-]{20,}$`)

// LooksLikeGoogleKey is a format sanity check only. A key that fails it may
// still be accepted by the API.
func LooksLikeGoogleKey(key string) bool {
	return googleKeyPattern.MatchString(key)
}
