package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// document is a flat key/value file guarded by a mutex. The codec decides
// the on-disk format.
type document struct {
	path      string
	mu        sync.Mutex
	marshal   func(map[string]string) ([]byte, error)
	unmarshal func([]byte, *map[string]string) error
}

// Path returns the backing file path.
func (d *document) Path() string { return d.path }

// load reads the file. A missing file is an empty document; anything else
// that goes wrong is ErrUnavailable.
func (d *document) load() (map[string]string, error) {
	data, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrUnavailable, d.path, err)
	}

	values := map[string]string{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return values, nil
	}
	if err := d.unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrUnavailable, d.path, err)
	}
	if values == nil {
		values = map[string]string{}
	}
	return values, nil
}

// save writes the document with 0600 permissions.
func (d *document) save(values map[string]string) error {
	data, err := d.marshal(values)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", ErrUnavailable, d.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0700); err != nil {
		return fmt.Errorf("%w: creating directory: %v", ErrUnavailable, err)
	}
	if err := os.WriteFile(d.path, data, 0600); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrUnavailable, d.path, err)
	}
	return nil
}

func (d *document) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	values, err := d.load()
	if err != nil {
		return "", err
	}
	v, ok := values[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return v, nil
}

func (d *document) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	values, err := d.load()
	if err != nil {
		return err
	}
	values[key] = value
	return d.save(values)
}

func (d *document) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	values, err := d.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil // Nothing to delete
	}
	delete(values, key)
	return d.save(values)
}

// ---------------------------------------------------------------------------
// Local tier (JSON)
// ---------------------------------------------------------------------------

// FileStore is the local tier: an auth.json file in the data directory.
type FileStore struct {
	document
}

// NewFileStore returns a FileStore backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{document{
		path: path,
		marshal: func(v map[string]string) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		},
		unmarshal: func(data []byte, v *map[string]string) error {
			return json.Unmarshal(data, v)
		},
	}}
}

// DefaultFileStore returns the FileStore at $XDG_DATA_HOME/vitrans/auth.json.
func DefaultFileStore() (*FileStore, error) {
	dir, err := DataDir()
	if err != nil {
		return nil, err
	}
	return NewFileStore(filepath.Join(dir, authFileName)), nil
}

// ---------------------------------------------------------------------------
// Sync tier (YAML)
// ---------------------------------------------------------------------------

// SyncStore is the synchronized tier: a settings.yaml file in the config
// directory.
type SyncStore struct {
	document
}

// NewSyncStore returns a SyncStore backed by path.
func NewSyncStore(path string) *SyncStore {
	return &SyncStore{document{
		path: path,
		marshal: func(v map[string]string) ([]byte, error) {
			return yaml.Marshal(v)
		},
		unmarshal: func(data []byte, v *map[string]string) error {
			return yaml.Unmarshal(data, v)
		},
	}}
}

// DefaultSyncStore returns the SyncStore at $XDG_CONFIG_HOME/vitrans/settings.yaml.
func DefaultSyncStore() (*SyncStore, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return NewSyncStore(filepath.Join(dir, syncFileName)), nil
}
