package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Resolver merges the two credential tiers with flag and environment
// overrides. Credentials are read fresh on every call.
type Resolver struct {
	// Sync is consulted first.
	Sync Store
	// Local fills whatever Sync does not have.
	Local Store
	// Overrides win over both tiers when non-empty.
	Overrides Credentials
	// DefaultModel is used when nothing names a model.
	DefaultModel string
	Logger       *zap.Logger
}

// NewResolver returns a Resolver over the given tiers. Either may be nil.
func NewResolver(sync, local Store) *Resolver {
	return &Resolver{
		Sync:         sync,
		Local:        local,
		DefaultModel: DefaultModel,
		Logger:       zap.NewNop(),
	}
}

// DefaultResolver wires the default file locations and environment
// overrides.
func DefaultResolver() (*Resolver, error) {
	sync, err := DefaultSyncStore()
	if err != nil {
		return nil, err
	}
	local, err := DefaultFileStore()
	if err != nil {
		return nil, err
	}
	r := NewResolver(sync, local)
	r.Overrides = EnvOverrides()
	return r, nil
}

// EnvOverrides reads credentials from the environment.
func EnvOverrides() Credentials {
	key := strings.TrimSpace(os.Getenv("VITRANS_API_KEY"))
	if key == "" {
		key = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	}
	return Credentials{
		APIKey: key,
		Model:  strings.TrimSpace(os.Getenv("VITRANS_MODEL")),
	}
}

func (r *Resolver) tiers() []Store {
	var out []Store
	for _, s := range []Store{r.Sync, r.Local} {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Get resolves the current credentials. A missing key is not an error by
// itself: the returned Credentials simply has an empty APIKey. When the key
// is missing and a tier could not be read, Get fails with ErrUnavailable so
// a broken store is not mistaken for an unconfigured one.
func (r *Resolver) Get(ctx context.Context) (Credentials, error) {
	out := Credentials{
		APIKey: strings.TrimSpace(r.Overrides.APIKey),
		Model:  strings.TrimSpace(r.Overrides.Model),
	}

	var unavailable error
	lookup := func(s Store, key string) string {
		v, err := s.Get(ctx, key)
		switch {
		case err == nil:
			return strings.TrimSpace(v)
		case errors.Is(err, ErrNotFound):
		default:
			r.logger().Warn("credential tier unreadable", zap.String("key", key), zap.Error(err))
			if unavailable == nil {
				unavailable = err
			}
		}
		return ""
	}

	for _, tier := range r.tiers() {
		if out.APIKey == "" {
			out.APIKey = lookup(tier, KeyAPIKey)
		}
		if out.Model == "" {
			out.Model = lookup(tier, KeyModel)
		}
		if out.APIKey != "" && out.Model != "" {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}

	if out.Model == "" {
		out.Model = r.DefaultModel
		if out.Model == "" {
			out.Model = DefaultModel
		}
	}
	if out.APIKey == "" && unavailable != nil {
		if !errors.Is(unavailable, ErrUnavailable) {
			unavailable = fmt.Errorf("%w: %v", ErrUnavailable, unavailable)
		}
		return out, fmt.Errorf("resolving api key: %w", unavailable)
	}
	return out, nil
}

// Save writes creds to every tier. It succeeds when at least one tier
// accepted the write. An empty model is stored as DefaultModel.
func (r *Resolver) Save(ctx context.Context, creds Credentials) error {
	key := strings.TrimSpace(creds.APIKey)
	model := strings.TrimSpace(creds.Model)
	if model == "" {
		model = DefaultModel
	}

	var errs []error
	stored := false
	for _, tier := range r.tiers() {
		err := tier.Set(ctx, KeyAPIKey, key)
		if err == nil {
			err = tier.Set(ctx, KeyModel, model)
		}
		if err != nil {
			r.logger().Warn("credential tier write failed", zap.Error(err))
			errs = append(errs, err)
			continue
		}
		stored = true
	}
	if !stored {
		if len(errs) == 0 {
			return fmt.Errorf("saving credentials: %w", ErrUnavailable)
		}
		return fmt.Errorf("saving credentials: %w", errors.Join(errs...))
	}
	return nil
}

// Clear removes both keys from every tier.
func (r *Resolver) Clear(ctx context.Context) error {
	var errs []error
	for _, tier := range r.tiers() {
		for _, key := range []string{KeyAPIKey, KeyModel} {
			if err := tier.Delete(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("clearing credentials: %w", errors.Join(errs...))
	}
	return nil
}
