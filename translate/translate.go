// Package translate drives translation of text items into Vietnamese
// through the Gemini generateContent API.
//
// Items are split into fixed-size batches that are sent strictly one after
// another with a pause in between. Each batch starts in structured mode
// (schema-constrained JSON) and falls back to freeform mode when the API
// rejects the schema or keeps returning output that cannot be parsed.
// Whatever the model returns is run through the normalize package to recover
// {id, translatedText} pairs.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/minios-linux/vitrans/gemini"
	"github.com/minios-linux/vitrans/normalize"
	"github.com/minios-linux/vitrans/settings"
	"go.uber.org/zap"
)

//go:generate mockgen -source=translate.go -destination=mock/mock_translate.go

// Item is one source string to translate.
type Item = gemini.Item

// Pair is one recovered translation.
type Pair = normalize.Pair

// Caller sends a generateContent request body. *gemini.Client implements it.
type Caller interface {
	Generate(ctx context.Context, creds settings.Credentials, body []byte) (*gemini.Response, error)
}

// CredentialSource yields the current credentials. It is asked once per
// batch so credential changes take effect mid-session. *settings.Resolver
// implements it.
type CredentialSource interface {
	Get(ctx context.Context) (settings.Credentials, error)
}

// ---------------------------------------------------------------------------
// Translation options
// ---------------------------------------------------------------------------

// Default values for Options fields left at zero.
const (
	DefaultBatchSize           = 32
	DefaultMaxRetries          = 5
	DefaultThrottle            = 900 * time.Millisecond
	DefaultParseBackoff        = 500 * time.Millisecond
	DefaultTransientBackoff    = 800 * time.Millisecond
	DefaultSchemaFallbackDelay = 400 * time.Millisecond
)

// NoWait disables a wait in Options. A zero duration selects the default.
const NoWait time.Duration = -1

// Options controls the translation behavior. Duration fields left at zero
// use their defaults; a negative duration, such as NoWait, skips the wait.
type Options struct {
	// BatchSize is the maximum number of items per API call.
	BatchSize int
	// MaxRetries is the maximum number of attempts per batch.
	MaxRetries int
	// Throttle is the pause between consecutive batches.
	Throttle time.Duration
	// ParseBackoff is multiplied by the attempt number after a response
	// with no recoverable translations.
	ParseBackoff time.Duration
	// TransientBackoff is multiplied by the attempt number after a 429,
	// a 5xx or a transport error.
	TransientBackoff time.Duration
	// SchemaFallbackDelay is the fixed wait after the API rejects
	// structured output.
	SchemaFallbackDelay time.Duration
	// Normalizer recovers pairs from responses. Defaults to
	// normalize.Default().
	Normalizer *normalize.Normalizer
	// OnProgress is called after each batch with the number of items
	// processed so far.
	OnProgress func(done, total int)
	// Logger receives structured retry and batch events.
	Logger *zap.Logger
}

func (o *Options) effectiveBatchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return DefaultBatchSize
}

func (o *Options) effectiveMaxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return DefaultMaxRetries
}

func effectiveDuration(d, def time.Duration) time.Duration {
	switch {
	case d < 0:
		return 0
	case d == 0:
		return def
	}
	return d
}

func (o *Options) effectiveThrottle() time.Duration {
	return effectiveDuration(o.Throttle, DefaultThrottle)
}

func (o *Options) effectiveParseBackoff() time.Duration {
	return effectiveDuration(o.ParseBackoff, DefaultParseBackoff)
}

func (o *Options) effectiveTransientBackoff() time.Duration {
	return effectiveDuration(o.TransientBackoff, DefaultTransientBackoff)
}

func (o *Options) effectiveSchemaFallbackDelay() time.Duration {
	return effectiveDuration(o.SchemaFallbackDelay, DefaultSchemaFallbackDelay)
}

// ---------------------------------------------------------------------------
// Translator
// ---------------------------------------------------------------------------

// Translator runs batches against a Caller. It holds no per-call state; all
// retry state lives on the stack of TranslateBatch.
type Translator struct {
	client     Caller
	creds      CredentialSource
	opts       Options
	normalizer *normalize.Normalizer
	logger     *zap.Logger
	// wait suspends for d or until ctx is done.
	wait func(ctx context.Context, d time.Duration) error
}

// New returns a Translator. creds may be nil when only TranslateBatch is
// used.
func New(client Caller, creds CredentialSource, opts Options) *Translator {
	t := &Translator{
		client:     client,
		creds:      creds,
		opts:       opts,
		normalizer: opts.Normalizer,
		logger:     opts.Logger,
		wait:       sleep,
	}
	if t.normalizer == nil {
		t.normalizer = normalize.Default()
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	return t
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// TranslateItems translates items batch by batch.
//
// Credentials are read before every batch; a missing key fails with
// ErrNoCredential before anything is sent. When a batch fails, the pairs of
// every earlier batch are returned together with a *BatchError naming the
// failed batch, so callers can keep partial progress or discard it.
func (t *Translator) TranslateItems(ctx context.Context, items []Item) ([]Pair, error) {
	if t.creds == nil {
		return nil, &BatchError{Index: 0, Err: ErrNoCredential}
	}

	batches := SplitBatches(items, t.opts.effectiveBatchSize())
	total := len(items)
	done := 0
	var out []Pair

	for i, batch := range batches {
		if i > 0 {
			if err := t.wait(ctx, t.opts.effectiveThrottle()); err != nil {
				return out, &BatchError{Index: i, Err: err}
			}
		}

		creds, err := t.creds.Get(ctx)
		if err != nil {
			return out, &BatchError{Index: i, Err: fmt.Errorf("reading credentials: %w", err)}
		}

		pairs, err := t.TranslateBatch(ctx, batch, creds)
		if err != nil {
			t.logger.Error("batch failed",
				zap.Int("batch", i+1),
				zap.Int("batches", len(batches)),
				zap.Int("recovered", len(out)),
				zap.Error(err))
			return out, &BatchError{Index: i, Err: err}
		}
		out = append(out, pairs...)

		done += len(batch)
		t.logger.Debug("batch translated",
			zap.Int("batch", i+1),
			zap.Int("batches", len(batches)),
			zap.Int("pairs", len(pairs)))
		if t.opts.OnProgress != nil {
			t.opts.OnProgress(done, total)
		}
	}
	return out, nil
}

// TranslateBatch translates a single batch, negotiating the response mode
// and retrying as needed.
//
// Attempts start in structured mode. A response with no recoverable pairs
// waits ParseBackoff×(attempt+1); from the second such attempt on, the mode
// is forced to freeform. A schema rejection switches to freeform after
// SchemaFallbackDelay. Rejected keys and unexpected statuses fail at once;
// 429, 5xx and transport errors wait TransientBackoff×(attempt+1). There is
// no wait after the final attempt.
func (t *Translator) TranslateBatch(ctx context.Context, items []Item, creds settings.Credentials) ([]Pair, error) {
	if strings.TrimSpace(creds.APIKey) == "" {
		return nil, ErrNoCredential
	}
	if len(items) == 0 {
		return nil, nil
	}

	maxAttempts := t.opts.effectiveMaxRetries()
	mode := gemini.ModeStructured
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log := t.logger.With(
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Stringer("mode", mode),
			zap.Int("items", len(items)))

		body, err := gemini.BuildRequest(items, mode)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}

		var delay time.Duration
		resp, err := t.client.Generate(ctx, creds, body)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%w: %w", ErrTransient, err)
			delay = t.opts.effectiveTransientBackoff() * time.Duration(attempt+1)
			log.Warn("transport error", zap.Error(err), zap.Duration("backoff", delay))

		case resp.OK():
			if pairs := t.extract(resp.Body, items); len(pairs) > 0 {
				return pairs, nil
			}
			lastErr = ErrMalformedResponse
			delay = t.opts.effectiveParseBackoff() * time.Duration(attempt+1)
			log.Warn("no translations in response",
				zap.String("body", truncate(string(resp.Body), bodyExcerptLen)),
				zap.Duration("backoff", delay))
			if attempt >= 1 {
				mode = gemini.ModeFreeform
			}

		default:
			apiErr := classify(resp, mode)
			switch {
			case errors.Is(apiErr, ErrUnsupportedRequestShape):
				mode = gemini.ModeFreeform
				delay = t.opts.effectiveSchemaFallbackDelay()
				log.Info("structured output rejected, switching to freeform", zap.String("message", apiErr.Message))
			case errors.Is(apiErr, ErrTransient):
				lastErr = apiErr
				delay = t.opts.effectiveTransientBackoff() * time.Duration(attempt+1)
				log.Warn("transient API failure",
					zap.Int("status", apiErr.Status),
					zap.Duration("backoff", delay),
					zap.Duration("server_retry_delay", resp.RetryDelay()))
			default:
				log.Error("fatal API failure", zap.Int("status", apiErr.Status), zap.String("message", apiErr.Message))
				return nil, apiErr
			}
		}

		if attempt+1 < maxAttempts {
			if err := t.wait(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	if lastErr == nil || errors.Is(lastErr, ErrMalformedResponse) {
		return nil, fmt.Errorf("%w (after %d attempts)", ErrMalformedResponse, maxAttempts)
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}

// extract recovers pairs from a 2xx body. Envelopes go through envelope
// extraction; anything else is normalized as raw text. A flat list of
// strings whose length matches the batch is paired with the batch ids by
// position as a last resort.
func (t *Translator) extract(body []byte, items []Item) []Pair {
	n := t.normalizer
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}

	v, err := normalize.Parse(body)
	if err == nil && v.Get("candidates") != nil {
		if pairs := n.ExtractEnvelope(v); len(pairs) > 0 {
			return pairs
		}
		return n.Positional(normalize.String(normalize.CandidateText(v)), ids)
	}

	if pairs := n.NormalizeString(string(body)); len(pairs) > 0 {
		return pairs
	}
	if err == nil {
		return n.Positional(v, ids)
	}
	return nil
}
