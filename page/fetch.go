package page

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DefaultUserAgent is sent when Fetcher.UserAgent is empty. Some sites serve
// reduced pages to unknown clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127 Safari/537.36"

// maxPageBytes bounds how much of a page is read.
const maxPageBytes = 10 << 20

// ErrInvalidURL is returned for anything but an absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid URL")

// StatusError is a non-2xx answer from the page's server.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s: HTTP %d", e.URL, e.Status)
}

// Fetched is a downloaded page.
type Fetched struct {
	// URL is the final URL after redirects.
	URL         string
	ContentType string
	Body        []byte
}

// Fetcher downloads pages, retrying network errors and 5xx answers with
// exponential backoff. 4xx answers fail at once.
type Fetcher struct {
	HTTP        *http.Client
	UserAgent   string
	MaxAttempts uint64
	Logger      *zap.Logger

	newBackOff func() backoff.BackOff
}

// NewFetcher returns a Fetcher using client (http.DefaultClient when nil).
func NewFetcher(client *http.Client, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{HTTP: client, MaxAttempts: 3, Logger: logger}
}

// ValidateURL accepts absolute http and https URLs with a host.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return u, nil
}

func (f *Fetcher) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if f.newBackOff != nil {
		b = f.newBackOff()
	} else {
		expo := backoff.NewExponentialBackOff()
		expo.InitialInterval = time.Second
		expo.MaxInterval = 8 * time.Second
		expo.MaxElapsedTime = 0
		b = expo
	}
	attempts := f.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, attempts-1), ctx)
}

// Fetch downloads rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Fetched, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}
	ua := f.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var out *Fetched
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", ua)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := f.HTTP.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			serr := &StatusError{URL: u.String(), Status: resp.StatusCode}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(serr)
			}
			return serr
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		if err != nil {
			return fmt.Errorf("reading %s: %w", u, err)
		}
		out = &Fetched{
			URL:         resp.Request.URL.String(),
			ContentType: resp.Header.Get("Content-Type"),
			Body:        body,
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("page fetch failed, retrying",
			zap.String("url", u.String()),
			zap.Error(err),
			zap.Duration("backoff", wait))
	}
	if err := backoff.RetryNotify(op, f.backOff(ctx), notify); err != nil {
		return nil, err
	}
	return out, nil
}
