// Package server exposes translation over HTTP for the browser extension
// and renders whole pages in Vietnamese.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/minios-linux/vitrans/gemini"
	"github.com/minios-linux/vitrans/page"
	"github.com/minios-linux/vitrans/settings"
	"github.com/minios-linux/vitrans/translate"
	"go.uber.org/zap"
)

// Translator is implemented by *translate.Translator.
type Translator interface {
	TranslateItems(ctx context.Context, items []translate.Item) ([]translate.Pair, error)
}

// Prober is implemented by *gemini.Client.
type Prober interface {
	Probe(ctx context.Context, creds settings.Credentials) gemini.ProbeResult
}

// Fetcher is implemented by *page.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*page.Fetched, error)
}

// Deps are the collaborators of a Server. Translator is required; the
// others disable their routes' work when nil.
type Deps struct {
	Translator  Translator
	Prober      Prober
	Credentials translate.CredentialSource
	Fetcher     Fetcher
	Logger      *zap.Logger
}

// Options tune the HTTP surface.
type Options struct {
	CORSOrigins  []string
	MaxBodyBytes int64
	Version      string
	// ShutdownTimeout bounds graceful shutdown in ListenAndServe.
	ShutdownTimeout time.Duration
}

// Server serves the vitrans HTTP API.
type Server struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Server.
func New(deps Deps, opts Options) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 4 << 20
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Server{deps: deps, opts: opts, logger: logger, now: time.Now}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(RequestID)
	r.Use(Logger(s.logger))
	r.Use(cors.Handler(CORSOptions(s.opts.CORSOrigins)))

	r.Get("/", s.handleInfo)
	r.Get("/health", s.handleHealth)
	r.Get("/translate", s.handleTranslatePage)

	r.Route("/api", func(r chi.Router) {
		r.Use(MaxBodySize(s.opts.MaxBodyBytes))
		r.Get("/ping", s.handlePing)
		r.Post("/translate", s.handleTranslate)
		r.Post("/test", s.handleTest)
		r.Post("/message", s.handleMessage)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonError(w, "NOT_FOUND", fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path), http.StatusNotFound)
	})
	return r
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
