package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/minios-linux/vitrans/page"
	"github.com/minios-linux/vitrans/settings"
	"github.com/minios-linux/vitrans/translate"
	"go.uber.org/zap"
)

// Message types accepted by POST /api/message.
const (
	MessageTranslateTexts = "TRANSLATE_TEXTS"
	MessagePing           = "PING_BG"
	MessageTestAPI        = "TEST_API"
)

// ErrorHeader carries the error code of a partially translated page.
const ErrorHeader = "X-Vitrans-Error"

// message is the union of every request body the API accepts.
type message struct {
	Type  string           `json:"type,omitempty"`
	Items []translate.Item `json:"items,omitempty"`
	Key   string           `json:"key,omitempty"`
	Model string           `json:"model,omitempty"`
}

type translateResponse struct {
	OK      bool             `json:"ok"`
	Result  []translate.Pair `json:"result"`
	Error   string           `json:"error,omitempty"`
	Message string           `json:"message,omitempty"`
	// Batch is the 1-based batch that failed.
	Batch int `json:"batch,omitempty"`
}

type errorResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, code, msg string, status int) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

func decodeMessage(w http.ResponseWriter, r *http.Request) (message, bool) {
	var msg message
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&msg); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "TOO_LARGE", err.Error(), http.StatusRequestEntityTooLarge)
			return msg, false
		}
		jsonError(w, "BAD_REQUEST", "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return msg, false
	}
	return msg, true
}

// statusFor maps a translation failure to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, translate.ErrNoCredential), errors.Is(err, translate.ErrAuthFailure):
		return http.StatusUnauthorized
	case errors.Is(err, settings.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, translate.ErrMalformedResponse),
		errors.Is(err, translate.ErrTransient),
		errors.Is(err, translate.ErrUnexpectedStatus):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "vitrans",
		"status":  "running",
		"version": s.opts.Version,
		"usage": map[string]string{
			"endpoint": "/translate",
			"example":  "/translate?url=https://example.com&lang=vi",
			"api":      "POST /api/translate {\"items\":[{\"id\":\"1\",\"text\":\"Hello\"}]}",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.ping(w)
}

func (s *Server) ping(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "time": s.now().UnixMilli()})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	msg, ok := decodeMessage(w, r)
	if !ok {
		return
	}
	s.translateItems(w, r, msg.Items)
}

func (s *Server) translateItems(w http.ResponseWriter, r *http.Request, items []translate.Item) {
	if err := validateItems(items); err != nil {
		jsonError(w, "BAD_REQUEST", err.Error(), http.StatusBadRequest)
		return
	}

	pairs, err := s.deps.Translator.TranslateItems(r.Context(), items)
	if pairs == nil {
		pairs = []translate.Pair{}
	}
	if err != nil {
		resp := translateResponse{Result: pairs, Error: translate.Code(err), Message: err.Error()}
		var batchErr *translate.BatchError
		if errors.As(err, &batchErr) {
			resp.Batch = batchErr.Index + 1
		}
		s.logger.Warn("translation failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Int("items", len(items)),
			zap.Int("recovered", len(pairs)),
			zap.Error(err))
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, translateResponse{OK: true, Result: pairs})
}

func validateItems(items []translate.Item) error {
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			return fmt.Errorf("item %d has no id", i)
		}
		if seen[it.ID] {
			return fmt.Errorf("duplicate item id %q", it.ID)
		}
		seen[it.ID] = true
	}
	return nil
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	msg, ok := decodeMessage(w, r)
	if !ok {
		return
	}
	s.testAPI(w, r, msg)
}

// testAPI probes the API with the key and model from the request, falling
// back to the stored credentials for whichever is missing.
func (s *Server) testAPI(w http.ResponseWriter, r *http.Request, msg message) {
	if s.deps.Prober == nil {
		jsonError(w, "UNAVAILABLE", "API probing is not configured", http.StatusNotImplemented)
		return
	}
	creds := settings.Credentials{
		APIKey: strings.TrimSpace(msg.Key),
		Model:  strings.TrimSpace(msg.Model),
	}
	if (creds.APIKey == "" || creds.Model == "") && s.deps.Credentials != nil {
		stored, err := s.deps.Credentials.Get(r.Context())
		if err != nil {
			s.logger.Warn("reading stored credentials", zap.Error(err))
		}
		if creds.APIKey == "" {
			creds.APIKey = stored.APIKey
		}
		if creds.Model == "" {
			creds.Model = stored.Model
		}
	}
	if creds.Model == "" {
		creds.Model = settings.DefaultModel
	}
	writeJSON(w, http.StatusOK, s.deps.Prober.Probe(r.Context(), creds))
}

// handleMessage dispatches extension-style {type: ...} messages.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := decodeMessage(w, r)
	if !ok {
		return
	}
	switch msg.Type {
	case MessageTranslateTexts:
		s.translateItems(w, r, msg.Items)
	case MessagePing:
		s.ping(w)
	case MessageTestAPI:
		s.testAPI(w, r, msg)
	default:
		jsonError(w, "UNKNOWN_MESSAGE", fmt.Sprintf("unknown message type %q", msg.Type), http.StatusBadRequest)
	}
}

// handleTranslatePage fetches ?url= and returns it translated to
// Vietnamese. A page that was only partly translated is still returned, with
// the error code in ErrorHeader.
func (s *Server) handleTranslatePage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Fetcher == nil {
		jsonError(w, "UNAVAILABLE", "page translation is not configured", http.StatusNotImplemented)
		return
	}
	rawURL := r.URL.Query().Get("url")
	if _, err := page.ValidateURL(rawURL); err != nil {
		jsonError(w, "INVALID_URL", err.Error(), http.StatusBadRequest)
		return
	}
	if lang := r.URL.Query().Get("lang"); lang != "" && lang != "vi" {
		jsonError(w, "UNSUPPORTED_LANG", fmt.Sprintf("only Vietnamese (vi) is supported, got %q", lang), http.StatusBadRequest)
		return
	}

	fetched, err := s.deps.Fetcher.Fetch(r.Context(), rawURL)
	if err != nil {
		jsonError(w, "FETCH_FAILED", err.Error(), http.StatusBadGateway)
		return
	}
	doc, err := page.ParseWithCharset(fetched.Body, fetched.ContentType)
	if err != nil {
		jsonError(w, "BAD_PAGE", err.Error(), http.StatusBadGateway)
		return
	}
	doc.SetBase(fetched.URL)

	applied, err := page.Translate(r.Context(), doc, s.deps.Translator)
	if err != nil {
		s.logger.Warn("page translation incomplete",
			zap.String("url", fetched.URL),
			zap.Int("applied", applied),
			zap.Error(err))
		if applied == 0 {
			writeJSON(w, statusFor(err), errorResponse{Error: translate.Code(err), Message: err.Error()})
			return
		}
		w.Header().Set(ErrorHeader, translate.Code(err))
	}
	if applied > 0 {
		doc.SetLang("vi")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := doc.Render(w); err != nil {
		s.logger.Error("rendering page", zap.Error(err))
	}
}
