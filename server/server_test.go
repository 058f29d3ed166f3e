package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/minios-linux/vitrans/gemini"
	"github.com/minios-linux/vitrans/page"
	"github.com/minios-linux/vitrans/settings"
	"github.com/minios-linux/vitrans/translate"
	mock_translate "github.com/minios-linux/vitrans/translate/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeTranslator struct {
	pairs []translate.Pair
	err   error
	got   []translate.Item
	echo  bool
}

func (f *fakeTranslator) TranslateItems(_ context.Context, items []translate.Item) ([]translate.Pair, error) {
	f.got = items
	if f.echo {
		var out []translate.Pair
		for _, it := range items {
			out = append(out, translate.Pair{ID: it.ID, Text: "VI " + it.Text})
		}
		return out, f.err
	}
	return f.pairs, f.err
}

type fakeProber struct {
	got settings.Credentials
}

func (f *fakeProber) Probe(_ context.Context, creds settings.Credentials) gemini.ProbeResult {
	f.got = creds
	return gemini.ProbeResult{OK: true, Status: 200, Body: `{"candidates":[]}`}
}

type fakeFetcher struct {
	fetched *page.Fetched
	err     error
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*page.Fetched, error) {
	return f.fetched, f.err
}

func newTestServer(deps Deps, opts Options) *Server {
	s := New(deps, opts)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return s
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// ---------------------------------------------------------------------------
// Service routes
// ---------------------------------------------------------------------------

func TestInfoHealthPing(t *testing.T) {
	h := newTestServer(Deps{Translator: &fakeTranslator{}}, Options{Version: "1.2.3"}).Handler()

	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	info := decode(t, rec)
	assert.Equal(t, "vitrans", info["service"])
	assert.Equal(t, "1.2.3", info["version"])

	rec = do(t, h, http.MethodGet, "/health", "")
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/ping", "")
	assert.JSONEq(t, `{"ok":true,"time":1700000000000}`, rec.Body.String())
}

func TestNotFound(t *testing.T) {
	h := newTestServer(Deps{Translator: &fakeTranslator{}}, Options{}).Handler()
	rec := do(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec)["error"])
}

func TestRequestID(t *testing.T) {
	h := newTestServer(Deps{Translator: &fakeTranslator{}}, Options{}).Handler()

	rec := do(t, h, http.MethodGet, "/health", "")
	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	assert.NoError(t, err)

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, id)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get(RequestIDHeader))

	req.Header.Set(RequestIDHeader, "not-a-uuid\r\n")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid\r\n", rec.Header().Get(RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(Deps{Translator: &fakeTranslator{}}, Options{}).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/translate", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

// ---------------------------------------------------------------------------
// Translation API
// ---------------------------------------------------------------------------

func TestTranslate_OK(t *testing.T) {
	tr := &fakeTranslator{pairs: []translate.Pair{{ID: "1", Text: "Xin chào"}}}
	h := newTestServer(Deps{Translator: tr}, Options{}).Handler()

	rec := do(t, h, http.MethodPost, "/api/translate", `{"items":[{"id":"1","text":"Hello"}]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"result":[{"id":"1","translatedText":"Xin chào"}]}`, rec.Body.String())
	assert.Equal(t, []translate.Item{{ID: "1", Text: "Hello"}}, tr.got)
}

func TestTranslate_Failures(t *testing.T) {
	tests := []struct {
		name       string
		pairs      []translate.Pair
		err        error
		wantStatus int
		wantCode   string
		wantBatch  float64
		wantPairs  int
	}{
		{
			name:       "no key",
			err:        &translate.BatchError{Index: 0, Err: translate.ErrNoCredential},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "NO_API_KEY",
			wantBatch:  1,
		},
		{
			name:  "rejected key keeps earlier batches",
			pairs: []translate.Pair{{ID: "1", Text: "một"}},
			err: &translate.BatchError{Index: 1, Err: &translate.APIError{
				Kind: translate.ErrAuthFailure, Status: 403, Message: "Permission denied",
			}},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "AUTH_403",
			wantBatch:  2,
			wantPairs:  1,
		},
		{
			name:       "unparseable answers",
			err:        &translate.BatchError{Index: 0, Err: translate.ErrMalformedResponse},
			wantStatus: http.StatusBadGateway,
			wantCode:   "BAD_JSON_RESPONSE",
			wantBatch:  1,
		},
		{
			name:       "credential store down",
			err:        &translate.BatchError{Index: 0, Err: settings.ErrUnavailable},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "UNKNOWN",
			wantBatch:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTranslator{pairs: tt.pairs, err: tt.err}
			h := newTestServer(Deps{Translator: tr}, Options{}).Handler()

			rec := do(t, h, http.MethodPost, "/api/translate", `{"items":[{"id":"1","text":"one"},{"id":"2","text":"two"}]}`)
			assert.Equal(t, tt.wantStatus, rec.Code)

			body := decode(t, rec)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, tt.wantCode, body["error"])
			assert.Equal(t, tt.wantBatch, body["batch"])
			result, ok := body["result"].([]any)
			require.True(t, ok, "result is always an array")
			assert.Len(t, result, tt.wantPairs)
		})
	}
}

func TestTranslate_BadRequests(t *testing.T) {
	h := newTestServer(Deps{Translator: &fakeTranslator{}}, Options{MaxBodyBytes: 64}).Handler()

	rec := do(t, h, http.MethodPost, "/api/translate", `{"items":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", decode(t, rec)["error"])

	rec = do(t, h, http.MethodPost, "/api/translate", `{"items":[{"id":"1","text":"a"},{"id":"1","text":"b"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["message"], "duplicate")

	rec = do(t, h, http.MethodPost, "/api/translate", `{"items":[{"id":"","text":"a"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/translate", `{"items":[{"id":"1","text":"`+strings.Repeat("a", 200)+`"}]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "TOO_LARGE", decode(t, rec)["error"])
}

func TestTranslate_EmptyItems(t *testing.T) {
	h := newTestServer(Deps{Translator: &fakeTranslator{}}, Options{}).Handler()
	rec := do(t, h, http.MethodPost, "/api/translate", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"result":[]}`, rec.Body.String())
}

// ---------------------------------------------------------------------------
// Probe and message dispatch
// ---------------------------------------------------------------------------

func TestTestAPI_UsesOverrides(t *testing.T) {
	prober := &fakeProber{}
	h := newTestServer(Deps{Translator: &fakeTranslator{}, Prober: prober}, Options{}).Handler()

	rec := do(t, h, http.MethodPost, "/api/test", `{"key":" AIzaOverride ","model":"gemini-2.0-flash"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["ok"])
	assert.Equal(t, settings.Credentials{APIKey: "AIzaOverride", Model: "gemini-2.0-flash"}, prober.got)
}

func TestTestAPI_FallsBackToStoredCredentials(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	creds := mock_translate.NewMockCredentialSource(ctrl)
	creds.EXPECT().Get(gomock.Any()).Return(settings.Credentials{APIKey: "AIzaStored"}, nil)

	prober := &fakeProber{}
	h := newTestServer(Deps{Translator: &fakeTranslator{}, Prober: prober, Credentials: creds}, Options{}).Handler()

	rec := do(t, h, http.MethodPost, "/api/test", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, settings.Credentials{APIKey: "AIzaStored", Model: settings.DefaultModel}, prober.got)
}

func TestMessageDispatch(t *testing.T) {
	tr := &fakeTranslator{echo: true}
	prober := &fakeProber{}
	h := newTestServer(Deps{Translator: tr, Prober: prober}, Options{}).Handler()

	rec := do(t, h, http.MethodPost, "/api/message", `{"type":"PING_BG"}`)
	assert.JSONEq(t, `{"ok":true,"time":1700000000000}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/message", `{"type":"TRANSLATE_TEXTS","items":[{"id":"7","text":"Hi"}]}`)
	assert.JSONEq(t, `{"ok":true,"result":[{"id":"7","translatedText":"VI Hi"}]}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/message", `{"type":"TEST_API","key":"AIzaX"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AIzaX", prober.got.APIKey)

	rec = do(t, h, http.MethodPost, "/api/message", `{"type":"DANCE"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNKNOWN_MESSAGE", decode(t, rec)["error"])
}

// ---------------------------------------------------------------------------
// Page rendering
// ---------------------------------------------------------------------------

const testPage = `<html><head><title>Hello world</title></head><body><p>Good morning</p><img src="/a.png" alt="A cat"></body></html>`

func TestTranslatePage(t *testing.T) {
	fetcher := &fakeFetcher{fetched: &page.Fetched{
		URL:         "https://example.com/post/",
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(testPage),
	}}
	tr := &fakeTranslator{echo: true}
	h := newTestServer(Deps{Translator: tr, Fetcher: fetcher}, Options{}).Handler()

	rec := do(t, h, http.MethodGet, "/translate?url=https://example.com/post", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	assert.Contains(t, out, `<html lang="vi">`)
	assert.Contains(t, out, `<base href="https://example.com/post/"/>`)
	assert.Contains(t, out, "<title>VI Hello world</title>")
	assert.Contains(t, out, "<p>VI Good morning</p>")
	assert.Contains(t, out, `alt="VI A cat"`)
	assert.Empty(t, rec.Header().Get(ErrorHeader))
}

func TestTranslatePage_Partial(t *testing.T) {
	fetcher := &fakeFetcher{fetched: &page.Fetched{URL: "https://example.com/", Body: []byte(testPage)}}
	tr := &fakeTranslator{
		pairs: []translate.Pair{{ID: "1", Text: "Xin chào thế giới"}},
		err:   &translate.BatchError{Index: 1, Err: translate.ErrMalformedResponse},
	}
	h := newTestServer(Deps{Translator: tr, Fetcher: fetcher}, Options{}).Handler()

	rec := do(t, h, http.MethodGet, "/translate?url=https://example.com/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BAD_JSON_RESPONSE", rec.Header().Get(ErrorHeader))
	assert.Contains(t, rec.Body.String(), "Xin chào thế giới")
	assert.Contains(t, rec.Body.String(), "Good morning")
}

func TestTranslatePage_Errors(t *testing.T) {
	okFetcher := &fakeFetcher{fetched: &page.Fetched{URL: "https://example.com/", Body: []byte(testPage)}}

	tests := []struct {
		name       string
		target     string
		fetcher    *fakeFetcher
		tr         *fakeTranslator
		wantStatus int
		wantCode   string
	}{
		{"missing url", "/translate", okFetcher, &fakeTranslator{}, http.StatusBadRequest, "INVALID_URL"},
		{"bad scheme", "/translate?url=ftp://example.com", okFetcher, &fakeTranslator{}, http.StatusBadRequest, "INVALID_URL"},
		{"other language", "/translate?url=https://example.com&lang=ja", okFetcher, &fakeTranslator{}, http.StatusBadRequest, "UNSUPPORTED_LANG"},
		{"fetch fails", "/translate?url=https://example.com", &fakeFetcher{err: errors.New("HTTP 404")}, &fakeTranslator{}, http.StatusBadGateway, "FETCH_FAILED"},
		{"nothing translated", "/translate?url=https://example.com", okFetcher,
			&fakeTranslator{err: &translate.BatchError{Err: translate.ErrNoCredential}}, http.StatusUnauthorized, "NO_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(Deps{Translator: tt.tr, Fetcher: tt.fetcher}, Options{}).Handler()
			rec := do(t, h, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decode(t, rec)["error"])
		})
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	s := New(Deps{Translator: &fakeTranslator{}}, Options{ShutdownTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
