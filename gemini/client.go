package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/minios-linux/vitrans/settings"
	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the public Generative Language API host.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 16 << 20

// Client sends generateContent requests.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a Client for baseURL (DefaultBaseURL when empty). proxy
// overrides HTTP_PROXY/HTTPS_PROXY when set.
func NewClient(baseURL, proxy string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    makeHTTPClient(proxy, timeout),
	}
}

// ---------------------------------------------------------------------------
// HTTP client with real proxy support
// ---------------------------------------------------------------------------

func makeHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	// Support both --proxy flag and HTTP_PROXY/HTTPS_PROXY env vars
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// ---------------------------------------------------------------------------
// generateContent
// ---------------------------------------------------------------------------

// Response is a completed HTTP exchange. Non-2xx statuses are responses,
// not errors.
type Response struct {
	Status int
	Body   []byte
	// Message is error.message from the body, if present.
	Message string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// RetryDelay returns the delay suggested by a google.rpc.RetryInfo detail,
// or zero when the body carries none.
func (r *Response) RetryDelay() time.Duration {
	var delay time.Duration
	gjson.GetBytes(r.Body, "error.details").ForEach(func(_, detail gjson.Result) bool {
		if !strings.Contains(detail.Get("@type").String(), "RetryInfo") {
			return true
		}
		// Durations look like "30s" or "45.123s".
		raw := strings.TrimSuffix(detail.Get("retryDelay").String(), "s")
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			delay = time.Duration(secs * float64(time.Second))
			return false
		}
		return true
	})
	return delay
}

// ModelPath returns the path segment for model, accepting both
// "gemini-2.5-flash" and "models/gemini-2.5-flash".
func ModelPath(model string) string {
	return url.PathEscape(strings.TrimPrefix(strings.TrimSpace(model), "models/"))
}

func (c *Client) endpoint(creds settings.Credentials) string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.BaseURL, ModelPath(creds.Model), url.QueryEscape(creds.APIKey))
}

// Generate POSTs body to the generateContent endpoint of creds.Model.
// Only transport failures are returned as errors.
func (c *Client) Generate(ctx context.Context, creds settings.Credentials, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(creds), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", redact(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &Response{
		Status:  resp.StatusCode,
		Body:    respBody,
		Message: gjson.GetBytes(respBody, "error.message").String(),
	}, nil
}

// redact strips the query string (and with it the API key) from URL errors.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if i := strings.IndexByte(urlErr.URL, '?'); i >= 0 {
			urlErr.URL = urlErr.URL[:i]
		}
	}
	return err
}

// ---------------------------------------------------------------------------
// Connectivity check
// ---------------------------------------------------------------------------

// ProbeResult reports the outcome of Probe.
type ProbeResult struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Probe sends a tiny JSON-mode request and reports what came back. A
// transport failure is reported in the result, not as an error.
func (c *Client) Probe(ctx context.Context, creds settings.Credentials) ProbeResult {
	if strings.TrimSpace(creds.APIKey) == "" {
		return ProbeResult{Error: "NO_API_KEY"}
	}
	body, err := probeRequest()
	if err != nil {
		return ProbeResult{Error: err.Error()}
	}
	resp, err := c.Generate(ctx, creds, body)
	if err != nil {
		return ProbeResult{Error: err.Error()}
	}
	return ProbeResult{OK: resp.OK(), Status: resp.Status, Body: string(resp.Body)}
}
