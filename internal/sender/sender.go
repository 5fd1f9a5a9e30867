package sender

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/renvik/presend/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultTimeout         = 30 * time.Second
)

// Config configures the HTTP sender.
type Config struct {
	MaxResponseBody int64
	Timeout         time.Duration
	FollowRedirects bool
	MaxRedirects    int
	TLSSkipVerify   bool
}

// Response captures the outcome of a sent request.
type Response struct {
	StatusCode  int               `json:"status_code"`
	Status      string            `json:"status"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
	ContentType string            `json:"content_type"`
	DurationMs  int64             `json:"duration_ms"`
}

// Sender executes rendered request records over HTTP. It expects fully
// rendered fields: any remaining ${{...}} text is sent verbatim.
type Sender struct {
	config Config
	logger *slog.Logger
}

// New creates a Sender, applying defaults for unset limits.
func New(cfg Config, logger *slog.Logger) *Sender {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{config: cfg, logger: logger}
}

// Send executes the request and returns the response. The request's URL is
// required; method defaults to GET; headers, when present, must be a JSON
// object of string values.
func (s *Sender) Send(ctx context.Context, req *schema.Request) (*Response, error) {
	if req == nil || req.URL == nil || *req.URL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "request has no url")
	}
	rawURL := *req.URL
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid url %q", rawURL)
	}

	method := http.MethodGet
	if req.Method != nil && *req.Method != "" {
		method = strings.ToUpper(*req.Method)
	}

	var body io.Reader
	if req.Payload != nil && *req.Payload != "" {
		body = strings.NewReader(*req.Payload)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, method, rawURL, body)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSend, "failed to create request").WithCause(err)
	}

	headers, err := parseHeaders(req.Headers)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := s.newClient()

	start := time.Now()
	resp, err := client.Do(httpReq)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSend, "request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, s.config.MaxResponseBody)
	bodyBytes, err := io.ReadAll(limited)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSend, "failed to read response body").WithCause(err)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	out := &Response{
		StatusCode:  resp.StatusCode,
		Status:      resp.Status,
		Headers:     respHeaders,
		Body:        string(bodyBytes),
		ContentType: resp.Header.Get("Content-Type"),
		DurationMs:  durationMs,
	}

	s.logger.InfoContext(ctx, "request sent",
		"request", req.Name,
		"method", method,
		"status_code", out.StatusCode,
		"duration_ms", out.DurationMs)

	return out, nil
}

// newClient builds a client per send to avoid mutating shared transport state.
func (s *Sender) newClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if s.config.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := &http.Client{Transport: transport}

	if !s.config.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else {
		limit := s.config.MaxRedirects
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		}
	}
	return client
}

// parseHeaders decodes the headers field, a JSON object of string values.
func parseHeaders(raw *string) (map[string]string, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(*raw), &headers); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "headers must be a JSON object of strings").WithCause(err)
	}
	return headers, nil
}
