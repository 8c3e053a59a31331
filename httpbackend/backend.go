// Package httpbackend implements optimistic.Backend over JSON HTTP.
package httpbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goforj/optimistic"
)

const defaultTimeout = 30 * time.Second

// StatusError reports a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpbackend: %s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// Config configures a Backend.
type Config struct {
	// BaseURL is prefixed to every request URL, e.g. "https://example.com".
	BaseURL string
	// Client defaults to an http.Client with a 30s timeout.
	Client *http.Client
	// Header is added to every request.
	Header http.Header
	// Logger defaults to discarding.
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Client == nil {
		c.Client = &http.Client{Timeout: defaultTimeout}
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// Backend sends model requests as JSON over HTTP.
type Backend struct {
	cfg Config
}

// New builds a Backend.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg.withDefaults()}
}

// Do implements optimistic.Backend. Responses are returned as raw JSON; an
// empty body is returned as nil.
func (b *Backend) Do(ctx context.Context, req optimistic.Request) (any, error) {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("httpbackend: encode %s body: %w", req.Operation, err)
		}
		body = bytes.NewReader(payload)
	}
	url := b.cfg.BaseURL + req.URL
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("httpbackend: build request: %w", err)
	}
	for k, vs := range b.cfg.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := b.cfg.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpbackend: read response: %w", err)
	}
	b.cfg.Logger.Debug("http backend call", "method", req.Method, "url", url, "status", resp.StatusCode, "dur", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: req.Method, URL: url, StatusCode: resp.StatusCode, Body: payload}
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("httpbackend: %s %s: invalid JSON response", req.Method, url)
	}
	return json.RawMessage(payload), nil
}
