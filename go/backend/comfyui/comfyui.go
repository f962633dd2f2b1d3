// Copyright 2025 The Framefuse Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package comfyui implements the pool's Connection contract against a
// ComfyUI server's HTTP API.
package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/framefuse/framefuse/go/pools/connpool"
	"github.com/framefuse/framefuse/go/tools/retry"
)

// Operations accepted by Execute.
const (
	OpSubmitPrompt = "submit_prompt"
	OpGetHistory   = "get_history"
	OpGetQueue     = "get_queue"
	OpInterrupt    = "interrupt"
	OpSystemStats  = "system_stats"
)

const defaultHTTPTimeout = 120 * time.Second

// Params are the ComfyUI-specific options carried in the pool config's
// free-form Params map.
type Params struct {
	// ClientID identifies this connection to ComfyUI's queue. Defaults to a
	// fresh UUID per connection.
	ClientID string `mapstructure:"client_id"`

	// APIKey, when set, is sent as a bearer token.
	APIKey string `mapstructure:"api_key"`

	// Scheme defaults to http.
	Scheme string `mapstructure:"scheme"`

	// HTTPTimeout bounds a single request. Prompt execution is asynchronous
	// on the server, so this only covers submission and polling calls.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// Conn is one pooled connection to a ComfyUI server.
type Conn struct {
	baseURL    string
	clientID   string
	apiKey     string
	client     *http.Client
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration

	connected atomic.Bool
}

var _ connpool.Connection = (*Conn)(nil)

// NewFactory returns a pool factory producing ComfyUI connections for cfg.
func NewFactory(cfg connpool.Config) connpool.Factory {
	return func(ctx context.Context) (connpool.Connection, error) {
		return New(cfg)
	}
}

// New builds an unconnected ComfyUI connection from the pool config.
func New(cfg connpool.Config) (*Conn, error) {
	var params Params
	if err := mapstructure.Decode(cfg.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid comfyui params: %w", err)
	}

	if params.ClientID == "" {
		params.ClientID = uuid.NewString()
	}
	if params.Scheme == "" {
		params.Scheme = "http"
	}
	if params.HTTPTimeout <= 0 {
		params.HTTPTimeout = defaultHTTPTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = connpool.DefaultRetryDelay
	}

	return &Conn{
		baseURL:    fmt.Sprintf("%s://%s:%d", params.Scheme, cfg.Host, cfg.Port),
		clientID:   params.ClientID,
		apiKey:     params.APIKey,
		client:     &http.Client{Timeout: params.HTTPTimeout},
		logger:     logger.With("backend", "comfyui"),
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
	}, nil
}

// ClientID returns the queue client identity used by this connection.
func (c *Conn) ClientID() string {
	return c.clientID
}

// Connect verifies the server is reachable by fetching its system stats.
func (c *Conn) Connect(ctx context.Context) error {
	if _, err := c.request(ctx, http.MethodGet, "/system_stats", nil); err != nil {
		return err
	}
	c.connected.Store(true)
	c.logger.Debug("connected to comfyui", "base_url", c.baseURL, "client_id", c.clientID)
	return nil
}

// Disconnect drops pooled HTTP connections. Always succeeds.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.connected.Store(false)
	c.client.CloseIdleConnections()
	return nil
}

// IsHealthy probes the server's system stats endpoint.
func (c *Conn) IsHealthy(ctx context.Context) bool {
	if !c.connected.Load() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.requestOnce(probeCtx, http.MethodGet, "/system_stats", nil)
	return err == nil
}

// Execute dispatches one named operation to the server.
func (c *Conn) Execute(ctx context.Context, op string, args map[string]any) (any, error) {
	switch op {
	case OpSubmitPrompt:
		prompt, ok := args["prompt"]
		if !ok {
			return nil, fmt.Errorf("%s requires a prompt argument", op)
		}
		body := map[string]any{
			"prompt":    prompt,
			"client_id": c.clientID,
		}
		if extra, ok := args["extra_data"]; ok {
			body["extra_data"] = extra
		}
		return c.request(ctx, http.MethodPost, "/prompt", body)

	case OpGetHistory:
		promptID, _ := args["prompt_id"].(string)
		if promptID == "" {
			return nil, fmt.Errorf("%s requires a prompt_id argument", op)
		}
		return c.request(ctx, http.MethodGet, "/history/"+promptID, nil)

	case OpGetQueue:
		return c.request(ctx, http.MethodGet, "/queue", nil)

	case OpInterrupt:
		return c.request(ctx, http.MethodPost, "/interrupt", nil)

	case OpSystemStats:
		return c.request(ctx, http.MethodGet, "/system_stats", nil)

	default:
		return nil, fmt.Errorf("unknown comfyui operation %q", op)
	}
}

// request performs one API call, retrying transport errors and server-side
// (5xx) failures with jittered exponential backoff up to the configured
// retry budget. Client-side (4xx) failures are returned immediately.
func (c *Conn) request(ctx context.Context, method, path string, body any) (map[string]any, error) {
	r := retry.New(c.retryDelay, 8*c.retryDelay)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := r.StartAttempt(ctx); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		result, err := c.requestOnce(ctx, method, path, body)
		if err == nil {
			return result, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
		c.logger.Debug("retrying comfyui request", "method", method, "path", path,
			"attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (c *Conn) requestOnce(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s body: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &transportError{err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err}
	}

	if resp.StatusCode >= 500 {
		return nil, &serverError{status: resp.StatusCode, path: path}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("comfyui %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}

	if len(data) == 0 {
		return nil, nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", path, err)
	}
	return result, nil
}

type transportError struct{ err error }

func (e *transportError) Error() string { return "comfyui transport: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

type serverError struct {
	status int
	path   string
}

func (e *serverError) Error() string {
	return fmt.Sprintf("comfyui server error on %s: status %d", e.path, e.status)
}

func isRetryable(err error) bool {
	switch err.(type) {
	case *transportError, *serverError:
		return true
	default:
		return false
	}
}
