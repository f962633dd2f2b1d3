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

// Package llm implements the pool's Connection contract against an
// OpenAI-compatible inference server.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/framefuse/framefuse/go/pools/connpool"
	"github.com/framefuse/framefuse/go/tools/retry"
)

// Operations accepted by Execute.
const (
	OpChat       = "chat"
	OpCompletion = "completion"
	OpEmbeddings = "embeddings"
	OpListModels = "list_models"
)

const defaultHTTPTimeout = 300 * time.Second

// Params are the LLM-specific options carried in the pool config's
// free-form Params map.
type Params struct {
	// Model is the default model for requests that don't name one.
	Model string `mapstructure:"model"`

	// APIKey, when set, is sent as a bearer token.
	APIKey string `mapstructure:"api_key"`

	// BasePath defaults to /v1.
	BasePath string `mapstructure:"base_path"`

	// Scheme defaults to http.
	Scheme string `mapstructure:"scheme"`

	// HTTPTimeout bounds a single request. Generation can be slow, so the
	// default is generous.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// Conn is one pooled connection to an LLM server.
type Conn struct {
	baseURL    string
	model      string
	apiKey     string
	client     *http.Client
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration

	connected atomic.Bool
}

var _ connpool.Connection = (*Conn)(nil)

// NewFactory returns a pool factory producing LLM connections for cfg.
func NewFactory(cfg connpool.Config) connpool.Factory {
	return func(ctx context.Context) (connpool.Connection, error) {
		return New(cfg)
	}
}

// New builds an unconnected LLM connection from the pool config.
func New(cfg connpool.Config) (*Conn, error) {
	var params Params
	if err := mapstructure.Decode(cfg.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid llm params: %w", err)
	}

	if params.BasePath == "" {
		params.BasePath = "/v1"
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
		baseURL:    fmt.Sprintf("%s://%s:%d%s", params.Scheme, cfg.Host, cfg.Port, params.BasePath),
		model:      params.Model,
		apiKey:     params.APIKey,
		client:     &http.Client{Timeout: params.HTTPTimeout},
		logger:     logger.With("backend", "llm"),
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
	}, nil
}

// Connect verifies the server is reachable by listing its models.
func (c *Conn) Connect(ctx context.Context) error {
	if _, err := c.request(ctx, http.MethodGet, "/models", nil); err != nil {
		return err
	}
	c.connected.Store(true)
	c.logger.Debug("connected to llm backend", "base_url", c.baseURL, "model", c.model)
	return nil
}

// Disconnect drops pooled HTTP connections. Always succeeds.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.connected.Store(false)
	c.client.CloseIdleConnections()
	return nil
}

// IsHealthy probes the models endpoint.
func (c *Conn) IsHealthy(ctx context.Context) bool {
	if !c.connected.Load() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.requestOnce(probeCtx, http.MethodGet, "/models", nil)
	return err == nil
}

// Execute dispatches one named operation to the server.
func (c *Conn) Execute(ctx context.Context, op string, args map[string]any) (any, error) {
	switch op {
	case OpChat:
		messages, ok := args["messages"]
		if !ok {
			return nil, fmt.Errorf("%s requires a messages argument", op)
		}
		body := c.withModel(args, map[string]any{"messages": messages})
		return c.request(ctx, http.MethodPost, "/chat/completions", body)

	case OpCompletion:
		prompt, ok := args["prompt"]
		if !ok {
			return nil, fmt.Errorf("%s requires a prompt argument", op)
		}
		body := c.withModel(args, map[string]any{"prompt": prompt})
		return c.request(ctx, http.MethodPost, "/completions", body)

	case OpEmbeddings:
		input, ok := args["input"]
		if !ok {
			return nil, fmt.Errorf("%s requires an input argument", op)
		}
		body := c.withModel(args, map[string]any{"input": input})
		return c.request(ctx, http.MethodPost, "/embeddings", body)

	case OpListModels:
		return c.request(ctx, http.MethodGet, "/models", nil)

	default:
		return nil, fmt.Errorf("unknown llm operation %q", op)
	}
}

// withModel fills the request body with the model (argument overrides the
// connection default) and the optional generation knobs.
func (c *Conn) withModel(args, body map[string]any) map[string]any {
	model := c.model
	if m, ok := args["model"].(string); ok && m != "" {
		model = m
	}
	if model != "" {
		body["model"] = model
	}
	for _, knob := range []string{"temperature", "max_tokens", "top_p", "stop"} {
		if v, ok := args[knob]; ok {
			body[knob] = v
		}
	}
	return body
}

// request performs one API call, retrying transport errors and server-side
// (5xx) failures with jittered exponential backoff up to the configured
// retry budget.
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
		var retryable *retryableError
		if !errors.As(err, &retryable) {
			return nil, err
		}
		lastErr = err
		c.logger.Debug("retrying llm request", "method", method, "path", path,
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
		return nil, &retryableError{fmt.Errorf("llm transport: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{fmt.Errorf("llm transport: %w", err)}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &retryableError{fmt.Errorf("llm %s %s: status %d", method, path, resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("llm %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
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

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }
