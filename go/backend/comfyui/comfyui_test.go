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

package comfyui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framefuse/framefuse/go/pools/connpool"
)

func testConn(t *testing.T, server *httptest.Server, params map[string]any) *Conn {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	conn, err := New(connpool.Config{
		Name:        "test",
		BackendType: "comfyui",
		Host:        u.Hostname(),
		Port:        port,
		MaxRetries:  2,
		RetryDelay:  time.Millisecond,
		Params:      params,
	})
	require.NoError(t, err)
	return conn
}

func systemStatsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/system_stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"system": map[string]any{"os": "linux"}})
	})
	return mux
}

func TestConnectAndHealth(t *testing.T) {
	server := httptest.NewServer(systemStatsHandler())
	defer server.Close()

	conn := testConn(t, server, nil)
	ctx := context.Background()

	assert.False(t, conn.IsHealthy(ctx))
	require.NoError(t, conn.Connect(ctx))
	assert.True(t, conn.IsHealthy(ctx))

	require.NoError(t, conn.Disconnect(ctx))
	assert.False(t, conn.IsHealthy(ctx))
}

func TestConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	conn := testConn(t, server, nil)
	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, conn.IsHealthy(context.Background()))
}

func TestSubmitPrompt(t *testing.T) {
	var received map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(map[string]any{"prompt_id": "abc123", "number": 1})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := testConn(t, server, map[string]any{"client_id": "client-1"})
	result, err := conn.Execute(context.Background(), OpSubmitPrompt, map[string]any{
		"prompt": map[string]any{"3": map[string]any{"class_type": "KSampler"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "client-1", received["client_id"])
	assert.Contains(t, received, "prompt")
	assert.Equal(t, "abc123", result.(map[string]any)["prompt_id"])
}

func TestSubmitPromptRequiresPrompt(t *testing.T) {
	server := httptest.NewServer(systemStatsHandler())
	defer server.Close()

	conn := testConn(t, server, nil)
	_, err := conn.Execute(context.Background(), OpSubmitPrompt, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt")
}

func TestGetHistoryRequiresPromptID(t *testing.T) {
	server := httptest.NewServer(systemStatsHandler())
	defer server.Close()

	conn := testConn(t, server, nil)
	_, err := conn.Execute(context.Background(), OpGetHistory, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt_id")
}

func TestUnknownOperation(t *testing.T) {
	server := httptest.NewServer(systemStatsHandler())
	defer server.Close()

	conn := testConn(t, server, nil)
	_, err := conn.Execute(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown comfyui operation")
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/queue", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"queue_running": []any{}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := testConn(t, server, nil)
	result, err := conn.Execute(context.Background(), OpGetQueue, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
	assert.Contains(t, result.(map[string]any), "queue_running")
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	conn := testConn(t, server, nil)
	_, err := conn.Execute(context.Background(), OpSystemStats, nil)
	require.Error(t, err)
	// 1 initial attempt + 2 retries.
	assert.Equal(t, int64(3), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad node graph", http.StatusBadRequest)
	}))
	defer server.Close()

	conn := testConn(t, server, nil)
	_, err := conn.Execute(context.Background(), OpInterrupt, nil)
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load())
	assert.Contains(t, err.Error(), "bad node graph")
}

func TestBearerAuth(t *testing.T) {
	var auth string
	mux := http.NewServeMux()
	mux.HandleFunc("/system_stats", func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := testConn(t, server, map[string]any{"api_key": "secret"})
	_, err := conn.Execute(context.Background(), OpSystemStats, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
}

func TestDefaultClientID(t *testing.T) {
	server := httptest.NewServer(systemStatsHandler())
	defer server.Close()

	a := testConn(t, server, nil)
	b := testConn(t, server, nil)
	assert.NotEmpty(t, a.ClientID())
	assert.NotEqual(t, a.ClientID(), b.ClientID())
}

func TestInvalidParams(t *testing.T) {
	_, err := New(connpool.Config{
		Params: map[string]any{"client_id": []string{"not", "a", "string"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid comfyui params")
}
