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

package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framefuse/framefuse/go/backend/comfyui"
	"github.com/framefuse/framefuse/go/backend/llm"
	"github.com/framefuse/framefuse/go/pools/connpool"
)

func TestNewFactory(t *testing.T) {
	tests := []struct {
		backendType string
		wantConn    any
		wantErr     bool
	}{
		{backendType: "comfyui", wantConn: &comfyui.Conn{}},
		{backendType: "llm", wantConn: &llm.Conn{}},
		{backendType: "openai", wantConn: &llm.Conn{}},
		{backendType: "teapot", wantErr: true},
		{backendType: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.backendType, func(t *testing.T) {
			factory, err := NewFactory(connpool.Config{Name: "test", BackendType: tt.backendType})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			conn, err := factory(context.Background())
			require.NoError(t, err)
			assert.IsType(t, tt.wantConn, conn)
		})
	}
}
