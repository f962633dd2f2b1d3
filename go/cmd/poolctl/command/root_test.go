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

package command

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/framefuse/framefuse/go/pools/connpool"
)

func TestRootCommandStructure(t *testing.T) {
	root, pc := GetRootCommand()
	require.NotNil(t, pc)

	names := make([]string, 0, len(root.Commands()))
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Contains(t, names, "ping")
	assert.Contains(t, names, "bench")

	for _, flag := range []string{"backend-type", "backend-host", "backend-port", "pool-name", "log-level", "log-format", "output"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing flag %s", flag)
	}
}

func TestSetupLoggingRejectsBadLevel(t *testing.T) {
	root, pc := GetRootCommand()
	require.NoError(t, root.PersistentFlags().Parse([]string{"--log-level=loud"}))
	assert.Error(t, pc.setupLogging())
}

func TestPrintStats(t *testing.T) {
	stats := connpool.Stats{
		TotalConnections: 3,
		IdleConnections:  2,
		TotalRequests:    40,
		AverageWaitTime:  12 * time.Millisecond,
	}

	root, pc := GetRootCommand()

	var buf bytes.Buffer
	require.NoError(t, pc.printStats(&buf, stats))
	var fromYAML connpool.Stats
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, 3, fromYAML.TotalConnections)

	require.NoError(t, root.PersistentFlags().Parse([]string{"--output=json"}))
	buf.Reset()
	require.NoError(t, pc.printStats(&buf, stats))
	var fromJSON connpool.Stats
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, int64(40), fromJSON.TotalRequests)
}
