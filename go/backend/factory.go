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

// Package backend maps backend type names to connection factories.
package backend

import (
	"fmt"

	"github.com/framefuse/framefuse/go/backend/comfyui"
	"github.com/framefuse/framefuse/go/backend/llm"
	"github.com/framefuse/framefuse/go/pools/connpool"
)

// NewFactory returns the connection factory for the config's backend type.
func NewFactory(cfg connpool.Config) (connpool.Factory, error) {
	switch cfg.BackendType {
	case "comfyui":
		return comfyui.NewFactory(cfg), nil
	case "llm", "openai":
		return llm.NewFactory(cfg), nil
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.BackendType)
	}
}
