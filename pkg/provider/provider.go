// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package provider defines the LLM provider collaborator contract.
//
// Provider implementations live outside the execution core; the runtime
// consumes them through this interface and streams their tokens onto
// IOPub under the active execution correlation.
package provider

import (
	"context"

	"github.com/kadirpekel/grimoire/pkg/registry"
)

// Token is one unit of a streamed completion.
type Token struct {
	Text string
	Done bool
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Options tunes a completion request.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// Completion is a non-streaming completion result.
type Completion struct {
	Text  string
	Usage Usage
}

// Provider is the LLM provider contract.
type Provider interface {
	// Name identifies the provider for config binding.
	Name() string

	// Complete returns the full completion for a prompt.
	Complete(ctx context.Context, prompt string, opts Options) (*Completion, error)

	// CompleteStream returns a lazy token stream. The stream is finite
	// and not restartable; consumers either drain it or cancel ctx,
	// which ends the upstream stream.
	CompleteStream(ctx context.Context, prompt string, opts Options) (<-chan Token, error)

	// Models enumerates the models this provider serves.
	Models(ctx context.Context) ([]string, error)

	// ValidateCredentials checks the provider's configured credentials.
	ValidateCredentials(ctx context.Context) error
}

// Registry holds named providers.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}
