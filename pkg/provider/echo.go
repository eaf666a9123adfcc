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

package provider

import (
	"context"
	"strings"
)

// Echo is an in-process provider that returns its prompt. Used by
// tests and as a wiring default when no real provider is configured.
type Echo struct {
	// Transform optionally rewrites the prompt before echoing.
	Transform func(prompt string) string
}

// NewEcho creates an echo provider.
func NewEcho() *Echo {
	return &Echo{}
}

func (e *Echo) Name() string { return "echo" }

func (e *Echo) Complete(ctx context.Context, prompt string, _ Options) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := prompt
	if e.Transform != nil {
		text = e.Transform(prompt)
	}
	return &Completion{
		Text: text,
		Usage: Usage{
			PromptTokens:     len(strings.Fields(prompt)),
			CompletionTokens: len(strings.Fields(text)),
		},
	}, nil
}

func (e *Echo) CompleteStream(ctx context.Context, prompt string, opts Options) (<-chan Token, error) {
	completion, err := e.Complete(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	ch := make(chan Token)
	go func() {
		defer close(ch)
		for _, word := range strings.Fields(completion.Text) {
			select {
			case <-ctx.Done():
				return
			case ch <- Token{Text: word + " "}:
			}
		}
		select {
		case <-ctx.Done():
		case ch <- Token{Done: true}:
		}
	}()
	return ch, nil
}

func (e *Echo) Models(context.Context) ([]string, error) {
	return []string{"echo-1"}, nil
}

func (e *Echo) ValidateCredentials(context.Context) error {
	return nil
}

var _ Provider = (*Echo)(nil)
