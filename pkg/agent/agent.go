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

// Package agent implements provider-backed agents on top of the
// component contract.
//
// An agent formats its conversation, calls the configured provider, and
// iterates over tool calls parsed from the response. Resource limits
// bound tool calls, recursion depth and wall time; exceeding one raises
// a ResourceExceeded error which HandleError converts into a structured
// failure output.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/gerrors"
	"github.com/kadirpekel/grimoire/pkg/provider"
	"github.com/kadirpekel/grimoire/pkg/tool"
)

// ResourceLimits bounds one agent execution.
type ResourceLimits struct {
	MaxExecutionTime  time.Duration `json:"max_execution_time" yaml:"max_execution_time"`
	MaxMemory         int64         `json:"max_memory" yaml:"max_memory"`
	MaxToolCalls      int           `json:"max_tool_calls" yaml:"max_tool_calls"`
	MaxRecursionDepth int           `json:"max_recursion_depth" yaml:"max_recursion_depth"`
}

// DefaultResourceLimits returns the limits applied when none are
// configured.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxExecutionTime:  2 * time.Minute,
		MaxToolCalls:      16,
		MaxRecursionDepth: 8,
	}
}

// RetryPolicy is applied by callers (workflow engines) around Execute
// so retries cross the hook pipeline cleanly.
type RetryPolicy struct {
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	Multiplier   float64       `json:"multiplier" yaml:"multiplier"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	Jitter       bool          `json:"jitter" yaml:"jitter"`
}

// DefaultRetryPolicy retries twice with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 200 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}

// Delay returns the backoff before retry attempt n (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := float64(p.InitialDelay)
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	for i := 1; i < attempt; i++ {
		delay *= multiplier
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter && delay > 0 {
		delay = delay/2 + rand.Float64()*delay/2
	}
	return time.Duration(delay)
}

// Message is one turn of an agent conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Agent extends the component contract with conversation support.
type Agent interface {
	component.Component

	// Converse runs the agent over an explicit message history.
	Converse(ctx context.Context, messages []Message) (*component.Output, error)
}

// Config declares a provider-backed agent.
type Config struct {
	Name         string
	Description  string
	Version      string
	SystemPrompt string
	Model        string

	Provider provider.Provider
	Tools    *tool.Registry

	// AllowedTools restricts which registry tools the agent may call.
	// Empty means all tools within the security ceiling.
	AllowedTools []string

	// SecurityCeiling caps the security level of callable tools.
	SecurityCeiling tool.SecurityLevel

	Limits ResourceLimits
}

// LLMAgent is the standard provider-backed agent.
type LLMAgent struct {
	*component.Base

	systemPrompt string
	model        string
	provider     provider.Provider
	tools        *tool.Registry
	allowed      map[string]bool
	ceiling      tool.SecurityLevel
	limits       ResourceLimits
}

// New creates an agent from its config.
func New(cfg Config) (*LLMAgent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent requires a name")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("agent %s requires a provider", cfg.Name)
	}
	if cfg.Limits == (ResourceLimits{}) {
		cfg.Limits = DefaultResourceLimits()
	}
	if cfg.SecurityCeiling == "" {
		cfg.SecurityCeiling = tool.SecurityRestricted
	}

	a := &LLMAgent{
		systemPrompt: cfg.SystemPrompt,
		model:        cfg.Model,
		provider:     cfg.Provider,
		tools:        cfg.Tools,
		ceiling:      cfg.SecurityCeiling,
		limits:       cfg.Limits,
	}
	if len(cfg.AllowedTools) > 0 {
		a.allowed = make(map[string]bool, len(cfg.AllowedTools))
		for _, name := range cfg.AllowedTools {
			a.allowed[name] = true
		}
	}
	meta := component.Metadata{
		ID:          component.NewID(component.KindAgent, cfg.Name),
		Name:        cfg.Name,
		Description: cfg.Description,
		Version:     cfg.Version,
	}
	a.Base = component.NewBase(meta, a.run)
	return a, nil
}

// Provider returns the agent's provider binding.
func (a *LLMAgent) Provider() provider.Provider { return a.provider }

// Limits returns the agent's resource limits.
func (a *LLMAgent) Limits() ResourceLimits { return a.limits }

// Converse implements Agent.
func (a *LLMAgent) Converse(ctx context.Context, messages []Message) (*component.Output, error) {
	input := component.NewInput(formatConversation(messages))
	return a.Execute(ctx, input)
}

func (a *LLMAgent) run(ctx context.Context, input *component.Input) (*component.Output, error) {
	if a.limits.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.limits.MaxExecutionTime)
		defer cancel()
	}

	start := time.Now()
	usage := &component.Usage{}
	prompt := a.buildPrompt(input)

	text, err := a.iterate(ctx, prompt, usage, 0)
	if err != nil {
		if ctx.Err() != nil && gerrors.KindOf(err) != gerrors.KindResourceExceeded {
			return nil, gerrors.Wrap(gerrors.KindTimeout, "agent execution deadline exceeded", err).
				WithComponent(a.Metadata().ID.String())
		}
		return nil, err
	}

	usage.Duration = time.Since(start)
	out := component.NewOutput(text)
	out.Usage = usage
	return out, nil
}

// iterate runs one provider round and recurses while the response asks
// for tool calls.
func (a *LLMAgent) iterate(ctx context.Context, prompt string, usage *component.Usage, depth int) (string, error) {
	if depth > a.limits.MaxRecursionDepth {
		return "", gerrors.Newf(gerrors.KindResourceExceeded,
			"recursion depth %d exceeds limit %d", depth, a.limits.MaxRecursionDepth)
	}

	completion, err := a.provider.Complete(ctx, prompt, provider.Options{Model: a.model})
	if err != nil {
		return "", gerrors.Wrap(gerrors.KindProvider, "provider call failed", err)
	}
	usage.PromptTokens += completion.Usage.PromptTokens
	usage.CompletionTokens += completion.Usage.CompletionTokens
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	calls := parseToolCalls(completion.Text)
	if len(calls) == 0 {
		return completion.Text, nil
	}

	var results []string
	for _, call := range calls {
		usage.ToolCalls++
		if a.limits.MaxToolCalls > 0 && usage.ToolCalls > a.limits.MaxToolCalls {
			return "", gerrors.Newf(gerrors.KindResourceExceeded,
				"tool calls exceed limit %d", a.limits.MaxToolCalls)
		}
		result, err := a.dispatchTool(ctx, call)
		if err != nil {
			return "", err
		}
		results = append(results, fmt.Sprintf("%s: %s", call.Name, result))
	}

	next := prompt + "\n\nTool results:\n" + strings.Join(results, "\n")
	return a.iterate(ctx, next, usage, depth+1)
}

func (a *LLMAgent) dispatchTool(ctx context.Context, call toolCall) (string, error) {
	if a.tools == nil {
		return "", gerrors.Newf(gerrors.KindComponent, "agent has no tool registry, cannot call %q", call.Name)
	}
	if a.allowed != nil && !a.allowed[call.Name] {
		return "", gerrors.Newf(gerrors.KindComponent, "tool %q not in agent's allowed set", call.Name)
	}
	t, ok := a.tools.GetAllowed(call.Name, a.ceiling)
	if !ok {
		return "", gerrors.Newf(gerrors.KindComponent, "tool %q unavailable at security level %s", call.Name, a.ceiling)
	}

	input := &component.Input{Parameters: call.Parameters}
	out, err := t.Execute(ctx, input)
	if err != nil {
		return "", err
	}
	if !out.Success() {
		return "", gerrors.Newf(gerrors.KindComponent, "tool %q failed: %s", call.Name, out.Error.Message)
	}
	return out.Text, nil
}

// HandleError downgrades resource overruns to structured failure
// outputs; everything else follows the base policy.
func (a *LLMAgent) HandleError(err error) (*component.Output, error) {
	if gerrors.Is(err, gerrors.KindResourceExceeded) {
		return component.FailureOutput(err), nil
	}
	return a.Base.HandleError(err)
}

// Execute overrides the base pipeline so errors route through the
// agent's HandleError.
func (a *LLMAgent) Execute(ctx context.Context, input *component.Input) (*component.Output, error) {
	if err := a.ValidateInput(input); err != nil {
		return nil, err
	}
	out, err := a.Base.Run(ctx, input)
	if err != nil {
		return a.HandleError(err)
	}
	return out, nil
}

func (a *LLMAgent) buildPrompt(input *component.Input) string {
	var sb strings.Builder
	if a.systemPrompt != "" {
		sb.WriteString(a.systemPrompt)
		sb.WriteString("\n\n")
	}
	sb.WriteString(input.Text)
	return sb.String()
}

func formatConversation(messages []Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

type toolCall struct {
	Name       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

// parseToolCalls extracts tool invocations from a provider response.
// The wire convention is one JSON object per line of the form
// {"tool": "...", "parameters": {...}}.
func parseToolCalls(text string) []toolCall {
	var calls []toolCall
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") || !strings.Contains(line, `"tool"`) {
			continue
		}
		var call toolCall
		if err := json.Unmarshal([]byte(line), &call); err == nil && call.Name != "" {
			calls = append(calls, call)
		}
	}
	return calls
}

var _ Agent = (*LLMAgent)(nil)
