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

package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/grimoire/pkg/protocol"
)

// Breakpoint is one registered script breakpoint.
type Breakpoint struct {
	ID     int    `json:"id"`
	File   string `json:"file"`
	Line   int    `json:"line"`
	Active bool   `json:"active"`
}

// DebugHandler implements the lightweight debug protocol parallel to
// execute: breakpoint management, stepping and expression evaluation.
// IOPub debug events are rate-limited to prevent flooding.
type DebugHandler struct {
	kernel *Kernel

	mu          sync.Mutex
	breakpoints map[int]*Breakpoint
	nextID      int
	paused      bool

	// Fixed one-second window for the IOPub event rate breaker.
	windowStart time.Time
	windowCount int
	suppressed  uint64
}

func newDebugHandler(k *Kernel) *DebugHandler {
	return &DebugHandler{
		kernel:      k,
		breakpoints: make(map[int]*Breakpoint),
		nextID:      1,
	}
}

// Handle processes one debug_request. The command is carried in
// content.command; replies mirror the request on the same channel.
func (d *DebugHandler) Handle(ctx context.Context, channel protocol.Channel, msg *protocol.Message) error {
	command, _ := msg.Content["command"].(string)

	var content map[string]any
	switch command {
	case "set_breakpoint":
		content = d.setBreakpoint(msg.Content)
	case "clear_breakpoint":
		content = d.clearBreakpoint(msg.Content)
	case "continue":
		content = d.resume("continue")
	case "step_into":
		content = d.resume("step_into")
	case "step_over":
		content = d.resume("step_over")
	case "step_out":
		content = d.resume("step_out")
	case "evaluate":
		content = d.evaluate(ctx, msg.Content)
	case "list_breakpoints":
		content = d.list()
	default:
		content = map[string]any{
			"status": "error",
			"error":  fmt.Sprintf("unknown debug command %q", command),
		}
	}

	return d.kernel.sendReply(ctx, channel, msg.Reply("debug_reply", content))
}

func (d *DebugHandler) setBreakpoint(content map[string]any) map[string]any {
	var args struct {
		File string `mapstructure:"file"`
		Line int    `mapstructure:"line"`
	}
	if err := mapstructure.WeakDecode(content, &args); err != nil || args.File == "" || args.Line <= 0 {
		return map[string]any{"status": "error", "error": "set_breakpoint requires file and line"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	bp := &Breakpoint{ID: d.nextID, File: args.File, Line: args.Line, Active: true}
	d.breakpoints[bp.ID] = bp
	d.nextID++
	return map[string]any{"status": "ok", "breakpoint": bp}
}

func (d *DebugHandler) clearBreakpoint(content map[string]any) map[string]any {
	var args struct {
		ID int `mapstructure:"id"`
	}
	if err := mapstructure.WeakDecode(content, &args); err != nil {
		return map[string]any{"status": "error", "error": "clear_breakpoint requires an id"}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.breakpoints[args.ID]; !ok {
		return map[string]any{"status": "error", "error": fmt.Sprintf("unknown breakpoint %d", args.ID)}
	}
	delete(d.breakpoints, args.ID)
	return map[string]any{"status": "ok"}
}

func (d *DebugHandler) resume(mode string) map[string]any {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
	return map[string]any{"status": "ok", "mode": mode}
}

func (d *DebugHandler) evaluate(ctx context.Context, content map[string]any) map[string]any {
	expression, _ := content["expression"].(string)
	if expression == "" {
		return map[string]any{"status": "error", "error": "evaluate requires an expression"}
	}
	value, err := d.kernel.script.Evaluate(ctx, expression)
	if err != nil {
		return map[string]any{"status": "error", "error": err.Error()}
	}
	return map[string]any{"status": "ok", "value": value}
}

func (d *DebugHandler) list() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	bps := make([]*Breakpoint, 0, len(d.breakpoints))
	for _, bp := range d.breakpoints {
		bps = append(bps, bp)
	}
	return map[string]any{"status": "ok", "breakpoints": bps}
}

// ReportHit publishes a breakpoint-hit event on IOPub, subject to the
// rate breaker.
func (d *DebugHandler) ReportHit(ctx context.Context, location string, stack []string, locals map[string]any) {
	if !d.allowEvent() {
		return
	}
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()

	msg := d.kernel.codec.NewMessage("debug_event", map[string]any{
		"event":    "breakpoint_hit",
		"location": location,
		"stack":    stack,
		"locals":   locals,
	})
	d.kernel.broadcastIOPub(ctx, msg)
}

// allowEvent enforces the per-second IOPub debug event budget.
func (d *DebugHandler) allowEvent() bool {
	limit := d.kernel.cfg.Kernel.Debug.MaxEventsPerSec
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if now.Sub(d.windowStart) >= time.Second {
		d.windowStart = now
		d.windowCount = 0
	}
	if d.windowCount >= limit {
		d.suppressed++
		return false
	}
	d.windowCount++
	return true
}

// Suppressed reports how many debug events the rate breaker dropped.
func (d *DebugHandler) Suppressed() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suppressed
}
