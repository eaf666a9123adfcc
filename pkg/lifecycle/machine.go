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

package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/events"
	"github.com/kadirpekel/grimoire/pkg/gerrors"
	"github.com/kadirpekel/grimoire/pkg/hooks"
)

const historyLimit = 64

// TransitionRecord is one committed transition.
type TransitionRecord struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Forced bool      `json:"forced,omitempty"`
}

// Machine is the lifecycle state machine for one component.
type Machine struct {
	id component.ID

	mu               sync.Mutex
	state            State
	prior            State
	transitionCount  uint64
	lastTransitionAt time.Time
	history          []TransitionRecord

	hooks *hooks.Executor
	bus   *events.Bus
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithHooks gates transitions through BeforeTransition/AfterTransition.
func WithHooks(executor *hooks.Executor) MachineOption {
	return func(m *Machine) { m.hooks = executor }
}

// WithBus publishes component.state.changed events.
func WithBus(bus *events.Bus) MachineOption {
	return func(m *Machine) { m.bus = bus }
}

// NewMachine creates a machine in the Uninitialized state.
func NewMachine(id component.ID, opts ...MachineOption) *Machine {
	m := &Machine{
		id:    id,
		state: StateUninitialized,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Prior returns the state before the last committed transition.
func (m *Machine) Prior() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prior
}

// History returns the bounded transition history, oldest first.
func (m *Machine) History() []TransitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransitionRecord, len(m.history))
	copy(out, m.history)
	return out
}

// TransitionCount returns how many transitions have committed.
func (m *Machine) TransitionCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionCount
}

// Attempt moves the machine to target. The edge must be in the
// transition table and BeforeTransition hooks must not cancel.
// Concurrent attempts serialize on the machine's mutex.
func (m *Machine) Attempt(ctx context.Context, target State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if !CanTransition(from, target) {
		return gerrors.Wrap(gerrors.KindTransition, "illegal transition",
			&InvalidTransitionError{From: from, To: target}).WithComponent(m.id.String())
	}

	if m.hooks != nil {
		hctx := m.hookContext(ctx, hooks.PointBeforeTransition, from, target)
		if result := m.hooks.Execute(ctx, hooks.PointBeforeTransition, hctx); result.Kind == hooks.KindCancel {
			return gerrors.Wrap(gerrors.KindTransition, "transition cancelled",
				&CancelledTransitionError{From: from, To: target, Reason: result.Reason}).WithComponent(m.id.String())
		}
	}

	m.commit(from, target, false)

	if m.hooks != nil {
		// Best effort: hook errors here never roll the state back.
		hctx := m.hookContext(ctx, hooks.PointAfterTransition, from, target)
		m.hooks.Execute(ctx, hooks.PointAfterTransition, hctx)
	}
	m.publish(ctx, from, target, false)
	return nil
}

// Recover moves the machine out of Error. Target must be Ready or
// Terminated.
func (m *Machine) Recover(ctx context.Context, target State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateError {
		return gerrors.Newf(gerrors.KindTransition, "recover requires Error state, machine is %s", m.state).
			WithComponent(m.id.String())
	}
	if target != StateReady && target != StateTerminated {
		return gerrors.Newf(gerrors.KindTransition, "recover target must be ready or terminated, got %s", target).
			WithComponent(m.id.String())
	}

	from := m.state
	m.commit(from, target, true)
	m.publish(ctx, from, target, true)
	return nil
}

// Terminate forces the machine through Stopping into Terminated from
// any state, skipping predicate hooks but still emitting events.
func (m *Machine) Terminate(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateTerminated {
		return
	}
	if m.state != StateStopping {
		from := m.state
		m.commit(from, StateStopping, true)
		m.publish(ctx, from, StateStopping, true)
	}
	from := m.state
	m.commit(from, StateTerminated, true)
	m.publish(ctx, from, StateTerminated, true)
}

// commit records the transition. Callers hold the mutex.
func (m *Machine) commit(from, to State, forced bool) {
	m.prior = from
	m.state = to
	m.transitionCount++
	m.lastTransitionAt = time.Now().UTC()
	m.history = append(m.history, TransitionRecord{From: from, To: to, At: m.lastTransitionAt, Forced: forced})
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

func (m *Machine) hookContext(ctx context.Context, point hooks.Point, from, to State) *hooks.Context {
	hctx := hooks.NewContext(point, m.id)
	hctx.Set("from", string(from))
	hctx.Set("to", string(to))
	if cc, ok := events.FromContext(ctx); ok {
		hctx.WithCorrelation(cc.ID)
	}
	return hctx
}

func (m *Machine) publish(ctx context.Context, from, to State, forced bool) {
	if m.bus == nil {
		return
	}
	ev := events.New("component.state.changed", m.id.String(), map[string]any{
		"component": m.id.String(),
		"from":      string(from),
		"to":        string(to),
		"forced":    forced,
	})
	if cc, ok := events.FromContext(ctx); ok {
		ev.Correlated(cc)
	}
	// Shutdown events must still flow when the caller's context is gone.
	_ = m.bus.Publish(context.WithoutCancel(ctx), ev)
}
