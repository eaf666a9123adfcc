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

package protocol

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kadirpekel/grimoire/pkg/gerrors"
	"github.com/kadirpekel/grimoire/pkg/logger"
)

// ClientHandle is one connected client on one channel.
type ClientHandle interface {
	ID() string
	Send(ctx context.Context, frames [][]byte) error
}

// Strategy selects a handler for a dispatch.
type Strategy string

const (
	// StrategyDirect sends to the single registered handler.
	StrategyDirect Strategy = "direct"

	// StrategyBroadcast sends to every registered handler.
	StrategyBroadcast Strategy = "broadcast"

	// StrategyRoundRobin rotates through handlers by atomic counter.
	StrategyRoundRobin Strategy = "round_robin"

	// StrategyLoadBalanced picks the handler with the lowest in-flight
	// count. The count is incremented before dispatch and decremented
	// when the dispatch completes.
	StrategyLoadBalanced Strategy = "load_balanced"
)

type handlerEntry struct {
	handle   ClientHandle
	inflight atomic.Int64
}

type channelHandlers struct {
	entries []*handlerEntry
	rr      atomic.Uint64
}

// Router maintains the session → channel → client table and dispatches
// frames per channel strategy. Shell defaults to Direct, IOPub to
// Broadcast.
type Router struct {
	mu         sync.RWMutex
	sessions   map[string]map[Channel]*channelHandlers
	strategies map[Channel]Strategy
	log        *slog.Logger
}

// NewRouter creates a router with default channel strategies.
func NewRouter() *Router {
	return &Router{
		sessions: make(map[string]map[Channel]*channelHandlers),
		strategies: map[Channel]Strategy{
			ChannelShell:     StrategyDirect,
			ChannelIOPub:     StrategyBroadcast,
			ChannelStdin:     StrategyDirect,
			ChannelControl:   StrategyDirect,
			ChannelHeartbeat: StrategyDirect,
		},
		log: logger.With("subsystem", "router"),
	}
}

// SetStrategy overrides a channel's routing strategy.
func (r *Router) SetStrategy(channel Channel, strategy Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[channel] = strategy
}

// Register attaches a client handle to a session channel.
func (r *Router) Register(session string, channel Channel, handle ClientHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	channels, ok := r.sessions[session]
	if !ok {
		channels = make(map[Channel]*channelHandlers)
		r.sessions[session] = channels
	}
	handlers, ok := channels[channel]
	if !ok {
		handlers = &channelHandlers{}
		channels[channel] = handlers
	}
	handlers.entries = append(handlers.entries, &handlerEntry{handle: handle})
}

// Unregister detaches a client handle from a session channel.
func (r *Router) Unregister(session string, channel Channel, handleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	channels, ok := r.sessions[session]
	if !ok {
		return
	}
	handlers, ok := channels[channel]
	if !ok {
		return
	}
	for i, entry := range handlers.entries {
		if entry.handle.ID() == handleID {
			handlers.entries = append(handlers.entries[:i], handlers.entries[i+1:]...)
			break
		}
	}
	if len(handlers.entries) == 0 {
		delete(channels, channel)
	}
	if len(channels) == 0 {
		delete(r.sessions, session)
	}
}

// Dispatch routes frames to a session channel per its strategy.
func (r *Router) Dispatch(ctx context.Context, session string, channel Channel, frames [][]byte) error {
	r.mu.RLock()
	strategy := r.strategies[channel]
	var handlers *channelHandlers
	if channels, ok := r.sessions[session]; ok {
		handlers = channels[channel]
	}
	r.mu.RUnlock()

	if handlers == nil || len(handlers.entries) == 0 {
		return gerrors.Newf(gerrors.KindProtocol, "no handler for session %s channel %s", session, channel)
	}

	switch strategy {
	case StrategyBroadcast:
		return r.sendAll(ctx, handlers.entries, frames)
	case StrategyRoundRobin:
		index := handlers.rr.Add(1) - 1
		entry := handlers.entries[int(index)%len(handlers.entries)]
		return r.send(ctx, entry, frames)
	case StrategyLoadBalanced:
		return r.send(ctx, r.leastLoaded(handlers.entries), frames)
	default:
		return r.send(ctx, handlers.entries[0], frames)
	}
}

// BroadcastIOPub sends frames to every IOPub subscriber across all
// sessions.
func (r *Router) BroadcastIOPub(ctx context.Context, frames [][]byte) {
	r.mu.RLock()
	var entries []*handlerEntry
	for _, channels := range r.sessions {
		if handlers, ok := channels[ChannelIOPub]; ok {
			entries = append(entries, handlers.entries...)
		}
	}
	r.mu.RUnlock()

	for _, entry := range entries {
		if err := r.send(ctx, entry, frames); err != nil {
			r.log.Debug("iopub send failed", "client", entry.handle.ID(), "error", err)
		}
	}
}

// leastLoaded picks the entry with the lowest in-flight count.
func (r *Router) leastLoaded(entries []*handlerEntry) *handlerEntry {
	best := entries[0]
	bestLoad := best.inflight.Load()
	for _, entry := range entries[1:] {
		if load := entry.inflight.Load(); load < bestLoad {
			best, bestLoad = entry, load
		}
	}
	return best
}

// send delivers to one handler, tracking in-flight load for the
// balanced strategy. The counter decrements when the send completes.
func (r *Router) send(ctx context.Context, entry *handlerEntry, frames [][]byte) error {
	entry.inflight.Add(1)
	defer entry.inflight.Add(-1)
	return entry.handle.Send(ctx, frames)
}

func (r *Router) sendAll(ctx context.Context, entries []*handlerEntry, frames [][]byte) error {
	var firstErr error
	for _, entry := range entries {
		if err := r.send(ctx, entry, frames); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Load returns the current in-flight count per handler id for a
// session channel. Used by tests and diagnostics.
func (r *Router) Load(session string, channel Channel) map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]int64{}
	if channels, ok := r.sessions[session]; ok {
		if handlers, ok := channels[channel]; ok {
			for _, entry := range handlers.entries {
				out[entry.handle.ID()] = entry.inflight.Load()
			}
		}
	}
	return out
}
