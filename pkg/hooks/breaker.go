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

package hooks

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ewmaAlpha weights recent hook latencies in the running average.
const ewmaAlpha = 0.2

// BreakerConfig tunes the per-hook circuit breaker. A hook whose action
// fails, panics, or runs slower than MaxLatency accumulates failures;
// once the failure ratio trips the breaker the hook is skipped (treated
// as Continue) until the cooldown elapses.
type BreakerConfig struct {
	// MaxLatency is the per-invocation duration above which an
	// invocation counts as a failure. Zero disables the latency check.
	MaxLatency time.Duration

	// FailureRatio trips the breaker when reached over a window of at
	// least MinRequests invocations.
	FailureRatio float64
	MinRequests  uint32

	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration

	// Window is the rolling interval over which counts are accumulated.
	Window time.Duration
}

// DefaultBreakerConfig returns the breaker tuning used when none is
// supplied.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxLatency:   time.Second,
		FailureRatio: 0.6,
		MinRequests:  5,
		Cooldown:     30 * time.Second,
		Window:       time.Minute,
	}
}

// HookStats is a point-in-time view of one hook's running statistics.
type HookStats struct {
	Invocations uint64        `json:"invocations"`
	Errors      uint64        `json:"errors"`
	Skipped     uint64        `json:"skipped"`
	EWMALatency time.Duration `json:"ewma_latency"`
	Last        time.Duration `json:"last"`
}

type hookStats struct {
	invocations uint64
	errors      uint64
	skipped     uint64
	ewmaMicros  float64
	last        time.Duration
}

// StateChangeFunc observes breaker transitions for a named hook.
type StateChangeFunc func(hookName string, from, to gobreaker.State)

// breakerSet owns one circuit breaker and one stats record per hook.
type breakerSet struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker
	stats    map[string]*hookStats
	onChange StateChangeFunc
}

func newBreakerSet(cfg BreakerConfig, onChange StateChangeFunc) *breakerSet {
	return &breakerSet{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		stats:    make(map[string]*hookStats),
		onChange: onChange,
	}
}

func (s *breakerSet) breaker(name string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[name]; ok {
		return cb
	}
	cfg := s.cfg
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: cfg.Window,
		Timeout:  cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if s.onChange != nil {
				s.onChange(name, from, to)
			}
		},
	})
	s.breakers[name] = cb
	return cb
}

func (s *breakerSet) record(name string, dur time.Duration, failed, skipped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[name]
	if !ok {
		st = &hookStats{}
		s.stats[name] = st
	}
	if skipped {
		st.skipped++
		return
	}
	st.invocations++
	if failed {
		st.errors++
	}
	st.last = dur
	micros := float64(dur.Microseconds())
	if st.invocations == 1 {
		st.ewmaMicros = micros
	} else {
		st.ewmaMicros = ewmaAlpha*micros + (1-ewmaAlpha)*st.ewmaMicros
	}
}

func (s *breakerSet) snapshot() map[string]HookStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]HookStats, len(s.stats))
	for name, st := range s.stats {
		out[name] = HookStats{
			Invocations: st.invocations,
			Errors:      st.errors,
			Skipped:     st.skipped,
			EWMALatency: time.Duration(st.ewmaMicros) * time.Microsecond,
			Last:        st.last,
		}
	}
	return out
}
