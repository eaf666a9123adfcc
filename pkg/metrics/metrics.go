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

// Package metrics exposes the runtime's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kadirpekel/grimoire/pkg/events"
)

// Metrics bundles the runtime collectors on one registry.
type Metrics struct {
	Registry *prometheus.Registry

	EventsPublished *prometheus.CounterVec
	Executions      prometheus.Counter
	ExecutionErrors prometheus.Counter
	HookLatency     prometheus.Histogram
	RouterDispatch  *prometheus.CounterVec
	StateWrites     prometheus.Counter
}

// New creates and registers the runtime collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grimoire_events_published_total",
			Help: "Events published on the bus by dotted type prefix.",
		}, []string{"type"}),
		Executions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grimoire_executions_total",
			Help: "Script executions handled by the kernel.",
		}),
		ExecutionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grimoire_execution_errors_total",
			Help: "Script executions that surfaced an error reply.",
		}),
		HookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grimoire_hook_latency_seconds",
			Help:    "Hook action latencies.",
			Buckets: prometheus.DefBuckets,
		}),
		RouterDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grimoire_router_dispatch_total",
			Help: "Protocol dispatches per channel.",
		}, []string{"channel"}),
		StateWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grimoire_state_writes_total",
			Help: "State manager write operations.",
		}),
	}

	registry.MustRegister(
		m.EventsPublished, m.Executions, m.ExecutionErrors,
		m.HookLatency, m.RouterDispatch, m.StateWrites,
	)
	return m
}

// BusObserver counts published events by type prefix.
func (m *Metrics) BusObserver() events.Observer {
	return func(ev *events.UniversalEvent) {
		m.EventsPublished.WithLabelValues(typePrefix(ev.Type)).Inc()
		if ev.Type == "state.changed" {
			m.StateWrites.Inc()
		}
	}
}

func typePrefix(eventType string) string {
	for i := 0; i < len(eventType); i++ {
		if eventType[i] == '.' {
			return eventType[:i]
		}
	}
	return eventType
}
