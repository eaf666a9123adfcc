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

// Package kernel binds the execution core: protocol surface, execution
// queue, hooks, events, state, sessions and workflow engines.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kadirpekel/grimoire/pkg/agent"
	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/config"
	"github.com/kadirpekel/grimoire/pkg/events"
	"github.com/kadirpekel/grimoire/pkg/gerrors"
	"github.com/kadirpekel/grimoire/pkg/hooks"
	"github.com/kadirpekel/grimoire/pkg/lifecycle"
	"github.com/kadirpekel/grimoire/pkg/logger"
	"github.com/kadirpekel/grimoire/pkg/metrics"
	"github.com/kadirpekel/grimoire/pkg/protocol"
	"github.com/kadirpekel/grimoire/pkg/provider"
	"github.com/kadirpekel/grimoire/pkg/schema"
	"github.com/kadirpekel/grimoire/pkg/session"
	"github.com/kadirpekel/grimoire/pkg/state"
	"github.com/kadirpekel/grimoire/pkg/storage"
	"github.com/kadirpekel/grimoire/pkg/tool"
	"github.com/kadirpekel/grimoire/pkg/tool/builtin"
	"github.com/kadirpekel/grimoire/pkg/workflow"
)

// executeJob is one queued execute_request.
type executeJob struct {
	msg *protocol.Message
	cc  *events.CorrelationContext
}

// Kernel owns the runtime's shared subsystems and the single-consumer
// execution queue. Subsystems are created once at construction, shared
// by reference, and torn down in reverse order on shutdown.
type Kernel struct {
	cfg *config.Config

	codec   *protocol.Codec
	router  *protocol.Router
	bus     *events.Bus
	tracker *events.CorrelationTracker

	hookRegistry *hooks.Registry
	hookExec     *hooks.Executor

	backend  storage.Backend
	stateMgr *state.Manager
	sessions *session.Manager

	schemaRegistry *schema.Registry
	planner        *schema.Planner
	migration      *schema.Engine

	tools     *tool.Registry
	providers *provider.Registry
	agents    map[string]agent.Agent
	wfExec    *workflow.Executor

	script  ScriptExecutor
	debug   *DebugHandler
	machine *lifecycle.Machine
	metrics *metrics.Metrics

	queue     chan executeJob
	execCount atomic.Uint64

	mu      sync.RWMutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	log *slog.Logger
}

// Option configures kernel construction.
type Option func(*Kernel)

// WithScriptExecutor sets the embedded scripting engine.
func WithScriptExecutor(executor ScriptExecutor) Option {
	return func(k *Kernel) { k.script = executor }
}

// WithBackend overrides the storage backend selected by config.
func WithBackend(backend storage.Backend) Option {
	return func(k *Kernel) { k.backend = backend }
}

// WithProvider registers a named provider.
func WithProvider(p provider.Provider) Option {
	return func(k *Kernel) { _ = k.providers.Register(p.Name(), p) }
}

// New constructs a kernel from config. Subsystem wiring order matters:
// bus and tracker first, then hooks, then state over storage, then the
// higher layers.
func New(cfg *config.Config, opts ...Option) (*Kernel, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	k := &Kernel{
		cfg:       cfg,
		providers: provider.NewRegistry(),
		agents:    map[string]agent.Agent{},
		queue:     make(chan executeJob, cfg.Runtime.MaxConcurrentScripts*4),
		log:       logger.With("subsystem", "kernel"),
	}

	k.metrics = metrics.New()
	k.tracker = events.NewCorrelationTracker(0)
	k.bus = events.NewBus(
		events.WithObserver(k.tracker.Observer()),
		events.WithObserver(k.metrics.BusObserver()),
	)

	k.hookRegistry = hooks.NewRegistry()
	k.hookExec = hooks.NewExecutor(k.hookRegistry, hooks.WithBus(k.bus))

	for _, opt := range opts {
		opt(k)
	}

	if k.backend == nil {
		backend, err := openBackend(cfg.Persistence)
		if err != nil {
			return nil, err
		}
		k.backend = backend
	}
	facade := storage.NewFacade(k.backend)

	k.stateMgr = state.NewManager(k.backend,
		state.WithHooks(k.hookExec),
		state.WithBus(k.bus),
	)
	k.sessions = session.NewManager(facade,
		session.WithHooks(k.hookExec),
		session.WithBus(k.bus),
		session.WithLimits(session.Limits{
			MaxSessions:         cfg.Sessions.MaxSessions,
			MaxArtifactsPerItem: cfg.Sessions.MaxArtifacts,
		}),
	)

	k.schemaRegistry = schema.NewRegistry()
	k.planner = schema.NewPlanner(k.schemaRegistry)
	k.migration = schema.NewEngine(k.backend, k.planner, k.bus)

	if err := k.buildTools(); err != nil {
		return nil, err
	}
	if err := k.buildProviders(); err != nil {
		return nil, err
	}

	k.wfExec = workflow.NewExecutor(
		workflow.RegistryResolver{Tools: k.tools, Agents: k.agents},
		workflow.WithHookExecutor(k.hookExec),
		workflow.WithEventBus(k.bus),
		workflow.WithStateManager(k.stateMgr),
		workflow.WithTracker(k.tracker),
		workflow.WithRetryPolicy(agent.DefaultRetryPolicy()),
	)

	sessionID := uuid.NewString()
	k.codec = protocol.NewCodec(sessionID, "kernel", cfg.Kernel.HMACKey)
	k.router = protocol.NewRouter()
	k.debug = newDebugHandler(k)
	k.machine = lifecycle.NewMachine(
		component.NewID(component.KindSystem, "kernel"),
		lifecycle.WithHooks(k.hookExec),
		lifecycle.WithBus(k.bus),
	)

	if k.script == nil {
		return nil, gerrors.New(gerrors.KindConfiguration, "kernel requires a script executor")
	}
	return k, nil
}

func openBackend(cfg config.PersistenceConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case "sqlite":
		return storage.OpenSQLite(cfg.Path)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return storage.NewRedis(client, "grimoire"), nil
	default:
		return storage.NewMemory(), nil
	}
}

// buildTools registers the built-in tools, honoring the allow-list.
func (k *Kernel) buildTools() error {
	k.tools = tool.NewRegistry()

	allowed := func(name string) bool {
		if len(k.cfg.Tools.Allow) == 0 {
			return true
		}
		for _, entry := range k.cfg.Tools.Allow {
			if entry == name {
				return true
			}
		}
		return false
	}

	builders := map[string]func() (*tool.BaseTool, error){
		"calculator": builtin.NewCalculator,
		"json":       builtin.NewJSON,
	}
	for name, build := range builders {
		if !allowed(name) {
			continue
		}
		t, err := build()
		if err != nil {
			return fmt.Errorf("build tool %s: %w", name, err)
		}
		if err := k.tools.RegisterTool(t); err != nil {
			return err
		}
	}
	return nil
}

// buildProviders instantiates configured providers. Only the in-process
// echo provider is constructed here; real providers are injected via
// WithProvider by the hosting process.
func (k *Kernel) buildProviders() error {
	for name, p := range k.cfg.Providers {
		if _, exists := k.providers.Get(name); exists {
			continue
		}
		if p.Type == "echo" {
			if err := k.providers.Register(name, provider.NewEcho()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Bus exposes the event bus.
func (k *Kernel) Bus() *events.Bus { return k.bus }

// Tracker exposes the correlation tracker.
func (k *Kernel) Tracker() *events.CorrelationTracker { return k.tracker }

// Hooks exposes the hook registry for host registration.
func (k *Kernel) Hooks() *hooks.Registry { return k.hookRegistry }

// HookExecutor exposes the hook executor.
func (k *Kernel) HookExecutor() *hooks.Executor { return k.hookExec }

// State exposes the state manager.
func (k *Kernel) State() *state.Manager { return k.stateMgr }

// Sessions exposes the session manager.
func (k *Kernel) Sessions() *session.Manager { return k.sessions }

// Tools exposes the tool registry.
func (k *Kernel) Tools() *tool.Registry { return k.tools }

// Providers exposes the provider registry.
func (k *Kernel) Providers() *provider.Registry { return k.providers }

// Schemas exposes the schema registry.
func (k *Kernel) Schemas() *schema.Registry { return k.schemaRegistry }

// Migrations exposes the migration engine.
func (k *Kernel) Migrations() *schema.Engine { return k.migration }

// WorkflowExecutor exposes the shared workflow step executor.
func (k *Kernel) WorkflowExecutor() *workflow.Executor { return k.wfExec }

// Router exposes the protocol router.
func (k *Kernel) Router() *protocol.Router { return k.router }

// Codec exposes the protocol codec.
func (k *Kernel) Codec() *protocol.Codec { return k.codec }

// Metrics exposes the Prometheus collectors.
func (k *Kernel) Metrics() *metrics.Metrics { return k.metrics }

// RegisterAgent makes an agent resolvable from workflow steps.
func (k *Kernel) RegisterAgent(a agent.Agent) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.agents[a.Metadata().Name] = a
}

// ExecutionCount returns how many executions have been started.
func (k *Kernel) ExecutionCount() uint64 { return k.execCount.Load() }

// Start brings the kernel to Ready and launches the execution queue
// consumer.
func (k *Kernel) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.started {
		return fmt.Errorf("kernel already started")
	}

	if err := k.machine.Attempt(ctx, lifecycle.StateInitializing); err != nil {
		return err
	}
	if err := k.machine.Attempt(ctx, lifecycle.StateReady); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	k.done = make(chan struct{})
	k.started = true
	go k.consume(runCtx)
	return nil
}

// Shutdown drains the queue, fires BeforeShutdown hooks and terminates
// the lifecycle machine. Teardown is the reverse of construction.
func (k *Kernel) Shutdown(ctx context.Context) {
	k.mu.Lock()
	if !k.started {
		k.mu.Unlock()
		return
	}
	k.started = false
	cancel := k.cancel
	done := k.done
	k.mu.Unlock()

	hctx := hooks.NewContext(hooks.PointBeforeShutdown, component.NewID(component.KindSystem, "kernel"))
	k.hookExec.Execute(ctx, hooks.PointBeforeShutdown, hctx)

	cancel()
	<-done
	k.machine.Terminate(ctx)

	if closer, ok := k.backend.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// consume is the single execution queue consumer.
func (k *Kernel) consume(ctx context.Context) {
	defer close(k.done)
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-k.queue:
			k.runExecution(ctx, job)
		}
	}
}
