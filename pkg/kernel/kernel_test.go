package kernel

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/grimoire/pkg/config"
	"github.com/kadirpekel/grimoire/pkg/gerrors"
	"github.com/kadirpekel/grimoire/pkg/hooks"
	"github.com/kadirpekel/grimoire/pkg/protocol"
	"github.com/kadirpekel/grimoire/pkg/workflow"
)

// recordingHandle collects frames delivered through the router.
type recordingHandle struct {
	id     string
	mu     sync.Mutex
	frames [][][]byte
}

func (h *recordingHandle) ID() string { return h.id }

func (h *recordingHandle) Send(_ context.Context, frames [][]byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, frames)
	return nil
}

func (h *recordingHandle) snapshot() [][][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][][]byte, len(h.frames))
	copy(out, h.frames)
	return out
}

func echoExecutor() ScriptExecutor {
	return ExecFunc(func(_ context.Context, code string, stream StreamFunc) (*ScriptResult, error) {
		stream("stdout", "ran: "+code)
		return &ScriptResult{Value: code}, nil
	})
}

func failingExecutor() ScriptExecutor {
	return ExecFunc(func(_ context.Context, _ string, _ StreamFunc) (*ScriptResult, error) {
		return nil, gerrors.New(gerrors.KindComponent, "script blew up")
	})
}

func newTestKernel(t *testing.T, opts ...Option) *Kernel {
	t.Helper()
	allOpts := append([]Option{WithScriptExecutor(echoExecutor())}, opts...)
	k, err := New(config.Default(), allOpts...)
	require.NoError(t, err)
	return k
}

func startKernel(t *testing.T, k *Kernel) {
	t.Helper()
	require.NoError(t, k.Start(context.Background()))
	t.Cleanup(func() { k.Shutdown(context.Background()) })
}

func decodeAll(t *testing.T, k *Kernel, raw [][][]byte) []*protocol.Message {
	t.Helper()
	var out []*protocol.Message
	for _, frames := range raw {
		msg, err := k.Codec().Decode(frames)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func awaitMessages(t *testing.T, k *Kernel, h *recordingHandle, n int) []*protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if raw := h.snapshot(); len(raw) >= n {
			return decodeAll(t, k, raw)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d messages, got %d", n, len(h.snapshot()))
	return nil
}

func executeRequest(session, code string) *protocol.Message {
	return &protocol.Message{
		Header:   protocol.NewHeader("execute_request", session, "tester"),
		Metadata: map[string]any{},
		Content:  map[string]any{"code": code},
	}
}

func TestKernelExecuteRequestFlow(t *testing.T) {
	k := newTestKernel(t)
	startKernel(t, k)

	shell := &recordingHandle{id: "shell-1"}
	iopub := &recordingHandle{id: "iopub-1"}
	k.Router().Register("client-1", protocol.ChannelShell, shell)
	k.Router().Register("iopub-client", protocol.ChannelIOPub, iopub)

	ctx := context.Background()
	require.NoError(t, k.HandleMessage(ctx, protocol.ChannelShell, executeRequest("client-1", "print('hi')")))

	replies := awaitMessages(t, k, shell, 1)
	reply := replies[0]
	assert.Equal(t, "execute_reply", reply.Header.MsgType)
	assert.Equal(t, "ok", reply.Content["status"])
	assert.EqualValues(t, 1, reply.Content["execution_count"])
	assert.Equal(t, "execute_request", reply.ParentHeader.MsgType)

	// IOPub sees busy, stream, idle in bus order.
	iopubMsgs := awaitMessages(t, k, iopub, 3)
	types := make([]string, 0, len(iopubMsgs))
	states := make([]string, 0, 2)
	for _, m := range iopubMsgs {
		types = append(types, m.Header.MsgType)
		if m.Header.MsgType == "status" {
			state, _ := m.Content["execution_state"].(string)
			states = append(states, state)
		}
	}
	assert.Contains(t, types, "stream")
	assert.Equal(t, []string{"busy", "idle"}, states)

	assert.EqualValues(t, 1, k.ExecutionCount())
}

func TestKernelExecuteErrorReply(t *testing.T) {
	k := newTestKernel(t, WithScriptExecutor(failingExecutor()))
	startKernel(t, k)

	shell := &recordingHandle{id: "shell-1"}
	k.Router().Register("client-1", protocol.ChannelShell, shell)

	require.NoError(t, k.HandleMessage(context.Background(), protocol.ChannelShell,
		executeRequest("client-1", "boom()")))

	reply := awaitMessages(t, k, shell, 1)[0]
	assert.Equal(t, "error", reply.Content["status"])
	assert.Equal(t, "component", reply.Content["ename"])
	traceback, ok := reply.Content["traceback"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, traceback)
}

func TestKernelInfoReply(t *testing.T) {
	k := newTestKernel(t)
	startKernel(t, k)

	shell := &recordingHandle{id: "shell-1"}
	k.Router().Register("client-1", protocol.ChannelShell, shell)

	msg := &protocol.Message{
		Header:  protocol.NewHeader("kernel_info_request", "client-1", "tester"),
		Content: map[string]any{},
	}
	require.NoError(t, k.HandleMessage(context.Background(), protocol.ChannelShell, msg))

	reply := awaitMessages(t, k, shell, 1)[0]
	assert.Equal(t, "kernel_info_reply", reply.Header.MsgType)
	assert.Equal(t, protocol.Version, reply.Content["protocol_version"])
}

func TestKernelBeforeExecuteHookCancels(t *testing.T) {
	k := newTestKernel(t)
	require.NoError(t, k.Hooks().Register(hooks.PointBeforeExecute, &hooks.Hook{
		Name: "policy",
		Action: func(_ context.Context, hctx *hooks.Context) hooks.Result {
			if code, _ := hctx.Get("code"); code == "forbidden" {
				return hooks.Cancel("policy says no")
			}
			return hooks.Continue()
		},
	}))
	startKernel(t, k)

	_, err := k.ExecuteScript(context.Background(), "forbidden", func(string, string) {})
	require.Error(t, err)
	assert.True(t, gerrors.Is(err, gerrors.KindCancelled))

	result, err := k.ExecuteScript(context.Background(), "allowed", func(string, string) {})
	require.NoError(t, err)
	assert.Equal(t, "allowed", result.Value)
}

func TestKernelExecutionEventsAreCorrelated(t *testing.T) {
	k := newTestKernel(t)
	startKernel(t, k)

	sub := k.Bus().Subscribe("kernel.**")
	defer k.Bus().Unsubscribe(sub)

	shell := &recordingHandle{id: "shell-1"}
	k.Router().Register("client-1", protocol.ChannelShell, shell)
	require.NoError(t, k.HandleMessage(context.Background(), protocol.ChannelShell,
		executeRequest("client-1", "1+1")))
	awaitMessages(t, k, shell, 1)

	var correlated int
	deadline := time.After(time.Second)
	for correlated < 2 {
		select {
		case ev := <-sub.Events():
			require.NotNil(t, ev)
			events := k.Tracker().EventsFor(ev.CorrelationID)
			assert.NotEmpty(t, events)
			correlated++
		case <-deadline:
			t.Fatal("expected correlated kernel events")
		}
	}
}

func TestKernelWorkflowIntegration(t *testing.T) {
	k := newTestKernel(t)
	startKernel(t, k)

	wf, err := workflow.NewSequential(workflow.SequentialConfig{
		Name: "kernel-wf",
		Steps: []workflow.Step{
			{Name: "calc", Tool: "calculator", Params: map[string]any{"input": "6*7"}},
		},
	}, k.WorkflowExecutor())
	require.NoError(t, err)

	result, err := wf.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Successful, 1)
	assert.Equal(t, "42", result.Successful[0].Output)
}

func TestKernelDebugCommands(t *testing.T) {
	k := newTestKernel(t)
	startKernel(t, k)

	shell := &recordingHandle{id: "shell-1"}
	k.Router().Register("client-1", protocol.ChannelControl, shell)

	send := func(content map[string]any) *protocol.Message {
		before := len(shell.snapshot())
		msg := &protocol.Message{
			Header:  protocol.NewHeader("debug_request", "client-1", "tester"),
			Content: content,
		}
		require.NoError(t, k.HandleMessage(context.Background(), protocol.ChannelControl, msg))
		replies := awaitMessages(t, k, shell, before+1)
		return replies[before]
	}

	reply := send(map[string]any{"command": "set_breakpoint", "file": "main.spell", "line": float64(10)})
	assert.Equal(t, "ok", reply.Content["status"])

	reply = send(map[string]any{"command": "list_breakpoints"})
	assert.Equal(t, "ok", reply.Content["status"])
	assert.Len(t, reply.Content["breakpoints"], 1)

	reply = send(map[string]any{"command": "continue"})
	assert.Equal(t, "ok", reply.Content["status"])

	reply = send(map[string]any{"command": "evaluate", "expression": "40+2"})
	assert.Equal(t, "ok", reply.Content["status"])
	assert.Equal(t, "40+2", reply.Content["value"])

	reply = send(map[string]any{"command": "warp"})
	assert.Equal(t, "error", reply.Content["status"])
}

func TestKernelDebugEventRateBreaker(t *testing.T) {
	cfg := config.Default()
	cfg.Kernel.Debug.MaxEventsPerSec = 5
	k, err := New(cfg, WithScriptExecutor(echoExecutor()))
	require.NoError(t, err)
	startKernel(t, k)

	for i := 0; i < 20; i++ {
		k.debug.ReportHit(context.Background(), fmt.Sprintf("line %d", i), nil, nil)
	}
	assert.EqualValues(t, 15, k.debug.Suppressed())
}

func TestKernelRejectsMissingScriptExecutor(t *testing.T) {
	_, err := New(config.Default())
	require.Error(t, err)
	assert.True(t, gerrors.Is(err, gerrors.KindConfiguration))
}
