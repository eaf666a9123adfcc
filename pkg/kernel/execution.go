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
	"strings"

	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/events"
	"github.com/kadirpekel/grimoire/pkg/gerrors"
	"github.com/kadirpekel/grimoire/pkg/hooks"
	"github.com/kadirpekel/grimoire/pkg/lifecycle"
	"github.com/kadirpekel/grimoire/pkg/protocol"
)

// HandleMessage routes one decoded protocol message by type. Protocol
// errors never break the kernel loop; they surface as error replies or
// dropped-message events.
func (k *Kernel) HandleMessage(ctx context.Context, channel protocol.Channel, msg *protocol.Message) error {
	k.metrics.RouterDispatch.WithLabelValues(string(channel)).Inc()

	switch msg.Header.MsgType {
	case "kernel_info_request":
		return k.sendReply(ctx, channel, msg.Reply("kernel_info_reply", k.kernelInfo()))
	case "execute_request":
		return k.enqueueExecute(ctx, msg)
	case "debug_request":
		return k.debug.Handle(ctx, channel, msg)
	case "shutdown_request":
		reply := msg.Reply("shutdown_reply", map[string]any{"restart": false})
		err := k.sendReply(ctx, channel, reply)
		go k.Shutdown(context.WithoutCancel(ctx))
		return err
	default:
		k.publishKernelEvent(ctx, "kernel.message.unhandled", map[string]any{
			"msg_type": msg.Header.MsgType,
		})
		return nil
	}
}

func (k *Kernel) kernelInfo() map[string]any {
	return map[string]any{
		"status":                 "ok",
		"protocol_version":       protocol.Version,
		"implementation":         "grimoire",
		"implementation_version": "1.0.0",
		"language_info": map[string]any{
			"name": "script",
		},
		"banner": "grimoire kernel",
	}
}

// enqueueExecute starts a child correlation context named by the
// request's msg_id and submits the job to the execution queue.
func (k *Kernel) enqueueExecute(ctx context.Context, msg *protocol.Message) error {
	parent, ok := events.FromContext(ctx)
	var cc *events.CorrelationContext
	if ok {
		cc = parent.CreateChild()
	} else {
		cc = events.NewCorrelationContext()
	}
	cc.WithMetadata("msg_id", msg.Header.MsgID)
	k.tracker.RegisterContext(cc)

	select {
	case k.queue <- executeJob{msg: msg, cc: cc}:
		return nil
	default:
		return gerrors.New(gerrors.KindResourceExceeded, "execution queue full")
	}
}

// runExecution drives one execute_request end to end: busy status,
// hook-gated script execution with streamed output, reply, idle status.
func (k *Kernel) runExecution(ctx context.Context, job executeJob) {
	msg := job.msg
	ctx = events.ContextWith(ctx, job.cc)

	if err := k.machine.Attempt(ctx, lifecycle.StateRunning); err != nil {
		k.log.Warn("kernel not ready for execution", "error", err)
	}
	defer func() {
		if k.machine.State() == lifecycle.StateRunning {
			_ = k.machine.Attempt(ctx, lifecycle.StateReady)
		}
	}()

	k.publishStatus(ctx, msg, "busy")
	defer k.publishStatus(ctx, msg, "idle")

	code, _ := msg.Content["code"].(string)
	count := k.execCount.Add(1)
	k.metrics.Executions.Inc()

	k.publishKernelEvent(ctx, "kernel.execute_request", map[string]any{
		"msg_id":          msg.Header.MsgID,
		"execution_count": count,
	})

	hctx := hooks.NewContext(hooks.PointBeforeExecute, component.NewID(component.KindSystem, "kernel"))
	hctx.Set("code", code)
	hctx.WithCorrelation(job.cc.ID)
	if result := k.hookExec.Execute(ctx, hooks.PointBeforeExecute, hctx); result.Kind == hooks.KindCancel {
		k.metrics.ExecutionErrors.Inc()
		k.sendExecuteReply(ctx, msg, count, gerrors.Newf(gerrors.KindCancelled,
			"execution cancelled: %s", result.Reason), nil)
		return
	}

	execCtx := ctx
	if k.cfg.Runtime.ScriptTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, k.cfg.Runtime.ScriptTimeout)
		defer cancel()
	}

	result, err := k.script.Execute(execCtx, code, func(name, text string) {
		k.publishStream(ctx, msg, name, text)
	})

	after := hooks.NewContext(hooks.PointAfterExecute, component.NewID(component.KindSystem, "kernel"))
	after.Set("success", err == nil)
	after.WithCorrelation(job.cc.ID)
	k.hookExec.Execute(ctx, hooks.PointAfterExecute, after)

	if err != nil {
		k.metrics.ExecutionErrors.Inc()
		onError := hooks.NewContext(hooks.PointOnError, component.NewID(component.KindSystem, "kernel"))
		onError.Set("error", err.Error())
		onError.WithCorrelation(job.cc.ID)
		k.hookExec.Execute(ctx, hooks.PointOnError, onError)
	}
	k.sendExecuteReply(ctx, msg, count, err, result)
}

// ExecuteScript runs code directly, outside the protocol surface, with
// the same hook gating and correlation as a queued execute_request.
// Used by the CLI's run/repl/debug commands and by embedders.
func (k *Kernel) ExecuteScript(ctx context.Context, code string, stream StreamFunc) (*ScriptResult, error) {
	cc := events.NewCorrelationContext().Tag("direct")
	k.tracker.RegisterContext(cc)
	ctx = events.ContextWith(ctx, cc)

	k.execCount.Add(1)
	k.metrics.Executions.Inc()

	hctx := hooks.NewContext(hooks.PointBeforeExecute, component.NewID(component.KindSystem, "kernel"))
	hctx.Set("code", code)
	hctx.WithCorrelation(cc.ID)
	if result := k.hookExec.Execute(ctx, hooks.PointBeforeExecute, hctx); result.Kind == hooks.KindCancel {
		return nil, gerrors.Newf(gerrors.KindCancelled, "execution cancelled: %s", result.Reason)
	}

	execCtx := ctx
	if k.cfg.Runtime.ScriptTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, k.cfg.Runtime.ScriptTimeout)
		defer cancel()
	}

	result, err := k.script.Execute(execCtx, code, stream)

	after := hooks.NewContext(hooks.PointAfterExecute, component.NewID(component.KindSystem, "kernel"))
	after.Set("success", err == nil)
	after.WithCorrelation(cc.ID)
	k.hookExec.Execute(ctx, hooks.PointAfterExecute, after)

	if err != nil {
		k.metrics.ExecutionErrors.Inc()
		onError := hooks.NewContext(hooks.PointOnError, component.NewID(component.KindSystem, "kernel"))
		onError.Set("error", err.Error())
		onError.WithCorrelation(cc.ID)
		k.hookExec.Execute(ctx, hooks.PointOnError, onError)
		return nil, err
	}
	return result, nil
}

// sendExecuteReply builds and sends the execute_reply on Shell,
// parented by the request header.
func (k *Kernel) sendExecuteReply(ctx context.Context, msg *protocol.Message, count uint64, execErr error, result *ScriptResult) {
	content := map[string]any{
		"execution_count": count,
	}
	if execErr != nil {
		content["status"] = "error"
		content["ename"] = string(gerrors.KindOf(execErr))
		content["evalue"] = execErr.Error()
		content["traceback"] = tracebackOf(execErr, result)
	} else {
		content["status"] = "ok"
		if result != nil && result.Value != nil {
			content["payload"] = []any{map[string]any{"data": result.Value}}
		}
	}

	if err := k.sendReply(ctx, protocol.ChannelShell, msg.Reply("execute_reply", content)); err != nil {
		k.log.Warn("failed to send execute_reply", "error", err)
	}
	k.publishKernelEvent(ctx, "kernel.execute_reply", map[string]any{
		"msg_id": msg.Header.MsgID,
		"status": content["status"],
	})
}

func tracebackOf(err error, result *ScriptResult) []string {
	if result != nil && len(result.Traceback) > 0 {
		return result.Traceback
	}
	return strings.Split(err.Error(), "\n")
}

// publishStatus broadcasts an execution_state message on IOPub.
func (k *Kernel) publishStatus(ctx context.Context, parent *protocol.Message, execState string) {
	status := parent.Reply("status", map[string]any{"execution_state": execState})
	status.Identities = nil
	k.broadcastIOPub(ctx, status)
}

// publishStream broadcasts script output as a stream message on IOPub.
func (k *Kernel) publishStream(ctx context.Context, parent *protocol.Message, name, text string) {
	stream := parent.Reply("stream", map[string]any{"name": name, "text": text})
	stream.Identities = nil
	k.broadcastIOPub(ctx, stream)
}

func (k *Kernel) broadcastIOPub(ctx context.Context, msg *protocol.Message) {
	frames, err := k.codec.Encode(msg)
	if err != nil {
		k.log.Warn("failed to encode iopub message", "error", err)
		return
	}
	k.router.BroadcastIOPub(ctx, frames)
}

func (k *Kernel) sendReply(ctx context.Context, channel protocol.Channel, msg *protocol.Message) error {
	frames, err := k.codec.Encode(msg)
	if err != nil {
		return err
	}
	return k.router.Dispatch(ctx, msg.Header.Session, channel, frames)
}

func (k *Kernel) publishKernelEvent(ctx context.Context, eventType string, data map[string]any) {
	ev := events.New(eventType, "kernel", data)
	if cc, ok := events.FromContext(ctx); ok {
		ev.Correlated(cc)
	}
	_ = k.bus.Publish(context.WithoutCancel(ctx), ev)
}
