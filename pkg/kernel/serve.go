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
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/grimoire/pkg/events"
	"github.com/kadirpekel/grimoire/pkg/protocol"
)

// connHandle adapts one network connection into a router ClientHandle.
// Writes are serialized per connection.
type connHandle struct {
	id   string
	conn net.Conn
	mu   sync.Mutex
}

func newConnHandle(conn net.Conn) *connHandle {
	return &connHandle{id: uuid.NewString(), conn: conn}
}

func (h *connHandle) ID() string { return h.id }

func (h *connHandle) Send(ctx context.Context, frames [][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return protocol.WriteFrames(h.conn, frames)
}

// Serve binds the configured channel listeners and blocks until ctx is
// cancelled. The heartbeat runs independently of the dispatch loop.
func (k *Kernel) Serve(ctx context.Context) error {
	if err := k.Start(ctx); err != nil {
		return err
	}
	defer k.Shutdown(context.WithoutCancel(ctx))

	group, groupCtx := errgroup.WithContext(ctx)

	if addr := k.cfg.Kernel.ShellAddr; addr != "" {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		group.Go(func() error { return k.serveChannel(groupCtx, listener, protocol.ChannelShell) })
	}
	if addr := k.cfg.Kernel.IOPubAddr; addr != "" {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		group.Go(func() error { return k.serveIOPub(groupCtx, listener) })
	}
	if addr := k.cfg.Kernel.HeartbeatAddr; addr != "" {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		group.Go(func() error { return protocol.NewHeartbeat(listener).Serve(groupCtx) })
	}
	if k.cfg.Kernel.REPL.Enabled && k.cfg.Kernel.REPL.Addr != "" {
		listener, err := net.Listen("tcp", k.cfg.Kernel.REPL.Addr)
		if err != nil {
			return err
		}
		repl := NewREPLServer(k, listener)
		group.Go(func() error { return repl.Serve(groupCtx) })
	}

	return group.Wait()
}

// serveChannel accepts request/reply connections (Shell, Control).
func (k *Kernel) serveChannel(ctx context.Context, listener net.Listener, channel protocol.Channel) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go k.handleConn(ctx, conn, channel)
	}
}

// handleConn drives one client connection's read loop. Malformed or
// badly signed messages are dropped with a protocol.error event; the
// loop only ends on transport failure.
func (k *Kernel) handleConn(ctx context.Context, conn net.Conn, channel protocol.Channel) {
	handle := newConnHandle(conn)
	registered := map[string]bool{}
	defer func() {
		for session := range registered {
			k.router.Unregister(session, channel, handle.id)
		}
		_ = conn.Close()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		frames, err := protocol.ReadFrames(conn)
		if err != nil {
			return
		}

		msg, err := k.codec.Decode(frames)
		if err != nil {
			k.publishKernelEvent(ctx, "protocol.error", map[string]any{
				"channel": string(channel),
				"error":   err.Error(),
			})
			continue
		}

		if !registered[msg.Header.Session] {
			k.router.Register(msg.Header.Session, channel, handle)
			registered[msg.Header.Session] = true
		}
		if err := k.HandleMessage(ctx, channel, msg); err != nil {
			k.log.Warn("message handling failed",
				"channel", string(channel), "msg_type", msg.Header.MsgType, "error", err)
		}
	}
}

// serveIOPub accepts subscriber connections. Subscribers only receive;
// each is registered for broadcast on arrival.
func (k *Kernel) serveIOPub(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		handle := newConnHandle(conn)
		session := handle.id
		k.router.Register(session, protocol.ChannelIOPub, handle)

		go func() {
			// Hold the connection open until the peer goes away.
			buf := make([]byte, 1)
			for {
				if _, err := conn.Read(buf); err != nil {
					break
				}
			}
			k.router.Unregister(session, protocol.ChannelIOPub, handle.id)
			_ = conn.Close()
		}()

		_ = k.bus.Publish(ctx, events.New("kernel.iopub.subscribed", "kernel", map[string]any{
			"client": handle.id,
		}))
	}
}
