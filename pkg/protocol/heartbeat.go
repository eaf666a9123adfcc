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
	"errors"
	"log/slog"
	"net"

	"github.com/kadirpekel/grimoire/pkg/logger"
)

// Heartbeat is the echo channel server. It replies with the bytes it
// receives and is independent of the main dispatch loop.
type Heartbeat struct {
	listener net.Listener
	log      *slog.Logger
}

// NewHeartbeat wraps a bound listener.
func NewHeartbeat(listener net.Listener) *Heartbeat {
	return &Heartbeat{
		listener: listener,
		log:      logger.With("subsystem", "heartbeat"),
	}
}

// Addr returns the listener address.
func (h *Heartbeat) Addr() net.Addr {
	return h.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener
// closes.
func (h *Heartbeat) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = h.listener.Close()
	}()

	for {
		conn, err := h.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go h.echo(ctx, conn)
	}
}

func (h *Heartbeat) echo(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	for {
		if ctx.Err() != nil {
			return
		}
		frames, err := ReadFrames(conn)
		if err != nil {
			return
		}
		if err := WriteFrames(conn, frames); err != nil {
			h.log.Debug("heartbeat write failed", "error", err)
			return
		}
	}
}
