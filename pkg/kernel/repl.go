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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/grimoire/pkg/logger"
)

// REPL protocol variants negotiated at connect time.
const (
	replProtoText    = "text"
	replProtoJSONRPC = "jsonrpc"
	replProtoBinary  = "binary" // reserved
)

type replSession struct {
	id         string
	conn       net.Conn
	proto      string
	mu         sync.Mutex
	lastActive time.Time
}

func (s *replSession) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *replSession) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// REPLServer accepts TCP connections with a protocol negotiation
// handshake and drives script execution interactively. A cleanup task
// reaps idle sessions on a fixed interval.
type REPLServer struct {
	kernel   *Kernel
	listener net.Listener

	mu       sync.Mutex
	sessions map[string]*replSession

	log *slog.Logger
}

// NewREPLServer wraps a bound listener.
func NewREPLServer(k *Kernel, listener net.Listener) *REPLServer {
	return &REPLServer{
		kernel:   k,
		listener: listener,
		sessions: make(map[string]*replSession),
		log:      logger.With("subsystem", "repl"),
	}
}

// Addr returns the listener address.
func (s *REPLServer) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until ctx is cancelled.
func (s *REPLServer) Serve(ctx context.Context) error {
	go s.reap(ctx)
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handle(ctx, conn)
	}
}

// reap closes sessions idle past the configured timeout.
func (s *REPLServer) reap(ctx context.Context) {
	cfg := s.kernel.cfg.Kernel.REPL
	ticker := time.NewTicker(cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-cfg.IdleTimeout)
			s.mu.Lock()
			for id, session := range s.sessions {
				if session.idleSince().Before(cutoff) {
					s.log.Info("reaping idle repl session", "session", id)
					_ = session.conn.Close()
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *REPLServer) register(session *replSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max := s.kernel.cfg.Kernel.REPL.MaxSessions; max > 0 && len(s.sessions) >= max {
		return false
	}
	s.sessions[session.id] = session
	return true
}

func (s *REPLServer) unregister(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// handle negotiates the protocol and runs the session loop.
// The handshake is one line: "HELLO <text|jsonrpc|binary>".
func (s *REPLServer) handle(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	reader := bufio.NewReader(conn)

	hello, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	fields := strings.Fields(strings.TrimSpace(hello))
	if len(fields) != 2 || fields[0] != "HELLO" {
		fmt.Fprintf(conn, "ERR expected HELLO <protocol>\n")
		return
	}
	proto := fields[1]
	switch proto {
	case replProtoText, replProtoJSONRPC:
	case replProtoBinary:
		fmt.Fprintf(conn, "ERR binary protocol reserved\n")
		return
	default:
		fmt.Fprintf(conn, "ERR unknown protocol %q\n", proto)
		return
	}

	session := &replSession{
		id:         uuid.NewString(),
		conn:       conn,
		proto:      proto,
		lastActive: time.Now(),
	}
	if !s.register(session) {
		fmt.Fprintf(conn, "ERR session limit reached\n")
		return
	}
	defer s.unregister(session.id)
	fmt.Fprintf(conn, "OK %s %s\n", proto, session.id)

	for {
		if ctx.Err() != nil {
			return
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		session.touch()

		switch proto {
		case replProtoText:
			if !s.handleText(ctx, conn, strings.TrimRight(line, "\r\n")) {
				return
			}
		case replProtoJSONRPC:
			s.handleJSONRPC(ctx, conn, line)
		}
	}
}

func (s *REPLServer) handleText(ctx context.Context, conn net.Conn, line string) bool {
	if line == "exit" || line == "quit" {
		fmt.Fprintf(conn, "BYE\n")
		return false
	}
	if line == "" {
		return true
	}

	result, err := s.kernel.script.Execute(ctx, line, func(_, text string) {
		_, _ = fmt.Fprint(conn, text)
	})
	if err != nil {
		fmt.Fprintf(conn, "ERR %s\n", strings.ReplaceAll(err.Error(), "\n", " "))
		return true
	}
	if result != nil && result.Value != nil {
		fmt.Fprintf(conn, "=> %v\n", result.Value)
	} else {
		fmt.Fprintf(conn, "=> ok\n")
	}
	return true
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
	ID      any           `json:"id"`
}

func (s *REPLServer) handleJSONRPC(ctx context.Context, conn net.Conn, line string) {
	respond := func(resp jsonRPCResponse) {
		resp.JSONRPC = "2.0"
		encoded, err := json.Marshal(resp)
		if err != nil {
			return
		}
		_, _ = conn.Write(append(encoded, '\n'))
	}

	var req jsonRPCRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		respond(jsonRPCResponse{Error: &jsonRPCError{Code: -32700, Message: "parse error"}})
		return
	}
	if req.JSONRPC != "2.0" {
		respond(jsonRPCResponse{ID: req.ID, Error: &jsonRPCError{Code: -32600, Message: "invalid request"}})
		return
	}

	switch req.Method {
	case "execute":
		var params struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Code == "" {
			respond(jsonRPCResponse{ID: req.ID, Error: &jsonRPCError{Code: -32602, Message: "invalid params"}})
			return
		}
		var output strings.Builder
		result, err := s.kernel.script.Execute(ctx, params.Code, func(_, text string) {
			output.WriteString(text)
		})
		if err != nil {
			respond(jsonRPCResponse{ID: req.ID, Error: &jsonRPCError{Code: -32000, Message: err.Error()}})
			return
		}
		respond(jsonRPCResponse{ID: req.ID, Result: map[string]any{
			"value":  result.Value,
			"output": output.String(),
		}})
	case "evaluate":
		var params struct {
			Expression string `json:"expression"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Expression == "" {
			respond(jsonRPCResponse{ID: req.ID, Error: &jsonRPCError{Code: -32602, Message: "invalid params"}})
			return
		}
		value, err := s.kernel.script.Evaluate(ctx, params.Expression)
		if err != nil {
			respond(jsonRPCResponse{ID: req.ID, Error: &jsonRPCError{Code: -32000, Message: err.Error()}})
			return
		}
		respond(jsonRPCResponse{ID: req.ID, Result: map[string]any{"value": value}})
	default:
		respond(jsonRPCResponse{ID: req.ID, Error: &jsonRPCError{Code: -32601, Message: "method not found"}})
	}
}
