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

// Package protocol implements the Jupyter 5.3 wire protocol: HMAC-signed
// five-part framed messages, the channel model, and the multiprotocol
// message router.
package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Version is the Jupyter protocol version this runtime speaks.
const Version = "5.3"

// Delimiter separates routing identities from the signed message parts.
const Delimiter = "<IDS|MSG>"

// Channel is a logical Jupyter stream.
type Channel string

const (
	ChannelShell     Channel = "shell"
	ChannelIOPub     Channel = "iopub"
	ChannelStdin     Channel = "stdin"
	ChannelControl   Channel = "control"
	ChannelHeartbeat Channel = "hb"
)

// Header identifies one protocol message.
type Header struct {
	MsgID    string `json:"msg_id"`
	Session  string `json:"session"`
	Username string `json:"username"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
	Date     string `json:"date"`
}

// Empty reports whether the header carries no message id (the JSON
// encoding of an absent parent header is an empty object).
func (h Header) Empty() bool {
	return h.MsgID == ""
}

// Message is one decoded protocol message. Identities are opaque
// routing frames preserved and echoed on reply.
type Message struct {
	Identities   [][]byte
	Header       Header
	ParentHeader Header
	Metadata     map[string]any
	Content      map[string]any
	Buffers      [][]byte
}

// NewHeader creates a fresh header for a message type within a session.
func NewHeader(msgType, session, username string) Header {
	return Header{
		MsgID:    uuid.NewString(),
		Session:  session,
		Username: username,
		MsgType:  msgType,
		Version:  Version,
		Date:     time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Reply builds a child message of the given type, parented by m's
// header and echoing m's identities.
func (m *Message) Reply(msgType string, content map[string]any) *Message {
	return &Message{
		Identities:   m.Identities,
		Header:       NewHeader(msgType, m.Header.Session, m.Header.Username),
		ParentHeader: m.Header,
		Metadata:     map[string]any{},
		Content:      content,
	}
}
