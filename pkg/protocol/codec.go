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
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"

	"github.com/kadirpekel/grimoire/pkg/gerrors"
)

// Protocol errors. All are KindProtocol; connection-scoped handling
// drops the message and publishes an event, never breaking the loop.
var (
	ErrMissingDelimiter  = gerrors.New(gerrors.KindProtocol, "missing <IDS|MSG> delimiter")
	ErrIncompleteMessage = gerrors.New(gerrors.KindProtocol, "fewer than five frames after delimiter")
	ErrBadSignature      = gerrors.New(gerrors.KindProtocol, "HMAC signature mismatch")
	ErrBadVersion        = gerrors.New(gerrors.KindProtocol, "unsupported protocol version")
	ErrBadHeader         = gerrors.New(gerrors.KindProtocol, "header missing required fields")
)

// Codec encodes and decodes Jupyter 5.3 wire messages for one kernel
// session. The HMAC key is read-only after construction.
type Codec struct {
	session  string
	username string
	key      []byte
}

// NewCodec creates a codec. Key is the shared HMAC key: hex-decoded
// when it parses as hex, raw bytes otherwise, empty for no-key mode.
func NewCodec(session, username, key string) *Codec {
	c := &Codec{session: session, username: username}
	if key != "" {
		if decoded, err := hex.DecodeString(key); err == nil {
			c.key = decoded
		} else {
			c.key = []byte(key)
		}
	}
	return c
}

// Session returns the codec's session id.
func (c *Codec) Session() string { return c.session }

// NewMessage creates a fresh message of the given type.
func (c *Codec) NewMessage(msgType string, content map[string]any) *Message {
	return &Message{
		Header:   NewHeader(msgType, c.session, c.username),
		Metadata: map[string]any{},
		Content:  content,
	}
}

// sign computes the hex HMAC-SHA256 over the four JSON parts in wire
// order. No key means an empty signature.
func (c *Codec) sign(header, parent, metadata, content []byte) string {
	if len(c.key) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, c.key)
	mac.Write(header)
	mac.Write(parent)
	mac.Write(metadata)
	mac.Write(content)
	return hex.EncodeToString(mac.Sum(nil))
}

// verify compares a received signature constant-time against the
// expected one. In no-key mode only an empty signature is accepted.
func (c *Codec) verify(signature string, header, parent, metadata, content []byte) bool {
	expected := c.sign(header, parent, metadata, content)
	if len(c.key) == 0 {
		return signature == ""
	}
	if len(signature) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

// Encode serializes a message into wire frames:
// [identities..., "<IDS|MSG>", signature, header, parent, metadata,
// content, buffers...].
func (c *Codec) Encode(msg *Message) ([][]byte, error) {
	header, err := json.Marshal(msg.Header)
	if err != nil {
		return nil, gerrors.Wrap(gerrors.KindProtocol, "encode header", err)
	}

	parent := []byte("{}")
	if !msg.ParentHeader.Empty() {
		if parent, err = json.Marshal(msg.ParentHeader); err != nil {
			return nil, gerrors.Wrap(gerrors.KindProtocol, "encode parent header", err)
		}
	}

	metadata := []byte("{}")
	if msg.Metadata != nil {
		if metadata, err = json.Marshal(msg.Metadata); err != nil {
			return nil, gerrors.Wrap(gerrors.KindProtocol, "encode metadata", err)
		}
	}

	content := []byte("{}")
	if msg.Content != nil {
		if content, err = json.Marshal(msg.Content); err != nil {
			return nil, gerrors.Wrap(gerrors.KindProtocol, "encode content", err)
		}
	}

	frames := make([][]byte, 0, len(msg.Identities)+6+len(msg.Buffers))
	frames = append(frames, msg.Identities...)
	frames = append(frames, []byte(Delimiter))
	frames = append(frames, []byte(c.sign(header, parent, metadata, content)))
	frames = append(frames, header, parent, metadata, content)
	frames = append(frames, msg.Buffers...)
	return frames, nil
}

// Decode parses and verifies incoming wire frames. A correct receiver
// never dispatches content on a bad signature.
func (c *Codec) Decode(frames [][]byte) (*Message, error) {
	delimiterAt := -1
	for i, frame := range frames {
		if bytes.Equal(frame, []byte(Delimiter)) {
			delimiterAt = i
			break
		}
	}
	if delimiterAt < 0 {
		return nil, ErrMissingDelimiter
	}
	rest := frames[delimiterAt+1:]
	if len(rest) < 5 {
		return nil, ErrIncompleteMessage
	}

	signature := string(rest[0])
	header, parent, metadata, content := rest[1], rest[2], rest[3], rest[4]
	if !c.verify(signature, header, parent, metadata, content) {
		return nil, ErrBadSignature
	}

	msg := &Message{
		Identities: frames[:delimiterAt],
		Buffers:    rest[5:],
	}
	if err := json.Unmarshal(header, &msg.Header); err != nil {
		return nil, gerrors.Wrap(gerrors.KindProtocol, "decode header", err)
	}
	if err := json.Unmarshal(parent, &msg.ParentHeader); err != nil {
		return nil, gerrors.Wrap(gerrors.KindProtocol, "decode parent header", err)
	}
	if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
		return nil, gerrors.Wrap(gerrors.KindProtocol, "decode metadata", err)
	}
	if err := json.Unmarshal(content, &msg.Content); err != nil {
		return nil, gerrors.Wrap(gerrors.KindProtocol, "decode content", err)
	}

	if msg.Header.Version != Version {
		return nil, ErrBadVersion
	}
	if msg.Header.MsgID == "" || msg.Header.Session == "" || msg.Header.MsgType == "" || msg.Header.Date == "" {
		return nil, ErrBadHeader
	}
	return msg, nil
}
