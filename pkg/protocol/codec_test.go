package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "9f8e7d6c5b4a39281706f5e4d3c2b1a09f8e7d6c5b4a39281706f5e4d3c2b1a0"

func TestSignedRoundtrip(t *testing.T) {
	kernel := NewCodec("kernel-session", "kernel", testKey)

	msg := kernel.NewMessage("execute_request", map[string]any{"code": "print('hi')"})
	msg.Identities = [][]byte{[]byte("routing-id")}
	frames, err := kernel.Encode(msg)
	require.NoError(t, err)

	decoded, err := kernel.Decode(frames)
	require.NoError(t, err)
	assert.Equal(t, "execute_request", decoded.Header.MsgType)
	assert.Equal(t, Version, decoded.Header.Version)
	assert.Equal(t, "print('hi')", decoded.Content["code"])
	require.Len(t, decoded.Identities, 1)
	assert.Equal(t, []byte("routing-id"), decoded.Identities[0])
}

func TestBitFlipFalsifiesSignature(t *testing.T) {
	codec := NewCodec("s", "u", testKey)
	msg := codec.NewMessage("execute_request", map[string]any{"code": "print('hi')"})
	frames, err := codec.Encode(msg)
	require.NoError(t, err)

	// Frames: [delimiter, sig, header, parent, metadata, content].
	// Flip one bit in every signed part in turn; each must be rejected.
	for _, idx := range []int{2, 3, 4, 5} {
		corrupted := make([][]byte, len(frames))
		for i, frame := range frames {
			cp := make([]byte, len(frame))
			copy(cp, frame)
			corrupted[i] = cp
		}
		corrupted[idx][0] ^= 0x01

		_, err := codec.Decode(corrupted)
		require.Error(t, err, "frame %d", idx)
		assert.True(t, errors.Is(err, ErrBadSignature) || err == ErrBadSignature,
			"expected BadSignature for corrupted frame %d, got %v", idx, err)
	}
}

func TestNoKeyModeAcceptsOnlyEmptySignature(t *testing.T) {
	open := NewCodec("s", "u", "")
	msg := open.NewMessage("kernel_info_request", nil)
	frames, err := open.Encode(msg)
	require.NoError(t, err)

	decoded, err := open.Decode(frames)
	require.NoError(t, err)
	assert.Equal(t, "kernel_info_request", decoded.Header.MsgType)

	// A non-empty signature in no-key mode is rejected.
	frames[1] = []byte("deadbeef")
	_, err = open.Decode(frames)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestDecodeMissingDelimiter(t *testing.T) {
	codec := NewCodec("s", "u", "")
	_, err := codec.Decode([][]byte{[]byte("{}"), []byte("{}")})
	assert.ErrorIs(t, err, ErrMissingDelimiter)
}

func TestDecodeIncompleteMessage(t *testing.T) {
	codec := NewCodec("s", "u", "")
	_, err := codec.Decode([][]byte{
		[]byte(Delimiter), []byte(""), []byte("{}"), []byte("{}"),
	})
	assert.ErrorIs(t, err, ErrIncompleteMessage)
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	codec := NewCodec("s", "u", "")
	msg := codec.NewMessage("kernel_info_request", nil)
	msg.Header.Version = "5.0"
	frames, err := codec.Encode(msg)
	require.NoError(t, err)
	_, err = codec.Decode(frames)
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestDecodeRejectsMissingHeaderFields(t *testing.T) {
	codec := NewCodec("s", "u", "")
	msg := codec.NewMessage("kernel_info_request", nil)
	msg.Header.MsgID = ""
	frames, err := codec.Encode(msg)
	require.NoError(t, err)
	_, err = codec.Decode(frames)
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestDecodePreservesBuffers(t *testing.T) {
	codec := NewCodec("s", "u", testKey)
	msg := codec.NewMessage("execute_request", map[string]any{"code": "x"})
	msg.Buffers = [][]byte{{0x01, 0x02}, {0x03}}

	frames, err := codec.Encode(msg)
	require.NoError(t, err)
	decoded, err := codec.Decode(frames)
	require.NoError(t, err)
	require.Len(t, decoded.Buffers, 2)
	assert.Equal(t, []byte{0x01, 0x02}, decoded.Buffers[0])
}

func TestReplyParentsAndEchoesIdentities(t *testing.T) {
	codec := NewCodec("client-session", "client", "")
	request := codec.NewMessage("execute_request", map[string]any{"code": "1"})
	request.Identities = [][]byte{[]byte("id0")}

	reply := request.Reply("execute_reply", map[string]any{"status": "ok"})
	assert.Equal(t, request.Header.MsgID, reply.ParentHeader.MsgID)
	assert.Equal(t, request.Identities, reply.Identities)
	assert.Equal(t, "client-session", reply.Header.Session)
	assert.NotEqual(t, request.Header.MsgID, reply.Header.MsgID)
}

func TestSignDeterministic(t *testing.T) {
	a := NewCodec("s", "u", testKey)
	b := NewCodec("s2", "u2", testKey)

	header, parent, metadata, content := []byte(`{"h":1}`), []byte("{}"), []byte("{}"), []byte(`{"c":2}`)
	assert.Equal(t, a.sign(header, parent, metadata, content), b.sign(header, parent, metadata, content))
	assert.True(t, a.verify(a.sign(header, parent, metadata, content), header, parent, metadata, content))
}
