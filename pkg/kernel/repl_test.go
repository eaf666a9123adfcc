package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestREPL(t *testing.T) (*REPLServer, net.Conn, *bufio.Reader) {
	t.Helper()
	k := newTestKernel(t)
	startKernel(t, k)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := NewREPLServer(k, listener)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = server.Serve(ctx) }()

	conn, err := net.DialTimeout("tcp", server.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return server, conn, bufio.NewReader(conn)
}

func TestREPLTextProtocol(t *testing.T) {
	_, conn, reader := startTestREPL(t)

	_, err := conn.Write([]byte("HELLO text\n"))
	require.NoError(t, err)
	greeting, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(greeting, "OK text "))

	_, err = conn.Write([]byte("2+2\n"))
	require.NoError(t, err)

	// echoExecutor streams "ran: <code>" then returns the code.
	var lines []string
	for len(lines) < 1 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.Contains(line, "=>") {
			lines = append(lines, line)
		}
	}
	assert.Contains(t, lines[0], "2+2")

	_, err = conn.Write([]byte("exit\n"))
	require.NoError(t, err)
	bye, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "BYE\n", bye)
}

func TestREPLJSONRPCProtocol(t *testing.T) {
	_, conn, reader := startTestREPL(t)

	_, err := conn.Write([]byte("HELLO jsonrpc\n"))
	require.NoError(t, err)
	_, err = reader.ReadString('\n')
	require.NoError(t, err)

	_, err = conn.Write([]byte(`{"jsonrpc":"2.0","method":"execute","params":{"code":"6*7"},"id":1}` + "\n"))
	require.NoError(t, err)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, "2.0", resp["jsonrpc"])
	assert.EqualValues(t, 1, resp["id"])
	result := resp["result"].(map[string]any)
	assert.Equal(t, "6*7", result["value"])

	// Unknown method yields -32601.
	_, err = conn.Write([]byte(`{"jsonrpc":"2.0","method":"teleport","id":2}` + "\n"))
	require.NoError(t, err)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	errObj := resp["error"].(map[string]any)
	assert.EqualValues(t, -32601, errObj["code"])
}

func TestREPLRejectsBinaryAndUnknownProtocols(t *testing.T) {
	_, conn, reader := startTestREPL(t)

	_, err := conn.Write([]byte("HELLO binary\n"))
	require.NoError(t, err)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "reserved")
}
