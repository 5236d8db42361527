package rpc

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobd/jobd/internal/manifest"
)

// TestServeListAndShutdown exercises S4 end to end over the real unix
// socket: one connection sends the `list` request and receives a result
// keyed by label with exactly pid/state/enabled/fault_state.
func TestServeListAndShutdown(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.reg.Load("a", &manifest.Manifest{Label: "a", Command: "/bin/true"})
	require.NoError(t, err)

	cfg := &Config{SocketPath: filepath.Join(t.TempDir(), "jobd.sock")}
	srv, err := New(cfg, d)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	// Stand in for the event loop: drain queued requests onto this
	// goroutine, exactly as the daemon's event loop would via ReadFD/Drain.
	loopDone := make(chan struct{})
	defer close(loopDone)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-loopDone:
				return
			case <-ticker.C:
				srv.Drain()
			}
		}
	}()

	var conn net.Conn
	require.Eventually(t, func() bool {
		c, dialErr := net.Dial("unix", cfg.SocketPath)
		if dialErr != nil {
			return false
		}
		conn = c
		return true
	}, time.Second, 10*time.Millisecond)
	require.NotNil(t, conn)

	_, err = conn.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"list"}`))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.UnixConn).CloseWrite())

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	entry, ok := result["a"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, entry, "pid")
	assert.Contains(t, entry, "state")
	assert.Contains(t, entry, "enabled")
	assert.Contains(t, entry, "fault_state")

	srv.GracefulStop()
	require.NoError(t, <-done)
}

// TestServeWatchStreamsNotifications covers the `watch` connection mode: one
// connection gets an initial ack, then a further Response per subsequent
// Notification, without the server closing the connection after the first
// reply the way every other method does.
func TestServeWatchStreamsNotifications(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.reg.Load("a", &manifest.Manifest{Label: "a", Command: "/bin/true"})
	require.NoError(t, err)

	cfg := &Config{SocketPath: filepath.Join(t.TempDir(), "jobd.sock")}
	srv, err := New(cfg, d)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	loopDone := make(chan struct{})
	defer close(loopDone)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-loopDone:
				return
			case <-ticker.C:
				srv.Drain()
			}
		}
	}()

	var conn net.Conn
	require.Eventually(t, func() bool {
		c, dialErr := net.Dial("unix", cfg.SocketPath)
		if dialErr != nil {
			return false
		}
		conn = c
		return true
	}, time.Second, 10*time.Millisecond)
	require.NotNil(t, conn)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"watch"}`))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.UnixConn).CloseWrite())

	reader := bufio.NewReader(conn)

	ackLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	var ack Response
	require.NoError(t, json.Unmarshal([]byte(ackLine), &ack))
	require.Nil(t, ack.Error)

	d.publish("a")

	noteLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	var noteResp Response
	require.NoError(t, json.Unmarshal([]byte(noteLine), &noteResp))
	require.Nil(t, noteResp.Error)

	result, ok := noteResp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a", result["Label"])
	assert.Equal(t, "Loaded", result["State"])

	conn.Close()
	srv.GracefulStop()
	require.NoError(t, <-done)
}
