package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavolo-project/tavolo/internal/config"
	"github.com/tavolo-project/tavolo/internal/events"
	"github.com/tavolo-project/tavolo/internal/protocol"
)

// startTestServer boots a full server on an ephemeral port and returns it
// with its bound address.
func startTestServer(t *testing.T) (*Server, net.Addr) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.ListenAddress = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.Motd = ""
	cfg.Server.ShutdownTimeoutSec = 5

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	srv := New(cfg, bus)
	require.NoError(t, srv.Start(context.Background()))

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = srv.Addr()
		return addr != nil
	}, 2*time.Second, 10*time.Millisecond)
	return srv, addr
}

// joinAs dials the server and completes the join handshake for the given
// player name.
func joinAs(t *testing.T, addr net.Addr, name string) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, protocol.WriteMessage(conn, protocol.NewJoin(protocol.PlayerInfo{Name: name})))

	typ, err := protocol.ReadType(conn)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeJoinStatus, typ)

	msg, err := protocol.ReadMessage(conn, typ)
	require.NoError(t, err)
	status, ok := msg.(*protocol.JoinStatus)
	require.True(t, ok)
	require.True(t, status.OK(), "join rejected: %s", status.Err)
	return conn
}

func TestStopDeliversFarewellBeforeClosingSockets(t *testing.T) {
	srv, addr := startTestServer(t)
	conn := joinAs(t, addr, "anna")

	// Drain everything the server sends until the stream dies, recording
	// whether the permanent farewell made it onto the wire first.
	farewell := make(chan bool, 1)
	go func() {
		for {
			typ, err := protocol.ReadType(conn)
			if err != nil || typ == protocol.TypeServerEnd {
				farewell <- false
				return
			}
			m, err := protocol.ReadMessage(conn, typ)
			if err != nil {
				farewell <- false
				return
			}
			if end, ok := m.(*protocol.ConnectionEnd); ok && end.Final {
				farewell <- true
				return
			}
		}
	}()

	srv.Stop()

	select {
	case got := <-farewell:
		assert.True(t, got, "socket closed before the farewell arrived")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the farewell")
	}
}
