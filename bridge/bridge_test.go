package bridge_test

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/espsim/modem/at"
	"github.com/espsim/modem/bridge"
)

type safeBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func setupBridge(t *testing.T) (*bridge.Bridge, *at.State, *safeBuffer, uint16) {
	t.Helper()
	buf := &safeBuffer{}
	state := at.NewState()
	b := bridge.New(state, at.NewResponder(buf), bridge.WithLogger(log.New(io.Discard)))
	t.Cleanup(b.Stop)
	return b, state, buf, freePort(t)
}

func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return uint16(port)
}

func dial(t *testing.T, port uint16) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.Nil(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStartStop(t *testing.T) {
	b, _, _, port := setupBridge(t)
	require.Nil(t, b.Start(port))

	// restart on a new port replaces the listener
	port2 := freePort(t)
	require.Nil(t, b.Start(port2))
	conn := dial(t, port2)
	conn.Close()

	b.Stop()
	// stopped bridge no longer accepts
	_, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port2), 100*time.Millisecond)
	assert.NotNil(t, err)
	// Stop is idempotent
	b.Stop()
}

func TestStartPortInUse(t *testing.T) {
	b, _, _, port := setupBridge(t)
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.Nil(t, err)
	defer ln.Close()

	err = b.Start(port)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "in use")
}

func TestAcceptNotifies(t *testing.T) {
	b, state, buf, port := setupBridge(t)
	require.Nil(t, b.Start(port))

	dial(t, port)
	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "0,CONNECT\r\n\r\n")
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return state.Conn(0) != nil },
		time.Second, time.Millisecond)
}

func TestInboundDataNotifies(t *testing.T) {
	b, state, buf, port := setupBridge(t)
	require.Nil(t, b.Start(port))

	conn := dial(t, port)
	_, err := conn.Write([]byte("hi"))
	require.Nil(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "+IPD,0,2\r\n")
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return state.ReceiveLen() == 2 },
		time.Second, time.Millisecond)

	payload, ok := state.TakeReceive(10)
	require.True(t, ok)
	assert.Equal(t, []byte("hi"), payload)
}

func TestSecondChunkDropped(t *testing.T) {
	b, state, buf, port := setupBridge(t)
	require.Nil(t, b.Start(port))

	conn := dial(t, port)
	_, err := conn.Write([]byte("first"))
	require.Nil(t, err)
	require.Eventually(t, func() bool { return state.ReceiveLen() == 5 },
		time.Second, time.Millisecond)

	_, err = conn.Write([]byte("more"))
	require.Nil(t, err)

	// the second chunk is notified but not queued
	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "+IPD,0,4\r\n")
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return b.DroppedChunks() == 1 },
		time.Second, time.Millisecond)
	assert.Equal(t, 5, state.ReceiveLen())
}

func TestConnectionCap(t *testing.T) {
	b, _, buf, port := setupBridge(t)
	require.Nil(t, b.Start(port))

	for i := 0; i < at.MaxConnections; i++ {
		dial(t, port)
		want := fmt.Sprintf("%d,CONNECT\r\n\r\n", i)
		require.Eventually(t, func() bool {
			return strings.Contains(buf.String(), want)
		}, time.Second, time.Millisecond)
	}

	// the fifth client is closed immediately
	fifth := dial(t, port)
	fifth.SetReadDeadline(time.Now().Add(time.Second))
	_, err := fifth.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)
	assert.NotContains(t, buf.String(), "4,CONNECT")
}

func TestDisconnectClearsSlot(t *testing.T) {
	b, state, buf, port := setupBridge(t)
	require.Nil(t, b.Start(port))

	conn := dial(t, port)
	require.Eventually(t, func() bool { return state.Conn(0) != nil },
		time.Second, time.Millisecond)
	conn.Close()

	require.Eventually(t, func() bool { return state.Conn(0) == nil },
		time.Second, time.Millisecond)
	// no notification is raised for a peer disconnect
	assert.NotContains(t, buf.String(), "CLOSED")

	// the freed slot is reused
	dial(t, port)
	require.Eventually(t, func() bool {
		return strings.Count(buf.String(), "0,CONNECT\r\n\r\n") == 2
	}, time.Second, time.Millisecond)
}

func TestStopClosesClients(t *testing.T) {
	b, state, _, port := setupBridge(t)
	require.Nil(t, b.Start(port))

	conn := dial(t, port)
	require.Eventually(t, func() bool { return state.Conn(0) != nil },
		time.Second, time.Millisecond)

	b.Stop()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err := conn.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)
	assert.Nil(t, state.Conn(0))
}
