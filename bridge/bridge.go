// Package bridge multiplexes up to four TCP client sockets onto the modem's
// serial channel. It owns the listening socket behind AT+CIPSERVER, installs
// accepted connections in the shared link table, and raises the +IPD and
// n,CONNECT notifications consumed by the host.
package bridge

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/espsim/modem/at"
)

const (
	// pollInterval bounds how long the accept and read loops block before
	// rechecking for shutdown.
	pollInterval = 100 * time.Millisecond

	// joinTimeout bounds how long Stop waits for workers before abandoning
	// them.
	joinTimeout = time.Second

	// readChunk is the per-read ceiling on inbound TCP data.
	readChunk = 1024
)

// Bridge relays between TCP clients and the serial side of the modem.
// It implements at.Server.
type Bridge struct {
	state *at.State
	rsp   *at.Responder
	lg    *log.Logger

	mu   sync.Mutex
	ln   *net.TCPListener
	done chan struct{}
	wg   *sync.WaitGroup

	dropped uint64
}

// Option modifies a Bridge created by New.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(lg *log.Logger) Option {
	return func(b *Bridge) {
		b.lg = lg
	}
}

// New creates a bridge over the shared modem state and host responder.
func New(state *at.State, rsp *at.Responder, opts ...Option) *Bridge {
	b := &Bridge{state: state, rsp: rsp, lg: log.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start binds 127.0.0.1 on the port and begins accepting clients. Any
// previous listener is stopped first. The error distinguishes a port already
// in use from other bind failures, though the engine reports both to the
// host as ERROR.
func (b *Bridge) Start(port uint16) error {
	b.Stop()
	if !portAvailable(port) {
		return errors.Errorf("port %d is already in use", port)
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return errors.Wrapf(err, "bind 127.0.0.1:%d", port)
	}
	tl := ln.(*net.TCPListener)
	done := make(chan struct{})
	wg := &sync.WaitGroup{}
	b.mu.Lock()
	b.ln = tl
	b.done = done
	b.wg = wg
	b.mu.Unlock()
	wg.Add(1)
	go b.acceptLoop(tl, done, wg)
	b.lg.Info("TCP server listening", "port", port)
	return nil
}

// Stop closes the listener, shuts down the accept and per-link read loops,
// and closes every open link. Safe to call when not started.
func (b *Bridge) Stop() {
	b.mu.Lock()
	ln, done, wg := b.ln, b.done, b.wg
	b.ln, b.done, b.wg = nil, nil, nil
	b.mu.Unlock()
	if ln == nil {
		return
	}
	close(done)
	ln.Close()
	c := make(chan struct{})
	go func() {
		wg.Wait()
		close(c)
	}()
	select {
	case <-c:
	case <-time.After(joinTimeout):
		b.lg.Warn("bridge shutdown timed out; abandoning workers")
	}
	b.state.CloseAll()
}

// DroppedChunks reports how many inbound TCP chunks were discarded because a
// passive receive buffer was already occupied.
func (b *Bridge) DroppedChunks() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

func (b *Bridge) acceptLoop(ln *net.TCPListener, done chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-done:
			return
		default:
		}
		ln.SetDeadline(time.Now().Add(pollInterval))
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-done:
			default:
				b.lg.Error("accept failed", "err", err)
			}
			return
		}
		linkID, ok := b.state.InstallConn(conn)
		if !ok {
			b.lg.Warn("connection table full, rejecting client", "remote", conn.RemoteAddr())
			conn.Close()
			continue
		}
		b.lg.Info("client connected", "link", linkID, "remote", conn.RemoteAddr())
		b.rsp.Send(fmt.Sprintf("%d,CONNECT\r\n\r\n", linkID))
		wg.Add(1)
		go b.readLoop(conn, linkID, done, wg)
	}
}

// readLoop services one accepted connection, raising +IPD for each inbound
// chunk and feeding the passive receive buffer. A disconnect clears the slot
// without notifying the host.
func (b *Bridge) readLoop(conn net.Conn, linkID int, done chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		b.state.ClearConn(linkID, conn)
		conn.Close()
		b.lg.Info("client disconnected", "link", linkID)
	}()
	buf := make([]byte, readChunk)
	for {
		select {
		case <-done:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := conn.Read(buf)
		if n > 0 {
			b.rsp.Send(fmt.Sprintf("+IPD,%d,%d\r\n", linkID, n))
			if !b.state.PushReceive(linkID, buf[:n]) {
				// The firmware drops the chunk once a passive buffer is
				// occupied. Count it so the loss is visible.
				atomic.AddUint64(&b.dropped, 1)
				b.lg.Warn("passive receive buffer occupied, chunk dropped", "link", linkID, "bytes", n)
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
	}
}

// portAvailable try-binds the port to tell "already in use" apart from other
// bind failures before the real listener is created.
func portAvailable(port uint16) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
