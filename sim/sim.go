// Package sim assembles the simulated ESP8266 AT modem: it ties the host
// transport to the command framer, the AT engine and the TCP bridge, and
// owns the goroutine pumping transport bytes through them.
package sim

import (
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/espsim/modem/at"
	"github.com/espsim/modem/bridge"
)

// Modem is a running modem simulator bound to one host transport.
// The closed channel is closed when the transport read side fails, after
// which the Modem cannot be restarted - it must be recreated.
type Modem struct {
	rw     io.ReadWriter
	state  *at.State
	framer *at.Framer
	bridge *bridge.Bridge
	closed chan struct{}
}

type config struct {
	lg        *log.Logger
	bootDelay time.Duration
}

// Option modifies a Modem created by New.
type Option func(*config)

// WithLogger sets the logger shared by the engine and bridge.
func WithLogger(lg *log.Logger) Option {
	return func(c *config) {
		c.lg = lg
	}
}

// WithBootDelay overrides the delay before the post-reset boot banner.
func WithBootDelay(d time.Duration) Option {
	return func(c *config) {
		c.bootDelay = d
	}
}

// New creates a modem on the transport and starts servicing it.
func New(rw io.ReadWriter, opts ...Option) *Modem {
	cfg := config{lg: log.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	state := at.NewState()
	rsp := at.NewResponder(rw, at.WithResponderLogger(cfg.lg))
	br := bridge.New(state, rsp, bridge.WithLogger(cfg.lg))
	engOpts := []at.EngineOption{at.WithLogger(cfg.lg)}
	if cfg.bootDelay > 0 {
		engOpts = append(engOpts, at.WithBootDelay(cfg.bootDelay))
	}
	eng := at.NewEngine(state, rsp, br, engOpts...)
	m := &Modem{
		rw:     rw,
		state:  state,
		framer: at.NewFramer(eng),
		bridge: br,
		closed: make(chan struct{}),
	}
	go m.readLoop()
	return m
}

// Closed returns a channel which will block while the modem is running.
func (m *Modem) Closed() <-chan struct{} {
	return m.closed
}

// Bridge exposes the TCP bridge, mainly for its drop counter.
func (m *Modem) Bridge() *bridge.Bridge {
	return m.bridge
}

// Close stops the TCP side and closes the transport if it is closable,
// which unblocks the read loop.
func (m *Modem) Close() {
	m.bridge.Stop()
	if c, ok := m.rw.(io.Closer); ok {
		c.Close()
	}
}

// readLoop pumps transport bytes through the framer until the transport
// fails. Only transport loss ends the simulator.
func (m *Modem) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := m.rw.Read(buf)
		if n > 0 {
			m.framer.Push(buf[:n])
		}
		if err != nil {
			break
		}
	}
	m.bridge.Stop()
	m.state.CloseAll()
	close(m.closed)
}
