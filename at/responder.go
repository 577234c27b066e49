package at

import (
	"io"
	"sync"

	"github.com/charmbracelet/log"
)

// Responder serializes writes to the host transport. Command responses and
// bridge notifications share one Responder, so a full response is always
// emitted atomically and never interleaved with another.
type Responder struct {
	mu sync.Mutex
	w  io.Writer
	lg *log.Logger
}

// ResponderOption modifies a Responder created by NewResponder.
type ResponderOption func(*Responder)

// WithResponderLogger sets the logger used for transport write failures.
func WithResponderLogger(lg *log.Logger) ResponderOption {
	return func(r *Responder) {
		r.lg = lg
	}
}

// NewResponder creates a Responder writing to the host transport.
func NewResponder(w io.Writer, opts ...ResponderOption) *Responder {
	r := &Responder{w: w, lg: log.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Send writes the text to the host in one uninterruptible unit.
// Transport errors are logged, not returned; the host cannot be told about a
// broken link over the link itself.
func (r *Responder) Send(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := io.WriteString(r.w, text); err != nil {
		r.lg.Error("transport write failed", "err", err)
	}
}
