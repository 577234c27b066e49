//go:build linux || darwin

package sim_test

import (
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"
	"github.com/stretchr/testify/require"

	"github.com/espsim/modem/sim"
)

// TestOverPty exercises the transport read loop against a real tty device
// rather than an in-memory mock. The host drives the pty master; the modem
// sits on the slave like it would on a serial port.
func TestOverPty(t *testing.T) {
	ptmx, tty, err := pty.Open()
	require.Nil(t, err)
	defer ptmx.Close()
	defer tty.Close()

	m := sim.New(tty, sim.WithLogger(log.New(io.Discard)))
	defer m.Close()

	var mu sync.Mutex
	var out strings.Builder
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				mu.Lock()
				out.Write(buf[:n])
				mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()

	_, err = ptmx.Write([]byte("AT\r\n"))
	require.Nil(t, err)

	// the pty line discipline may echo the command and rewrite terminators,
	// so only look for the status token
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return strings.Contains(out.String(), "OK")
	}, 2*time.Second, 10*time.Millisecond)
}
