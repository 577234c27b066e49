// Package serial provides the serial port, exposed as an io.ReadWriter, that
// connects the simulated modem to the host device.
package serial

import (
	"path/filepath"
	"sort"

	"github.com/tarm/serial"
)

// Config contains the serial port configuration.
type Config struct {
	port string
	baud int
}

// Option modifies the Config used to open the port.
type Option func(*Config)

// WithPort sets the device path of the serial port.
func WithPort(port string) Option {
	return func(c *Config) {
		c.port = port
	}
}

// WithBaud sets the line speed. The link is always 8-N-1.
func WithBaud(baud int) Option {
	return func(c *Config) {
		c.baud = baud
	}
}

// New opens the serial port. The default port and speed are platform
// specific, and overridden with options.
func New(opts ...Option) (*serial.Port, error) {
	cfg := defaultConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	p, err := serial.OpenPort(&serial.Config{Name: cfg.port, Baud: cfg.baud})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PortList returns the serial devices present on the system, for the
// port listing printed when the simulator is started without one.
func PortList() []string {
	var ports []string
	for _, g := range portGlobs {
		m, err := filepath.Glob(g)
		if err != nil {
			continue
		}
		ports = append(ports, m...)
	}
	sort.Strings(ports)
	return ports
}
