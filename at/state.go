package at

import (
	"net"
	"sync"
)

const (
	// MaxConnections is the number of multiplexed TCP links the modem exposes.
	// Link ids are always in [0, MaxConnections).
	MaxConnections = 4

	// MaxSendSize is the firmware cap on a single AT+CIPSEND payload.
	// Larger requests are truncated, matching the real modem.
	MaxSendSize = 2048
)

// PendingSend accumulates raw payload bytes for an armed AT+CIPSEND until
// the full package size has been received, at which point the buffer is
// flushed to the TCP peer.
type PendingSend struct {
	LinkID   int
	PkgSize  int
	Received int
	Buffer   []byte
}

// PendingReceive holds inbound TCP data awaiting an AT+CIPRECVDATA poll from
// the host. At most one exists at a time; a partial read leaves the residual
// tail in place.
type PendingReceive struct {
	LinkID int
	Size   int
	Buffer []byte
}

// State is the modem configuration and transient state shared between the
// command engine and the TCP bridge. All access goes through its methods,
// which serialize on an internal mutex.
type State struct {
	mu            sync.Mutex
	wifiConnected bool
	cwMode        int
	cipMode       int
	cipMux        int
	cipServer     int
	port          uint16
	ssid          string
	password      string
	ip            string
	mac           string
	conns         [MaxConnections]net.Conn
	pendingSend   *PendingSend
	pendingRecv   *PendingReceive
}

// NewState returns modem state with power-on defaults.
func NewState() *State {
	return &State{
		cwMode: 1,
		ip:     "127.0.0.1",
		mac:    "11:22:33:44:55:66",
	}
}

// Reset returns the configuration to power-on defaults and drops any armed
// send. Open connections are not touched here; the caller closes them first.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wifiConnected = false
	s.cwMode = 1
	s.cipMode = 0
	s.cipMux = 0
	s.cipServer = 0
	s.port = 0
	s.ssid = ""
	s.password = ""
	s.pendingSend = nil
}

// CWMode returns the current Wi-Fi mode.
func (s *State) CWMode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwMode
}

// SetCWMode sets the Wi-Fi mode.
func (s *State) SetCWMode(mode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cwMode = mode
}

// CIPMux returns the connection multiplexing setting.
func (s *State) CIPMux() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cipMux
}

// SetCIPMux sets the multiplexing mode. The setting is only mutable while no
// server is running and the transfer mode is normal; otherwise it reports
// false and leaves the state unchanged.
func (s *State) SetCIPMux(mux int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cipServer != 0 || s.cipMode != 0 {
		return false
	}
	s.cipMux = mux
	return true
}

// CIPServer returns 1 while the TCP server is enabled.
func (s *State) CIPServer() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cipServer
}

// SetCIPServer records the server enable flag.
func (s *State) SetCIPServer(on int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cipServer = on
}

// Port returns the configured server port.
func (s *State) Port() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// SetPort records the server port.
func (s *State) SetPort(port uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.port = port
}

// WifiConnected reports whether AT+CWJAP has completed.
func (s *State) WifiConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wifiConnected
}

// SetWifi records the joined access point credentials and marks the station
// connected.
func (s *State) SetWifi(ssid, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ssid = ssid
	s.password = password
	s.wifiConnected = true
}

// IP returns the station IP literal.
func (s *State) IP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ip
}

// MAC returns the station MAC literal.
func (s *State) MAC() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mac
}

// InstallConn places the connection in the lowest free link slot and returns
// the assigned link id. It reports false when the table is full.
func (s *State) InstallConn(conn net.Conn) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conns {
		if s.conns[i] == nil {
			s.conns[i] = conn
			return i, true
		}
	}
	return -1, false
}

// Conn returns the connection in the slot, or nil if the slot is empty or the
// id is out of range.
func (s *State) Conn(linkID int) net.Conn {
	if linkID < 0 || linkID >= MaxConnections {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[linkID]
}

// TakeConn empties the slot and returns whatever connection occupied it.
func (s *State) TakeConn(linkID int) net.Conn {
	if linkID < 0 || linkID >= MaxConnections {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conns[linkID]
	s.conns[linkID] = nil
	return conn
}

// ClearConn empties the slot only if it still holds conn. The per-link reader
// uses this on disconnect so it cannot stomp a slot that has already been
// reassigned.
func (s *State) ClearConn(linkID int, conn net.Conn) {
	if linkID < 0 || linkID >= MaxConnections {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[linkID] == conn {
		s.conns[linkID] = nil
	}
}

// CloseAll closes and clears every link slot.
func (s *State) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, conn := range s.conns {
		if conn != nil {
			conn.Close()
			s.conns[i] = nil
		}
	}
}

// Links returns the occupied link ids in ascending order.
func (s *State) Links() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int
	for i, conn := range s.conns {
		if conn != nil {
			ids = append(ids, i)
		}
	}
	return ids
}

// ArmSend prepares the pending send record for an accepted AT+CIPSEND.
// A repeated AT+CIPSEND resets the package size and received count but keeps
// the previously accumulated buffer.
func (s *State) ArmSend(linkID, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingSend != nil {
		s.pendingSend.PkgSize = size
		s.pendingSend.Received = 0
		return
	}
	s.pendingSend = &PendingSend{LinkID: linkID, PkgSize: size}
}

// PushSendData appends payload bytes to the pending send. When the package
// size has been reached the record is detached and returned with done set.
func (s *State) PushSendData(payload []byte) (ps *PendingSend, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingSend == nil {
		return nil, false
	}
	s.pendingSend.Buffer = append(s.pendingSend.Buffer, payload...)
	s.pendingSend.Received += len(payload)
	if s.pendingSend.Received < s.pendingSend.PkgSize {
		return nil, false
	}
	ps = s.pendingSend
	s.pendingSend = nil
	return ps, true
}

// TakeSend detaches and returns any pending send. Taking twice yields nil the
// second time, so clearing is idempotent.
func (s *State) TakeSend() *PendingSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.pendingSend
	s.pendingSend = nil
	return ps
}

// PendingSendBuffered reports the armed state and accumulated byte count.
func (s *State) PendingSendBuffered() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingSend == nil {
		return 0, false
	}
	return len(s.pendingSend.Buffer), true
}

// PushReceive installs the chunk as the passive receive buffer. When a buffer
// is already present the chunk is not queued and false is returned; the
// caller decides how to surface the drop.
func (s *State) PushReceive(linkID int, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingRecv != nil {
		return false
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.pendingRecv = &PendingReceive{LinkID: linkID, Size: len(buf), Buffer: buf}
	return true
}

// ReceiveLen returns the number of buffered passive receive bytes.
func (s *State) ReceiveLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingRecv == nil {
		return 0
	}
	return s.pendingRecv.Size
}

// TakeReceive removes up to max bytes from the passive receive buffer. Any
// residual tail remains buffered for the next poll. It reports false when no
// buffer is present.
func (s *State) TakeReceive(max int) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingRecv == nil {
		return nil, false
	}
	if max < 0 {
		max = 0
	}
	n := max
	if n > len(s.pendingRecv.Buffer) {
		n = len(s.pendingRecv.Buffer)
	}
	payload := s.pendingRecv.Buffer[:n]
	rest := s.pendingRecv.Buffer[n:]
	if len(rest) == 0 {
		s.pendingRecv = nil
	} else {
		s.pendingRecv.Buffer = rest
		s.pendingRecv.Size = len(rest)
	}
	return payload, true
}
