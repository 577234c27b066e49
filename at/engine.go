package at

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/espsim/modem/info"
)

// Server is the TCP side of the modem: the engine asks it to open or close
// the listening socket backing AT+CIPSERVER. Start blocks until the bind
// outcome is known so the command response can reflect it.
type Server interface {
	Start(port uint16) error
	Stop()
}

// RawRequest asks the framer to leave command mode and siphon Size raw
// payload bytes for the link before resuming line framing.
type RawRequest struct {
	LinkID int
	Size   int
}

// defaultBootDelay approximates the gap between AT+RST completing and the
// boot banner appearing on a real module.
const defaultBootDelay = 500 * time.Millisecond

// Engine is the AT command dispatcher. It parses one trimmed command line at
// a time, mutates the shared modem state, and emits the firmware's response
// text through the Responder. Dispatch is strictly serialized by the caller;
// the engine itself never reorders responses.
type Engine struct {
	state     *State
	rsp       *Responder
	srv       Server
	lg        *log.Logger
	bootDelay time.Duration
}

// EngineOption modifies an Engine created by NewEngine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(lg *log.Logger) EngineOption {
	return func(e *Engine) {
		e.lg = lg
	}
}

// WithBootDelay overrides the delay before the post-reset boot banner.
func WithBootDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.bootDelay = d
	}
}

// NewEngine creates the command engine over the shared state, host responder
// and TCP server.
func NewEngine(state *State, rsp *Responder, srv Server, opts ...EngineOption) *Engine {
	e := &Engine{
		state:     state,
		rsp:       rsp,
		srv:       srv,
		lg:        log.Default(),
		bootDelay: defaultBootDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// The firmware accepts ASCII quotes as well as the Unicode smart quotes that
// some host tooling substitutes.
var cwjapRe = regexp.MustCompile(`^AT\+CWJAP=["“”]([^"“”]+)["“”],["“”]([^"“”]+)["“”]$`)

// Execute dispatches one trimmed command line, emitting any response via the
// Responder. A non-nil return arms raw mode on the framer.
func (e *Engine) Execute(line string) *RawRequest {
	rsp, raw := e.dispatch(line)
	if rsp != "" {
		e.rsp.Send(rsp)
	}
	return raw
}

func (e *Engine) dispatch(cmd string) (string, *RawRequest) {
	switch {
	case cmd == "AT":
		return rspOK, nil
	case cmd == "AT+RST":
		return e.reset(), nil
	case cmd == "AT+GMR":
		return rspGMR, nil
	case strings.HasPrefix(cmd, "AT+CWMODE="):
		return e.cwModeSet(cmd), nil
	case cmd == "AT+CWMODE?":
		return "\r\n" + info.Line("+CWMODE", e.state.CWMode()) + "\r\n\r\nOK\r\n", nil
	case strings.HasPrefix(cmd, "AT+CWDHCP="):
		return rspOK, nil
	case cmd == "AT+CWLAP":
		if e.state.CWMode() == 2 {
			e.lg.Warn("CWLAP rejected in AP-only mode")
			return "", nil
		}
		return rspCWLAP, nil
	case cmd == "AT+CIPSTA?":
		if e.state.CWMode() == 2 {
			e.lg.Warn("CIPSTA query rejected in AP-only mode")
			return "", nil
		}
		return rspCIPSTA, nil
	case strings.HasPrefix(cmd, "AT+CWJAP="):
		return e.cwjap(cmd), nil
	case cmd == "AT+CIFSR":
		if !e.state.WifiConnected() {
			e.lg.Warn("CIFSR before WIFI CONNECTED")
			return "", nil
		}
		return fmt.Sprintf("\r\n+CIFSR:STAIP,%q\r\n+CIFSR:STAMAC,%q\r\n\r\nOK\r\n",
			e.state.IP(), e.state.MAC()), nil
	case strings.HasPrefix(cmd, "AT+CIPMUX="):
		return e.cipMuxSet(cmd), nil
	case cmd == "AT+CIPMUX?":
		return "\r\n" + info.Line("+CIPMUX", e.state.CIPMux()) + "\r\n\r\nOK\r\n", nil
	case strings.HasPrefix(cmd, "AT+CIPSERVER="):
		return e.cipServer(cmd), nil
	case cmd == "AT+CIPSTATUS":
		return e.cipStatus(), nil
	case cmd == "ATE0", cmd == "ATE1":
		return "OK\r\n", nil
	case strings.HasPrefix(cmd, "AT+CIPRECVMODE=1"):
		return "OK\r\n", nil
	case strings.HasPrefix(cmd, "AT+CIPRECVLEN?"):
		return "\r\n" + info.Line("+CIPRECVLEN", fmt.Sprintf("%d,0,0,0,0", e.state.ReceiveLen())) + "\r\n\r\nOK\r\n", nil
	case strings.HasPrefix(cmd, "AT+CIPRECVDATA="):
		return e.cipRecvData(cmd), nil
	case strings.HasPrefix(cmd, "AT+CIPSERVERMAXCONN="):
		return "OK\r\n", nil
	case strings.HasPrefix(cmd, "AT+CIPSTO="):
		return "OK\r\n", nil
	case strings.HasPrefix(cmd, "AT+CIPSEND="):
		return e.cipSend(cmd)
	case strings.HasPrefix(cmd, "AT+CIPCLOSE="):
		return e.cipClose(cmd), nil
	default:
		return rspError, nil
	}
}

// params splits the value part of an AT+CMD=v1,v2,... line into trimmed
// fields. Whitespace around individual fields is tolerated.
func params(cmd string) []string {
	_, v, ok := strings.Cut(cmd, "=")
	if !ok {
		return nil
	}
	fields := strings.Split(v, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

func (e *Engine) cwModeSet(cmd string) string {
	ps := params(cmd)
	if len(ps) != 1 {
		e.lg.Warn("malformed CWMODE ignored", "cmd", cmd)
		return ""
	}
	mode, err := strconv.Atoi(ps[0])
	if err != nil || mode < 0 || mode > 3 {
		e.lg.Warn("malformed CWMODE ignored", "cmd", cmd)
		return ""
	}
	e.state.SetCWMode(mode)
	return rspOK
}

func (e *Engine) cwjap(cmd string) string {
	if e.state.CWMode() == 2 {
		e.lg.Warn("CWJAP rejected in AP-only mode")
		return ""
	}
	m := cwjapRe.FindStringSubmatch(cmd)
	if m == nil {
		e.lg.Warn("malformed CWJAP ignored", "cmd", cmd)
		return ""
	}
	e.state.SetWifi(m[1], m[2])
	return rspWifiConnected
}

func (e *Engine) cipMuxSet(cmd string) string {
	ps := params(cmd)
	if len(ps) != 1 {
		e.lg.Warn("malformed CIPMUX ignored", "cmd", cmd)
		return ""
	}
	mux, err := strconv.Atoi(ps[0])
	if err != nil || mux < 0 || mux > 1 {
		e.lg.Warn("malformed CIPMUX ignored", "cmd", cmd)
		return ""
	}
	if !e.state.SetCIPMux(mux) {
		e.lg.Warn("CIPMUX locked while server is running")
		return ""
	}
	return rspOK
}

func (e *Engine) cipServer(cmd string) string {
	ps := params(cmd)
	if len(ps) < 2 {
		e.lg.Warn("malformed CIPSERVER ignored", "cmd", cmd)
		return ""
	}
	enable, err := strconv.Atoi(ps[0])
	if err != nil {
		e.lg.Warn("malformed CIPSERVER ignored", "cmd", cmd)
		return ""
	}
	port, err := strconv.Atoi(ps[1])
	if err != nil || port < 0 || port > 0xffff {
		e.lg.Warn("malformed CIPSERVER ignored", "cmd", cmd)
		return ""
	}
	if enable != 1 {
		e.srv.Stop()
		e.state.SetCIPServer(0)
		return "OK\r\n"
	}
	e.state.SetPort(uint16(port))
	if err := e.srv.Start(uint16(port)); err != nil {
		e.lg.Error("TCP server start failed", "port", port, "err", err)
		e.state.SetCIPServer(0)
		return "ERROR\r\n"
	}
	e.state.SetCIPServer(1)
	return "OK\r\n"
}

func (e *Engine) cipStatus() string {
	links := e.state.Links()
	if len(links) == 0 {
		return "\r\nSTATUS:2\r\n\r\nOK\r\n"
	}
	var b strings.Builder
	b.WriteString("\r\nSTATUS:3\r\n")
	for _, id := range links {
		fmt.Fprintf(&b, "+CIPSTATUS:%d,\"TCP\",\"192.168.0.31\",53116,2000,1\r\n", id)
	}
	b.WriteString("\r\nOK\r\n")
	return b.String()
}

func (e *Engine) cipRecvData(cmd string) string {
	ps := params(cmd)
	if len(ps) < 2 {
		e.lg.Warn("malformed CIPRECVDATA ignored", "cmd", cmd)
		return ""
	}
	// The requested link id is parsed but not cross-checked against the
	// buffered data, matching the firmware's permissiveness.
	if _, err := strconv.Atoi(ps[0]); err != nil {
		e.lg.Warn("malformed CIPRECVDATA ignored", "cmd", cmd)
		return ""
	}
	max, err := strconv.Atoi(ps[1])
	if err != nil {
		e.lg.Warn("malformed CIPRECVDATA ignored", "cmd", cmd)
		return ""
	}
	payload, ok := e.state.TakeReceive(max)
	if !ok {
		return rspRecvDataEmpty
	}
	return fmt.Sprintf("\r\n\r\n+CIPRECVDATA,%d:%s\r\n\r\nOK\r\n", len(payload), payload)
}

func (e *Engine) cipSend(cmd string) (string, *RawRequest) {
	ps := params(cmd)
	var linkID, size int
	var err error
	if e.state.CIPMux() == 1 {
		if len(ps) < 2 {
			e.lg.Warn("malformed CIPSEND ignored", "cmd", cmd)
			return "", nil
		}
		if linkID, err = strconv.Atoi(ps[0]); err != nil {
			e.lg.Warn("malformed CIPSEND ignored", "cmd", cmd)
			return "", nil
		}
		size, err = strconv.Atoi(ps[1])
	} else {
		if len(ps) < 1 {
			e.lg.Warn("malformed CIPSEND ignored", "cmd", cmd)
			return "", nil
		}
		size, err = strconv.Atoi(ps[0])
	}
	if err != nil || size < 0 {
		e.lg.Warn("malformed CIPSEND ignored", "cmd", cmd)
		return "", nil
	}
	if size > MaxSendSize {
		e.lg.Warn("send data truncated", "requested", size, "max", MaxSendSize)
		size = MaxSendSize
	}
	if e.state.Conn(linkID) == nil {
		e.lg.Warn("CIPSEND to closed link", "link", linkID)
		return "", nil
	}
	e.state.ArmSend(linkID, size)
	return rspSendPrompt, &RawRequest{LinkID: linkID, Size: size}
}

// HandleSendPayload accepts raw payload bytes collected by the framer after
// AT+CIPSEND. On completion the accumulated buffer is flushed to the TCP
// peer and the firmware's send acknowledgement is emitted. SEND OK is
// produced on count completion even if the socket write fails.
func (e *Engine) HandleSendPayload(linkID int, payload []byte) {
	ps, done := e.state.PushSendData(payload)
	if !done {
		return
	}
	if conn := e.state.Conn(linkID); conn != nil {
		if _, err := conn.Write(ps.Buffer); err != nil {
			e.lg.Error("send to TCP peer failed", "link", linkID, "err", err)
		}
	}
	e.rsp.Send(fmt.Sprintf("\r\nRecv %d bytes\r\n\r\nSEND OK\r\n", ps.PkgSize))
}

func (e *Engine) cipClose(cmd string) string {
	ps := params(cmd)
	if len(ps) != 1 {
		e.lg.Warn("malformed CIPCLOSE ignored", "cmd", cmd)
		return ""
	}
	linkID, err := strconv.Atoi(ps[0])
	if err != nil {
		e.lg.Warn("malformed CIPCLOSE ignored", "cmd", cmd)
		return ""
	}
	if e.state.Conn(linkID) == nil {
		e.lg.Warn("CIPCLOSE on closed link", "link", linkID)
		return ""
	}
	if pending := e.state.TakeSend(); pending != nil {
		if conn := e.state.Conn(linkID); conn != nil {
			if _, err := conn.Write(pending.Buffer); err != nil {
				e.lg.Error("flush to TCP peer failed", "link", linkID, "err", err)
			}
		}
	}
	if conn := e.state.TakeConn(linkID); conn != nil {
		conn.Close()
	}
	return fmt.Sprintf("\r\n%d,CLOSED\r\n\r\nOK\r\n", linkID)
}

func (e *Engine) reset() string {
	e.srv.Stop()
	e.state.CloseAll()
	e.state.Reset()
	time.AfterFunc(e.bootDelay, func() {
		e.rsp.Send(bootBanner)
	})
	return rspOK
}
