package at

import (
	"bytes"
	"strings"
)

type framerMode int

const (
	modeCommand framerMode = iota
	modeRaw
)

// executor is the slice of the engine the framer drives.
type executor interface {
	Execute(line string) *RawRequest
	HandleSendPayload(linkID int, payload []byte)
}

// Framer converts the inbound byte stream into either whole command lines or
// fixed-size raw payload blocks, and coordinates the transition between the
// two framings. It produces no output of its own; all responses come from
// the engine.
type Framer struct {
	eng      executor
	mode     framerMode
	cmd      []byte
	raw      []byte
	expected int
	linkID   int
}

// NewFramer creates a framer feeding the engine.
func NewFramer(eng *Engine) *Framer {
	return &Framer{eng: eng}
}

// Push feeds inbound transport bytes through the framer. Complete command
// lines are dispatched in order; in raw mode bytes accumulate until the
// expected payload size is reached.
func (f *Framer) Push(data []byte) {
	for len(data) > 0 {
		switch f.mode {
		case modeCommand:
			data = f.pushCommand(data)
		case modeRaw:
			data = f.pushRaw(data)
		}
	}
}

// pushCommand consumes line-framed bytes. If a dispatched command arms raw
// mode, any bytes already buffered past that line are handed back for raw
// consumption.
func (f *Framer) pushCommand(data []byte) []byte {
	f.cmd = append(f.cmd, data...)
	for {
		idx := bytes.IndexByte(f.cmd, '\n')
		if idx < 0 {
			return nil
		}
		line := strings.TrimSpace(string(f.cmd[:idx]))
		f.cmd = f.cmd[idx+1:]
		if line == "" {
			continue
		}
		req := f.eng.Execute(line)
		if req == nil {
			continue
		}
		f.mode = modeRaw
		f.linkID = req.LinkID
		f.expected = req.Size
		f.raw = nil
		leftover := f.cmd
		f.cmd = nil
		return leftover
	}
}

// pushRaw accumulates payload bytes. Once the expected count is reached the
// payload goes to the engine verbatim and any surplus is re-fed through
// command framing.
func (f *Framer) pushRaw(data []byte) []byte {
	f.raw = append(f.raw, data...)
	if len(f.raw) < f.expected {
		return nil
	}
	payload := f.raw[:f.expected]
	leftover := append([]byte(nil), f.raw[f.expected:]...)
	f.raw = nil
	f.mode = modeCommand
	f.eng.HandleSendPayload(f.linkID, payload)
	return filterReentry(leftover)
}

// filterReentry strips non-printable bytes from data trailing a raw payload
// before it re-enters command framing. Firmware on the host side sometimes
// emits binary trailers which would otherwise parse as garbage commands.
func filterReentry(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for _, b := range p {
		if (b >= 32 && b <= 126) || b == '\r' || b == '\n' {
			out = append(out, b)
		}
	}
	return out
}
