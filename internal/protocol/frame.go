// Package protocol defines the WebSocket frame format and the HTTP Upgrade
// exchange spoken with a vpn-ws server.
package protocol

// Opcode constants (RFC 6455 Section 5.2).
const (
	OpContinuation uint8 = 0x0
	OpText         uint8 = 0x1
	OpBinary       uint8 = 0x2 // link-layer frame payload
	OpClose        uint8 = 0x8
	OpPing         uint8 = 0x9 // keepalive, empty payload
	OpPong         uint8 = 0xA
)

// Header bits.
const (
	finBit  = 0x80
	rsvBits = 0x70
	maskBit = 0x80
	lenMask = 0x7F

	len16Marker = 126
	len64Marker = 127
)

// HeaderRoom is the space reserved ahead of an outbound payload: 2 header
// bytes, 2 extended length bytes and the 4-byte mask.
const HeaderRoom = 8

// MaxPayload is the largest payload Build accepts (16-bit extended length).
const MaxPayload = 0xFFFF

// PingFrame is the keepalive sent after an idle period: FIN+ping, no mask,
// zero length.
var PingFrame = []byte{finBit | OpPing, 0x00}

// Action tells the caller what to do with a parsed frame.
type Action uint8

const (
	// Incomplete means more bytes are needed; nothing was consumed.
	Incomplete Action = iota
	// Forward means Payload carries a data frame to deliver.
	Forward
	// Skip means the frame is an ignorable control frame; advance past it.
	Skip
	// Close means the server sent a close frame.
	Close
)

func (a Action) String() string {
	switch a {
	case Incomplete:
		return "incomplete"
	case Forward:
		return "forward"
	case Skip:
		return "skip"
	case Close:
		return "close"
	}
	return "unknown"
}

// Frame is the result of parsing one frame at the front of a buffer.
type Frame struct {
	Action Action
	Opcode uint8
	Masked bool

	// HeaderLen is the offset of the payload (header + optional mask).
	HeaderLen int
	// Total is the number of buffer bytes the frame occupies. It is 0 when
	// Action is Incomplete.
	Total int
	// Payload aliases the parsed buffer and is already unmasked. It is only
	// valid until the buffer is compacted.
	Payload []byte
}

func isControl(op uint8) bool { return op&0x08 != 0 }
