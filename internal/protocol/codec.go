package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gobwas/ws"
)

// Parse errors. Any of them is fatal to the connection that produced it.
var (
	ErrReservedBits     = errors.New("reserved header bits set")
	ErrFragmented       = errors.New("fragmented frames are not supported")
	ErrLength64         = errors.New("64-bit frame lengths are not supported")
	ErrNonMinimalLength = errors.New("extended length below 126")
	ErrControlTooLarge  = errors.New("control frame payload exceeds 125 bytes")
	ErrPayloadTooLarge  = errors.New("payload exceeds 65535 bytes")
)

// Parse examines the frame at the front of buf. When the whole frame is not
// yet buffered it returns a Frame with Action Incomplete and a nil error.
// A masked payload is unmasked in place, so the same bytes must not be parsed
// twice.
func Parse(buf []byte) (Frame, error) {
	if len(buf) < 2 {
		return Frame{}, nil
	}

	b0, b1 := buf[0], buf[1]
	op := b0 & 0x0F
	if b0&rsvBits != 0 {
		return Frame{}, ErrReservedBits
	}
	if b0&finBit == 0 || op == OpContinuation {
		return Frame{}, ErrFragmented
	}

	masked := b1&maskBit != 0
	size := int(b1 & lenMask)
	need := 2

	switch size {
	case len64Marker:
		return Frame{}, ErrLength64
	case len16Marker:
		need += 2
		if len(buf) < need {
			return Frame{}, nil
		}
		size = int(binary.BigEndian.Uint16(buf[2:4]))
		if size < len16Marker {
			return Frame{}, ErrNonMinimalLength
		}
	}
	if isControl(op) && size > 125 {
		return Frame{}, ErrControlTooLarge
	}

	if masked {
		need += 4
	}
	if len(buf) < need+size {
		return Frame{}, nil
	}

	f := Frame{
		Opcode:    op,
		Masked:    masked,
		HeaderLen: need,
		Total:     need + size,
		Payload:   buf[need : need+size],
	}

	switch op {
	case OpBinary, OpText:
		f.Action = Forward
	case OpPing, OpPong:
		f.Action = Skip
	case OpClose:
		f.Action = Close
	default:
		return Frame{}, fmt.Errorf("reserved opcode 0x%x", op)
	}

	if masked {
		var key [4]byte
		copy(key[:], buf[need-4:need])
		ws.Cipher(f.Payload, key, 0)
	}

	return f, nil
}

// Build allocates and returns a masked binary frame carrying payload.
func Build(payload []byte, mask [4]byte) ([]byte, error) {
	buf := make([]byte, HeaderRoom+len(payload))
	copy(buf[HeaderRoom:], payload)
	return BuildInPlace(buf, len(payload), mask)
}

// BuildInPlace frames the n payload bytes stored at scratch[HeaderRoom:] and
// returns the sub-slice of scratch holding the complete frame. The payload is
// masked in place.
func BuildInPlace(scratch []byte, n int, mask [4]byte) ([]byte, error) {
	if n > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	if len(scratch) < HeaderRoom+n {
		return nil, fmt.Errorf("scratch too small: %d bytes for %d byte payload", len(scratch), n)
	}

	ws.Cipher(scratch[HeaderRoom:HeaderRoom+n], mask, 0)
	copy(scratch[4:HeaderRoom], mask[:])

	if n < len16Marker {
		scratch[2] = finBit | OpBinary
		scratch[3] = maskBit | byte(n)
		return scratch[2 : HeaderRoom+n], nil
	}

	scratch[0] = finBit | OpBinary
	scratch[1] = maskBit | len16Marker
	binary.BigEndian.PutUint16(scratch[2:4], uint16(n))
	return scratch[:HeaderRoom+n], nil
}

// MaskedPing returns an empty ping frame carrying mask, for servers that
// enforce client-side masking.
func MaskedPing(mask [4]byte) []byte {
	return []byte{finBit | OpPing, maskBit, mask[0], mask[1], mask[2], mask[3]}
}
