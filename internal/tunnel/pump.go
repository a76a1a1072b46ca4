package tunnel

import (
	"context"

	"github.com/1ureka/wstap/internal/protocol"
	"github.com/1ureka/wstap/internal/transport"
	"github.com/1ureka/wstap/internal/tuntap"
)

const (
	readChunk = 8192 // bytes requested from the transport per readable event
	ethHeader = 14   // TAP frames carry the Ethernet header on top of the MTU
	poolSize  = 4    // device scratch buffers in flight
)

// ---------------------------------------------------------------------------
// Device pump
// ---------------------------------------------------------------------------

// deviceEvent carries one device read. buf is a pooled scratch buffer whose
// payload starts at protocol.HeaderRoom; the loop owns it until release.
type deviceEvent struct {
	buf []byte
	n   int
	err error
}

// devicePump reads the device for the lifetime of the process. It stops
// after the first read error, which the loop treats as fatal.
type devicePump struct {
	events chan deviceEvent
	free   chan []byte
}

func startDevicePump(ctx context.Context, dev tuntap.Device, mtu int) *devicePump {
	p := &devicePump{
		events: make(chan deviceEvent),
		free:   make(chan []byte, poolSize),
	}
	for range poolSize {
		p.free <- make([]byte, protocol.HeaderRoom+mtu+ethHeader)
	}

	go p.run(ctx, dev)
	return p
}

func (p *devicePump) run(ctx context.Context, dev tuntap.Device) {
	for {
		var buf []byte
		select {
		case buf = <-p.free:
		case <-ctx.Done():
			return
		}

		n, err := dev.Read(buf[protocol.HeaderRoom:])
		if n == 0 && err == nil {
			p.release(buf)
			continue
		}

		select {
		case p.events <- deviceEvent{buf: buf, n: n, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// release hands a scratch buffer back to the pump.
func (p *devicePump) release(buf []byte) {
	p.free <- buf
}

// ---------------------------------------------------------------------------
// Peer pump
// ---------------------------------------------------------------------------

// peerEvent reports one Peer.Read. The peer buffer belongs to the loop from
// the moment the event is received until it sends on ack.
type peerEvent struct {
	status transport.ReadStatus
	err    error
}

// peerPump turns the blocking Peer.Read into events. It exits once ctx is
// cancelled or the peer reports closed, then closes done.
func peerPump(ctx context.Context, p *transport.Peer, events chan<- peerEvent, ack <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		status, err := p.Read(readChunk)
		if status == transport.ReadNoData {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}

		select {
		case events <- peerEvent{status: status, err: err}:
		case <-ctx.Done():
			return
		}
		if status == transport.ReadClosed {
			return
		}

		select {
		case <-ack:
		case <-ctx.Done():
			return
		}
	}
}
