package tunnel

import (
	"context"
	"time"

	"github.com/1ureka/wstap/internal/protocol"
	"github.com/1ureka/wstap/internal/transport"
	"github.com/1ureka/wstap/internal/util"
)

// outcome is the verdict of one loop iteration.
type outcome uint8

const (
	outcomeContinue  outcome = iota
	outcomeReconnect         // drop the peer, back off, dial again
	outcomeFatal             // the device is unusable
	outcomeStop              // ctx cancelled
)

// serve runs the event loop for one connected peer. It is the only goroutine
// touching peer state besides the peer pump, which hands the buffer over on
// every event. The peer is destroyed before serve returns.
func (c *Client) serve(ctx context.Context, peer *transport.Peer, dev *devicePump) (outcome, error) {
	pctx, cancel := context.WithCancel(ctx)
	events := make(chan peerEvent)
	ack := make(chan struct{})
	done := make(chan struct{})

	defer func() {
		cancel()
		peer.Close()
		<-done
		peer.Destroy()
	}()

	// bytes that followed the 101 in the handshake read
	if len(peer.Buffered()) > 0 {
		if out, err := c.drainFrames(peer); out != outcomeContinue {
			close(done)
			return out, err
		}
	}

	go peerPump(pctx, peer, events, ack, done)

	idle := time.NewTimer(c.opts.Keepalive)
	defer idle.Stop()

	for {
		var (
			out outcome
			err error
		)

		select {
		case <-ctx.Done():
			return outcomeStop, ctx.Err()

		case <-idle.C:
			out, err = c.keepalive(peer)

		case ev := <-events:
			out, err = c.onPeerReadable(peer, ev)
			if out == outcomeContinue {
				ack <- struct{}{}
			}

		case ev := <-dev.events:
			out, err = c.onDeviceReadable(peer, ev)
			dev.release(ev.buf)
		}

		if out != outcomeContinue {
			return out, err
		}
		idle.Reset(c.opts.Keepalive)
	}
}

// keepalive sends an empty ping after an idle period.
func (c *Client) keepalive(peer *transport.Peer) (outcome, error) {
	ping := protocol.PingFrame
	if c.opts.Strict {
		ping = protocol.MaskedPing(peer.Mask())
	}
	if err := peer.Write(ping); err != nil {
		return outcomeReconnect, err
	}
	util.Stats.AddPing()
	util.LogDebug("[%s] ping", peer.ID)
	return outcomeContinue, nil
}

func (c *Client) onPeerReadable(peer *transport.Peer, ev peerEvent) (outcome, error) {
	switch ev.status {
	case transport.ReadClosed:
		if ev.err == nil {
			ev.err = transport.New(transport.KindTransport, "connection closed")
		}
		return outcomeReconnect, ev.err
	case transport.ReadNoData:
		return outcomeContinue, nil
	}
	return c.drainFrames(peer)
}

// drainFrames delivers every complete frame in the peer buffer, compacting
// after each one, and stops at the first incomplete frame.
func (c *Client) drainFrames(peer *transport.Peer) (outcome, error) {
	for {
		f, err := protocol.Parse(peer.Buffered())
		if err != nil {
			return outcomeReconnect, transport.Wrap(transport.KindProtocol, "invalid frame", err)
		}

		switch f.Action {
		case protocol.Incomplete:
			return outcomeContinue, nil

		case protocol.Forward:
			peer.SetInboundMasked(f.Masked)
			if len(f.Payload) > 0 {
				if _, err := c.dev.Write(f.Payload); err != nil {
					return outcomeFatal, transport.Wrap(transport.KindDevice, "write to device", err)
				}
				util.Stats.AddRecv(len(f.Payload))
			}

		case protocol.Skip:
			util.LogDebug("[%s] skipped control frame 0x%x", peer.ID, f.Opcode)

		case protocol.Close:
			peer.Compact(f.Total)
			return outcomeReconnect, transport.New(transport.KindTransport, "server sent close")
		}

		peer.Compact(f.Total)
	}
}

func (c *Client) onDeviceReadable(peer *transport.Peer, ev deviceEvent) (outcome, error) {
	if ev.err != nil {
		return outcomeFatal, transport.Wrap(transport.KindDevice, "read from device", ev.err)
	}

	frame, err := protocol.BuildInPlace(ev.buf, ev.n, peer.Mask())
	if err != nil {
		util.LogWarning("[%s] dropped %d byte device frame: %v", peer.ID, ev.n, err)
		return outcomeContinue, nil
	}
	if err := peer.Write(frame); err != nil {
		return outcomeReconnect, err
	}
	util.Stats.AddSent(ev.n)
	return outcomeContinue, nil
}
