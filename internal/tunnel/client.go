// Package tunnel runs the reconnecting bridge between the tap device and the
// server.
package tunnel

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/1ureka/wstap/internal/transport"
	"github.com/1ureka/wstap/internal/tuntap"
	"github.com/1ureka/wstap/internal/util"
)

// State is the connection lifecycle state.
type State uint32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// Dialer opens one ready-to-frame Peer per call. transport.Connector is the
// production implementation.
type Dialer interface {
	Dial(ctx context.Context) (*transport.Peer, error)
}

// Options tune the client. Zero values fall back to the defaults below.
type Options struct {
	Keepalive time.Duration // idle time before a ping, default 17s
	MTU       int           // device read size without the Ethernet header, default 1500
	Strict    bool          // send masked pings

	// Sleep waits out the reconnect backoff. nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

const (
	DefaultKeepalive = 17 * time.Second
	DefaultMTU       = 1500
)

// Client owns the device side of the tunnel for the whole process and one
// Peer at a time on the server side.
type Client struct {
	dialer   Dialer
	dev      tuntap.Device
	opts     Options
	throttle *Throttle
	state    atomic.Uint32
}

// NewClient creates a client bridging dev to the peers produced by dialer.
func NewClient(dialer Dialer, dev tuntap.Device, opts Options) *Client {
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}
	if opts.MTU <= 0 {
		opts.MTU = DefaultMTU
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	return &Client{
		dialer:   dialer,
		dev:      dev,
		opts:     opts,
		throttle: NewThrottle(),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(uint32(s))) != s {
		util.LogDebug("state: %s", s)
	}
}

// Run connects, bridges and reconnects until ctx is cancelled or the device
// fails. Network failures are never returned; a device failure is returned
// as a transport.KindDevice error. The device itself is not closed.
func (c *Client) Run(ctx context.Context) error {
	pump := startDevicePump(ctx, c.dev, c.opts.MTU)
	defer c.setState(Disconnected)

	for {
		delay := c.throttle.NextDelay()
		if delay > 0 {
			util.LogInfo("reconnecting in %ds", int(delay/time.Second))
		}
		if err := c.opts.Sleep(ctx, delay); err != nil || ctx.Err() != nil {
			return nil
		}

		c.setState(Connecting)
		peer, err := c.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			util.Stats.AddFailure()
			util.LogWarning("connect failed: %v", err)
			c.setState(Disconnected)
			continue
		}

		c.setState(Connected)
		util.Stats.AddConnect()
		util.LogSuccess("connected [%s]", peer.ID)

		out, err := c.serve(ctx, peer, pump)
		util.Stats.AddDisconnect()
		c.setState(Disconnected)

		switch out {
		case outcomeFatal:
			return err
		case outcomeStop:
			util.LogInfo("[%s] disconnected", peer.ID)
			return nil
		default:
			util.LogWarning("[%s] disconnected: %v", peer.ID, err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
