package tunnel_test

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/wstap/internal/transport"
	"github.com/1ureka/wstap/internal/tuntap"
	"github.com/1ureka/wstap/internal/util"
)

func TestMain(m *testing.M) {
	util.EnableDebug()
	util.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

var testMAC = net.HardwareAddr{0x02, 0x00, 0x5e, 0x00, 0x00, 0x01}

// Compile-time interface check.
var _ tuntap.Device = (*fakeDevice)(nil)

// fakeDevice stands in for a tap interface. Frames pushed on reads are
// returned by Read; frames written by the client show up on writes.
type fakeDevice struct {
	reads    chan []byte
	writes   chan []byte
	writeErr error

	once   sync.Once
	closed chan struct{}
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		reads:  make(chan []byte),
		writes: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	select {
	case b := <-d.reads:
		return copy(p, b), nil
	case <-d.closed:
		return 0, io.EOF
	}
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	d.writes <- append([]byte(nil), p...)
	return len(p), nil
}

func (d *fakeDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func (d *fakeDevice) Name() string                   { return "tap-test" }
func (d *fakeDevice) HardwareAddr() net.HardwareAddr { return testMAC }

// silentConn accepts writes but never produces data. Writes after the first
// okWrites fail.
type silentConn struct {
	okWrites int

	mu     sync.Mutex
	writes [][]byte
	times  []time.Time

	once   sync.Once
	closed chan struct{}
}

func newSilentConn(okWrites int) *silentConn {
	return &silentConn{okWrites: okWrites, closed: make(chan struct{})}
}

func (c *silentConn) Read([]byte) (int, error) {
	<-c.closed
	return 0, net.ErrClosed
}

func (c *silentConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) >= c.okWrites {
		return 0, errors.New("broken pipe")
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	c.times = append(c.times, time.Now())
	return len(p), nil
}

func (c *silentConn) Writes() ([][]byte, []time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes, c.times
}

func (c *silentConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *silentConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (c *silentConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (c *silentConn) SetDeadline(time.Time) error      { return nil }
func (c *silentConn) SetReadDeadline(time.Time) error  { return nil }
func (c *silentConn) SetWriteDeadline(time.Time) error { return nil }

// dialerFunc adapts a function to tunnel.Dialer.
type dialerFunc func(ctx context.Context) (*transport.Peer, error)

func (f dialerFunc) Dial(ctx context.Context) (*transport.Peer, error) { return f(ctx) }

// newTestPeer wraps conn the way a successful handshake would.
func newTestPeer(t *testing.T, conn net.Conn) *transport.Peer {
	t.Helper()
	p := transport.NewPeer(conn, testMAC)
	if err := p.NewMask(); err != nil {
		t.Fatalf("NewMask failed: %v", err)
	}
	return p
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

// runClient runs c in the background and returns a channel with its result.
func runClient(ctx context.Context, run func(context.Context) error) <-chan error {
	result := make(chan error, 1)
	go func() { result <- run(ctx) }()
	return result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("client did not return")
		return nil
	}
}

func recvFrame(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}
