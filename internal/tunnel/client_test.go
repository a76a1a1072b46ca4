package tunnel_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/wstap/internal/protocol"
	"github.com/1ureka/wstap/internal/transport"
	"github.com/1ureka/wstap/internal/tunnel"
)

// TestKeepaliveOnSilentTransport verifies that an idle connection gets
// exactly one empty ping per interval until a write fails, and that the
// failure starts a reconnect.
func TestKeepaliveOnSilentTransport(t *testing.T) {
	const interval = 40 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newSilentConn(3)
	var dials atomic.Int32
	dialer := dialerFunc(func(ctx context.Context) (*transport.Peer, error) {
		if dials.Add(1) == 1 {
			return newTestPeer(t, conn), nil
		}
		cancel()
		return nil, ctx.Err()
	})

	dev := newFakeDevice()
	defer dev.Close()
	c := tunnel.NewClient(dialer, dev, tunnel.Options{Keepalive: interval, Sleep: noSleep})

	if err := waitResult(t, runClient(ctx, c.Run)); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	writes, times := conn.Writes()
	if len(writes) != 3 {
		t.Fatalf("ping count mismatch: got %d, want 3", len(writes))
	}
	for i, w := range writes {
		if !bytes.Equal(w, []byte{0x89, 0x00}) {
			t.Errorf("write %d: got % x, want 89 00", i, w)
		}
		if i > 0 {
			if gap := times[i].Sub(times[i-1]); gap < interval*3/4 {
				t.Errorf("write %d came %v after the previous one, want about %v", i, gap, interval)
			}
		}
	}
	if got := dials.Load(); got != 2 {
		t.Errorf("dial count mismatch: got %d, want 2 (reconnect after failed ping)", got)
	}
	if c.State() != tunnel.Disconnected {
		t.Errorf("state mismatch: got %s, want disconnected", c.State())
	}
}

// TestStrictKeepaliveIsMasked checks the ping variant sent in strict mode.
func TestStrictKeepaliveIsMasked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newSilentConn(1)
	var peer *transport.Peer
	var dials atomic.Int32
	dialer := dialerFunc(func(ctx context.Context) (*transport.Peer, error) {
		if dials.Add(1) == 1 {
			peer = newTestPeer(t, conn)
			return peer, nil
		}
		cancel()
		return nil, ctx.Err()
	})

	dev := newFakeDevice()
	defer dev.Close()
	c := tunnel.NewClient(dialer, dev, tunnel.Options{Keepalive: 20 * time.Millisecond, Strict: true, Sleep: noSleep})
	waitResult(t, runClient(ctx, c.Run))

	writes, _ := conn.Writes()
	if len(writes) != 1 {
		t.Fatalf("ping count mismatch: got %d, want 1", len(writes))
	}
	if want := protocol.MaskedPing(peer.Mask()); !bytes.Equal(writes[0], want) {
		t.Errorf("ping mismatch: got % x, want % x", writes[0], want)
	}
}

// TestBridgeForwardsFrames exchanges frames in both directions over an
// in-memory connection, including a frame split across reads and two frames
// in one read.
func TestBridgeForwardsFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, server := net.Pipe()
	defer server.Close()

	var dials atomic.Int32
	dialer := dialerFunc(func(ctx context.Context) (*transport.Peer, error) {
		if dials.Add(1) == 1 {
			return newTestPeer(t, client), nil
		}
		cancel()
		return nil, ctx.Err()
	})

	dev := newFakeDevice()
	defer dev.Close()
	c := tunnel.NewClient(dialer, dev, tunnel.Options{Sleep: noSleep})
	result := runClient(ctx, c.Run)

	serverMask := [4]byte{1, 2, 3, 4}
	masked, err := protocol.Build([]byte("world"), serverMask)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	go func() {
		server.Write([]byte{0x82, 0x05, 'h', 'e'})
		server.Write([]byte{'l', 'l', 'o'})
		server.Write(append([]byte{0x89, 0x00}, masked...))
	}()

	if got := recvFrame(t, dev.writes); string(got) != "hello" {
		t.Errorf("first frame mismatch: got %q", got)
	}
	if got := recvFrame(t, dev.writes); string(got) != "world" {
		t.Errorf("second frame mismatch: got %q", got)
	}

	dev.reads <- []byte("outbound")

	wire := make([]byte, 2+4+len("outbound"))
	if _, err := io.ReadFull(server, wire); err != nil {
		t.Fatalf("reading outbound frame: %v", err)
	}
	f, err := protocol.Parse(wire)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !f.Masked || f.Action != protocol.Forward || string(f.Payload) != "outbound" {
		t.Errorf("outbound frame mismatch: %+v", f)
	}

	server.Write([]byte{0x88, 0x00})

	if err := waitResult(t, result); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if got := dials.Load(); got != 2 {
		t.Errorf("close frame should trigger a reconnect, dials = %d", got)
	}
}

func TestProtocolErrorReconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, server := net.Pipe()
	defer server.Close()

	var dials atomic.Int32
	dialer := dialerFunc(func(ctx context.Context) (*transport.Peer, error) {
		if dials.Add(1) == 1 {
			return newTestPeer(t, client), nil
		}
		cancel()
		return nil, ctx.Err()
	})

	dev := newFakeDevice()
	defer dev.Close()
	c := tunnel.NewClient(dialer, dev, tunnel.Options{Sleep: noSleep})
	result := runClient(ctx, c.Run)

	go server.Write([]byte{0x82, 0x7F, 0, 0, 0, 0, 0, 0, 0, 1})

	if err := waitResult(t, result); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if got := dials.Load(); got != 2 {
		t.Errorf("dial count mismatch: got %d, want 2", got)
	}
}

func TestDeviceWriteFailureIsFatal(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	dialer := dialerFunc(func(ctx context.Context) (*transport.Peer, error) {
		return newTestPeer(t, client), nil
	})

	dev := newFakeDevice()
	defer dev.Close()
	dev.writeErr = errors.New("device gone")
	c := tunnel.NewClient(dialer, dev, tunnel.Options{Sleep: noSleep})
	result := runClient(context.Background(), c.Run)

	go server.Write([]byte{0x82, 0x01, 0xAA})

	err := waitResult(t, result)
	if !transport.IsFatal(err) {
		t.Fatalf("expected a fatal device error, got %v", err)
	}
}

func TestDeviceReadFailureIsFatal(t *testing.T) {
	dialed := make(chan struct{})
	var once sync.Once
	dialer := dialerFunc(func(ctx context.Context) (*transport.Peer, error) {
		once.Do(func() { close(dialed) })
		return newTestPeer(t, newSilentConn(10)), nil
	})

	dev := newFakeDevice()
	c := tunnel.NewClient(dialer, dev, tunnel.Options{Sleep: noSleep})
	result := runClient(context.Background(), c.Run)

	<-dialed
	dev.Close()

	err := waitResult(t, result)
	if !transport.IsKind(err, transport.KindDevice) {
		t.Fatalf("expected a device error, got %v", err)
	}
}

// TestBackoffSchedule drives the client through consecutive connect failures
// and records the wait before every attempt.
func TestBackoffSchedule(t *testing.T) {
	const attempts = 70

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delays []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	dialer := dialerFunc(func(ctx context.Context) (*transport.Peer, error) {
		if len(delays) == attempts {
			cancel()
		}
		return nil, transport.New(transport.KindConnect, "connection refused")
	})

	dev := newFakeDevice()
	defer dev.Close()
	c := tunnel.NewClient(dialer, dev, tunnel.Options{Sleep: sleep})

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if len(delays) != attempts {
		t.Fatalf("attempt count mismatch: got %d, want %d", len(delays), attempts)
	}
	for i, d := range delays {
		want := time.Duration(i%31) * time.Second
		if d != want {
			t.Fatalf("attempt %d: delay %v, want %v", i+1, d, want)
		}
	}
}

// TestHandshakeLeftoverDelivered uses the real connector against a server
// that sends a data frame in the same write as its 101 response.
func TestHandshakeLeftoverDelivered(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 4096)
		var req []byte
		for !bytes.Contains(req, []byte("\r\n\r\n")) {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			req = append(req, buf[:n]...)
		}
		conn.Write([]byte("HTTP/1.1 101 Switching Protocols\r\n\r\n\x82\x05early"))
		io.Copy(io.Discard, conn)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev := newFakeDevice()
	defer dev.Close()
	connector := &transport.Connector{
		URL:              "ws://" + ln.Addr().String() + "/",
		MAC:              testMAC,
		HandshakeTimeout: 2 * time.Second,
	}
	c := tunnel.NewClient(connector, dev, tunnel.Options{Sleep: noSleep})
	result := runClient(ctx, c.Run)

	if got := recvFrame(t, dev.writes); string(got) != "early" {
		t.Errorf("frame mismatch: got %q, want %q", got, "early")
	}

	cancel()
	if err := waitResult(t, result); err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

// TestStrictModeAgainstRFCServer bridges the fake device to a gorilla
// websocket server, which rejects anything that is not RFC 6455 compliant.
func TestStrictModeAgainstRFCServer(t *testing.T) {
	fromDevice := make(chan []byte, 1)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		if err := ws.WriteMessage(websocket.BinaryMessage, []byte("to device")); err != nil {
			return
		}
		mt, data, err := ws.ReadMessage()
		if err != nil || mt != websocket.BinaryMessage {
			return
		}
		fromDevice <- data
		ws.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev := newFakeDevice()
	defer dev.Close()
	connector := &transport.Connector{
		URL:              "ws" + strings.TrimPrefix(srv.URL, "http") + "/vpn",
		MAC:              testMAC,
		Strict:           true,
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     2 * time.Second,
	}
	c := tunnel.NewClient(connector, dev, tunnel.Options{Strict: true, Sleep: noSleep})
	result := runClient(ctx, c.Run)

	if got := recvFrame(t, dev.writes); string(got) != "to device" {
		t.Errorf("device frame mismatch: got %q", got)
	}
	if c.State() != tunnel.Connected {
		t.Errorf("state mismatch: got %s, want connected", c.State())
	}

	dev.reads <- []byte("from device")
	if got := recvFrame(t, fromDevice); string(got) != "from device" {
		t.Errorf("server frame mismatch: got %q", got)
	}

	cancel()
	if err := waitResult(t, result); err != nil {
		t.Fatalf("Run returned %v", err)
	}
}
