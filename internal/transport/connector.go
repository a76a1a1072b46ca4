package transport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/1ureka/wstap/internal/protocol"
	"github.com/1ureka/wstap/internal/util"
)

// Connector opens one Peer per Dial. It never retries; the reconnect loop
// owns that decision.
type Connector struct {
	URL    string
	MAC    net.HardwareAddr
	Bridge bool
	Strict bool

	// TLS client credentials, both or neither.
	KeyFile  string
	CertFile string
	NoVerify bool

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// Resolver defaults to net.DefaultResolver.
	Resolver *net.Resolver
}

// Dial resolves the server, connects, performs the TLS handshake for wss and
// the HTTP Upgrade exchange. The returned Peer is ready for framing.
func (c *Connector) Dial(ctx context.Context) (*Peer, error) {
	target, err := ParseURL(c.URL)
	if err != nil {
		return nil, Wrap(KindURL, "parse url", err)
	}

	transportName := "tcp"
	if target.Secure {
		transportName = "tls"
	}
	util.LogInfo("connecting to %s port %d (transport: %s)", target.Hostname, target.Port, transportName)

	ip, err := c.resolve(ctx, target.Hostname)
	if err != nil {
		return nil, err
	}

	addr := joinHostPort(ip.String(), target.Port)
	d := net.Dialer{Timeout: c.HandshakeTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, Wrap(KindConnect, "connect "+addr, err)
	}
	util.LogDebug("connected to %s (%s)", target.HostHdr, addr)

	peer := NewPeer(conn, c.MAC)
	peer.SetWriteTimeout(c.WriteTimeout)

	if err := c.handshake(ctx, peer, target); err != nil {
		peer.Destroy()
		return nil, err
	}
	return peer, nil
}

func (c *Connector) resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}

	r := c.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, Wrap(KindResolution, "resolve "+host, err)
	}
	if len(addrs) == 0 {
		return nil, New(KindResolution, "resolve "+host+": no addresses")
	}
	for _, a := range addrs {
		if ip4 := a.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return addrs[0].IP, nil
}

// handshake runs the blocking phase: optional TLS, request, response scan.
// Deadlines are cleared before it returns successfully.
func (c *Connector) handshake(ctx context.Context, peer *Peer, target Target) error {
	conn := peer.conn()
	if c.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.HandshakeTimeout))
	}

	// ctx cancellation must unblock the exchange below
	raw := conn
	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
	defer stop()

	if target.Secure {
		cfg, err := c.tlsConfig(target.Hostname)
		if err != nil {
			return Wrap(KindHandshake, "tls config", err)
		}
		session := tls.Client(conn, cfg)
		if err := session.HandshakeContext(ctx); err != nil {
			return Wrap(KindHandshake, "tls handshake", err)
		}
		peer.attachTLS(session)
		conn = session
	}

	key, err := protocol.NewKey(c.Strict)
	if err != nil {
		return Wrap(KindHandshake, "generate key", err)
	}
	up := protocol.Upgrade{
		Path:   target.Path,
		Host:   target.HostHdr,
		Auth:   target.Auth,
		Key:    key,
		MAC:    c.MAC,
		Bridge: c.Bridge,
		Strict: c.Strict,
	}
	if _, err := conn.Write(up.Bytes()); err != nil {
		return Wrap(KindHandshake, "send upgrade request", err)
	}

	scratch := make([]byte, protocol.MaxResponseHeader)
	filled := 0
	var status, end int
	for {
		if filled == len(scratch) {
			return New(KindHandshake, "response header exceeds 8192 bytes")
		}
		n, err := conn.Read(scratch[filled:])
		filled += n
		if status, end = protocol.ScanResponse(scratch[:filled]); end != 0 {
			break
		}
		if err != nil {
			return Wrap(KindHandshake, "read upgrade response", err)
		}
	}

	util.LogInfo("server responded with status %d", status)
	if status != 101 {
		return New(KindHandshake, fmt.Sprintf("unexpected status %d", status))
	}
	if c.Strict {
		if err := checkAccept(scratch[:end], key); err != nil {
			return Wrap(KindHandshake, "validate upgrade response", err)
		}
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return Wrap(KindHandshake, "clear deadline", err)
	}
	if err := peer.NewMask(); err != nil {
		return Wrap(KindHandshake, "generate mask", err)
	}
	peer.buf.Append(scratch[end:filled])
	return nil
}

func (c *Connector) tlsConfig(serverName string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: c.NoVerify,
	}
	if c.KeyFile != "" || c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// checkAccept validates the Sec-WebSocket-Accept header of a complete
// response header block.
func checkAccept(header []byte, key string) error {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(header)), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if !strings.EqualFold(resp.Header.Get("Upgrade"), "websocket") {
		return fmt.Errorf("missing Upgrade: websocket")
	}
	if got, want := resp.Header.Get("Sec-WebSocket-Accept"), protocol.AcceptKey(key); got != want {
		return fmt.Errorf("accept key mismatch: got %q, want %q", got, want)
	}
	return nil
}
