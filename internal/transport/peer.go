package transport

import (
	"crypto/rand"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
)

// ReadStatus is the outcome of Peer.Read.
type ReadStatus uint8

const (
	// ReadProgressed means the fill position advanced, possibly by fewer
	// bytes than requested.
	ReadProgressed ReadStatus = iota + 1
	// ReadNoData means the transport had nothing yet. Not an error.
	ReadNoData
	// ReadClosed means the connection is unusable.
	ReadClosed
)

// Peer is the live state of one connection to the server: the inbound
// buffer, the transport and the outbound mask.
//
// Peer is not safe for concurrent use, with one exception: Write may run
// while another goroutine is blocked in Read, since the two only share the
// underlying connection.
type Peer struct {
	ID  string
	MAC net.HardwareAddr

	// Exactly one of raw and session is set.
	raw     net.Conn
	session *tls.Conn

	mask      [4]byte
	inMasked  bool
	buf       Buffer
	destroyed bool

	writeTimeout time.Duration
}

// NewPeer wraps an established connection.
func NewPeer(conn net.Conn, mac net.HardwareAddr) *Peer {
	return &Peer{
		ID:  uuid.NewString(),
		MAC: mac,
		raw: conn,
	}
}

// attachTLS makes session the transport. The session owns the raw conn from
// now on and closes it.
func (p *Peer) attachTLS(session *tls.Conn) {
	p.session = session
	p.raw = nil
}

func (p *Peer) conn() net.Conn {
	if p.session != nil {
		return p.session
	}
	return p.raw
}

// Secure reports whether the transport is TLS.
func (p *Peer) Secure() bool { return p.session != nil }

// SetWriteTimeout bounds each Write. Zero disables the bound.
func (p *Peer) SetWriteTimeout(d time.Duration) { p.writeTimeout = d }

// NewMask draws the outbound mask used by every frame of this connection.
func (p *Peer) NewMask() error {
	_, err := rand.Read(p.mask[:])
	return err
}

// Mask returns the outbound mask.
func (p *Peer) Mask() [4]byte { return p.mask }

// SetInboundMasked records whether the server masked its last frame.
func (p *Peer) SetInboundMasked(masked bool) { p.inMasked = masked }

// InboundMasked reports whether the server masked its last frame.
func (p *Peer) InboundMasked() bool { return p.inMasked }

// Read appends up to n bytes from the transport to the buffer.
func (p *Peer) Read(n int) (ReadStatus, error) {
	c := p.conn()
	if c == nil || p.destroyed {
		return ReadClosed, New(KindTransport, "read on destroyed peer")
	}

	p.buf.Grow(n)
	m, err := c.Read(p.buf.free(n))
	if m > 0 {
		p.buf.advance(m)
		return ReadProgressed, nil
	}

	switch {
	case err == nil && p.session != nil:
		return ReadClosed, Wrap(KindTransport, "tls read", io.ErrUnexpectedEOF)
	case err == nil:
		return ReadNoData, nil
	case isTimeout(err):
		return ReadNoData, nil
	}
	return ReadClosed, Wrap(KindTransport, "read", err)
}

// Write sends all of b or fails.
func (p *Peer) Write(b []byte) error {
	c := p.conn()
	if c == nil || p.destroyed {
		return New(KindTransport, "write on destroyed peer")
	}

	if p.session != nil {
		p.extendWriteDeadline()
		if _, err := p.session.Write(b); err != nil {
			return Wrap(KindTransport, "tls write", err)
		}
		return nil
	}

	for len(b) > 0 {
		p.extendWriteDeadline()
		n, err := c.Write(b)
		b = b[n:]
		if err != nil {
			// a deadline that still let bytes through is a slow peer, not a dead one
			if isTimeout(err) && n > 0 {
				continue
			}
			return Wrap(KindTransport, "write", err)
		}
	}
	return nil
}

func (p *Peer) extendWriteDeadline() {
	if p.writeTimeout > 0 {
		_ = p.conn().SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
}

// Buffered returns the bytes received but not yet consumed.
func (p *Peer) Buffered() []byte { return p.buf.Bytes() }

// BufferCap returns the inbound buffer capacity.
func (p *Peer) BufferCap() int { return p.buf.Cap() }

// Compact drops the first consumed bytes of the buffer.
func (p *Peer) Compact(consumed int) { p.buf.Discard(consumed) }

// Close closes the transport, unblocking a pending Read. The buffer is kept.
func (p *Peer) Close() error {
	c := p.conn()
	if c == nil {
		return nil
	}
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Destroy closes the transport and releases the buffer. Calling it more than
// once is harmless.
func (p *Peer) Destroy() error {
	if p.destroyed {
		return nil
	}
	p.destroyed = true
	err := p.Close()
	p.buf.Release()
	return err
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
