package transport

// Buffer is a growable byte buffer with an explicit fill length. It grows on
// demand and never shrinks while in use.
type Buffer struct {
	buf []byte
	n   int
}

// Len returns the number of occupied bytes.
func (b *Buffer) Len() int { return b.n }

// Cap returns the current capacity.
func (b *Buffer) Cap() int { return len(b.buf) }

// Bytes returns the occupied region. It aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.buf[:b.n] }

// Grow ensures at least n bytes of free capacity after the fill position.
func (b *Buffer) Grow(n int) {
	if len(b.buf)-b.n >= n {
		return
	}
	next := make([]byte, max(b.n+n, 2*len(b.buf)))
	copy(next, b.buf[:b.n])
	b.buf = next
}

// free returns the writable region after the fill position, capped at n.
func (b *Buffer) free(n int) []byte {
	return b.buf[b.n : b.n+n]
}

// advance marks n more bytes as occupied.
func (b *Buffer) advance(n int) { b.n += n }

// Append copies p after the fill position, growing as needed.
func (b *Buffer) Append(p []byte) {
	b.Grow(len(p))
	b.advance(copy(b.free(len(p)), p))
}

// Discard drops the first n occupied bytes and moves the remainder to the
// front.
func (b *Buffer) Discard(n int) {
	if n >= b.n {
		b.n = 0
		return
	}
	copy(b.buf, b.buf[n:b.n])
	b.n -= n
}

// Release drops the backing memory.
func (b *Buffer) Release() {
	b.buf = nil
	b.n = 0
}
