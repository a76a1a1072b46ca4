package protocol

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"net"
)

const (
	lenientKeySize = 10
	strictKeySize  = 16

	acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
)

// Upgrade holds the variable parts of the HTTP Upgrade request.
type Upgrade struct {
	Path   string // request target without the leading slash
	Host   string // Host header value, port included only if explicit
	Auth   string // raw "user:pass" userinfo; empty means no Authorization
	Key    string // Sec-WebSocket-Key
	MAC    net.HardwareAddr
	Bridge bool
	Strict bool // adds Sec-WebSocket-Version for RFC-compliant servers
}

// NewKey returns a base64 encoded random Sec-WebSocket-Key: 10 bytes as
// vpn-ws servers expect, or the RFC's 16 bytes when strict is set.
func NewKey(strict bool) (string, error) {
	n := lenientKeySize
	if strict {
		n = strictKeySize
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// AcceptKey computes the Sec-WebSocket-Accept value a server derives from key.
func AcceptKey(key string) string {
	h := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(h[:])
}

// Bytes renders the request, CRLF terminated.
func (u *Upgrade) Bytes() []byte {
	var b bytes.Buffer
	b.WriteString("GET /" + u.Path + " HTTP/1.1\r\n")
	b.WriteString("Host: " + u.Host + "\r\n")
	if u.Auth != "" {
		b.WriteString("Authorization: Basic " + base64.StdEncoding.EncodeToString([]byte(u.Auth)) + "\r\n")
	}
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	if u.Strict {
		b.WriteString("Sec-WebSocket-Version: 13\r\n")
	}
	b.WriteString("Sec-WebSocket-Key: " + u.Key + "\r\n")
	b.WriteString("X-vpn-ws-MAC: " + formatMAC(u.MAC) + "\r\n")
	if u.Bridge {
		b.WriteString("X-vpn-ws-bridge: on\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

func formatMAC(mac net.HardwareAddr) string {
	if len(mac) != 6 {
		return "00:00:00:00:00:00"
	}
	return mac.String()
}
