package transport

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// minURLLen is len("ws://h").
const minURLLen = 6

// Target is a parsed server URL.
type Target struct {
	Secure   bool
	Hostname string // host without port, used for resolution and SNI
	Port     int
	HostHdr  string // Host header value; carries the port only if the URL did
	Path     string // request target without the leading slash
	Auth     string // "user:pass", empty when the URL had no userinfo
}

// Addr returns the dial address.
func (t Target) Addr() string {
	return joinHostPort(t.Hostname, t.Port)
}

func joinHostPort(host string, port int) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]:" + strconv.Itoa(port)
	}
	return host + ":" + strconv.Itoa(port)
}

// ParseURL parses ws://[user:pass@]host[:port][/path] and the wss form.
func ParseURL(raw string) (Target, error) {
	if len(raw) < minURLLen {
		return Target{}, fmt.Errorf("url %q too short", raw)
	}

	auth, rest := splitUserinfo(raw)
	u, err := url.Parse(rest)
	if err != nil {
		return Target{}, fmt.Errorf("invalid url: %w", err)
	}

	t := Target{Auth: auth}
	switch strings.ToLower(u.Scheme) {
	case "ws":
		t.Port = 80
	case "wss":
		t.Secure = true
		t.Port = 443
	default:
		return Target{}, fmt.Errorf("unsupported scheme %q, use ws:// or wss://", u.Scheme)
	}

	t.Hostname = u.Hostname()
	if t.Hostname == "" {
		return Target{}, fmt.Errorf("url %q has no host", raw)
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return Target{}, fmt.Errorf("invalid port %q", p)
		}
		t.Port = port
	}
	t.HostHdr = u.Host

	t.Path = strings.TrimPrefix(u.RequestURI(), "/")

	return t, nil
}

// splitUserinfo cuts "user:pass@" out of raw and returns it verbatim, without
// percent-decoding, along with the URL minus the userinfo.
func splitUserinfo(raw string) (auth, rest string) {
	i := strings.Index(raw, "://")
	if i < 0 {
		return "", raw
	}
	authority := raw[i+3:]
	if j := strings.IndexAny(authority, "/?#"); j >= 0 {
		authority = authority[:j]
	}
	at := strings.LastIndex(authority, "@")
	if at < 0 {
		return "", raw
	}
	return authority[:at], raw[:i+3] + raw[i+3+at+1:]
}
