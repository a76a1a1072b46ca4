package transport

import (
	stderrors "errors"
)

// Kind classifies failures so the reconnect loop can decide between retrying
// and giving up.
type Kind uint8

const (
	KindURL Kind = iota + 1
	KindResolution
	KindConnect
	KindHandshake
	KindTransport
	KindProtocol
	// KindDevice is the only fatal kind: the local tun/tap is unusable and no
	// amount of reconnecting will fix it.
	KindDevice
)

func (k Kind) String() string {
	switch k {
	case KindURL:
		return "url"
	case KindResolution:
		return "resolution"
	case KindConnect:
		return "connect"
	case KindHandshake:
		return "handshake"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindDevice:
		return "device"
	}
	return "unknown"
}

type Error struct {
	Kind  Kind
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Inner == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Inner.Error()
}

func (e *Error) Unwrap() error { return e.Inner }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, inner error) *Error {
	return &Error{Kind: kind, Msg: msg, Inner: inner}
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsFatal reports whether err must terminate the process.
func IsFatal(err error) bool {
	return IsKind(err, KindDevice)
}
