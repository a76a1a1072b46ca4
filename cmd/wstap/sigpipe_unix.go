//go:build unix

package main

import (
	"os/signal"

	"golang.org/x/sys/unix"
)

// ignoreSIGPIPE makes a write to a peer-closed socket fail with EPIPE
// instead of killing the process.
func ignoreSIGPIPE() {
	signal.Ignore(unix.SIGPIPE)
}
