// Package tuntap acquires the local tap interface and runs the post-up hook.
package tuntap

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"

	"github.com/songgao/water"

	"github.com/1ureka/wstap/internal/util"
)

// Device is an open tap interface. Read returns one link-layer frame per
// call; Write delivers one frame and fails unless all of it was accepted.
type Device interface {
	io.ReadWriteCloser
	Name() string
	HardwareAddr() net.HardwareAddr
}

type device struct {
	*water.Interface
	mac net.HardwareAddr
}

func (d *device) HardwareAddr() net.HardwareAddr { return d.mac }

func (d *device) Write(p []byte) (int, error) {
	n, err := d.Interface.Write(p)
	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Open attaches to (or creates) the tap interface name and queries its
// hardware address.
func Open(name string) (Device, error) {
	ifce, err := openInterface(name)
	if err != nil {
		return nil, fmt.Errorf("error opening tap device %q: %w", name, err)
	}

	mac, err := HardwareAddr(ifce.Name())
	if err != nil {
		ifce.Close()
		return nil, err
	}

	util.LogDebug("opened %s (%s)", ifce.Name(), mac)
	return &device{Interface: ifce, mac: mac}, nil
}

// Refresh re-reads the hardware address of d, which a post-up hook may have
// changed.
func Refresh(d Device) error {
	dev, ok := d.(*device)
	if !ok {
		return nil
	}
	mac, err := HardwareAddr(dev.Name())
	if err != nil {
		return err
	}
	dev.mac = mac
	return nil
}

// RunHook runs command through /bin/sh -c, forwarding its output to the
// process stdout and stderr.
func RunHook(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("hook %q failed: %w", command, err)
	}
	return nil
}
