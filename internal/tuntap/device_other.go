//go:build !linux

package tuntap

import (
	"fmt"
	"net"

	"github.com/songgao/water"

	"github.com/1ureka/wstap/internal/util"
)

// Interface names are assigned by the driver outside Linux.
func openInterface(name string) (*water.Interface, error) {
	ifce, err := water.New(water.Config{DeviceType: water.TAP})
	if err != nil {
		return nil, err
	}
	if ifce.Name() != name {
		util.LogWarning("requested %s, driver assigned %s", name, ifce.Name())
	}
	return ifce, nil
}

// HardwareAddr returns the MAC address of interface name.
func HardwareAddr(name string) (net.HardwareAddr, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("error finding interface %q: %w", name, err)
	}
	if len(ifi.HardwareAddr) != 6 {
		return nil, fmt.Errorf("interface %q has no ethernet address", name)
	}
	return ifi.HardwareAddr, nil
}
