package tuntap

import (
	"fmt"
	"net"

	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
)

func openInterface(name string) (*water.Interface, error) {
	return water.New(water.Config{
		DeviceType: water.TAP,
		PlatformSpecificParams: water.PlatformSpecificParams{
			Name: name,
		},
	})
}

// HardwareAddr returns the MAC address of interface name.
func HardwareAddr(name string) (net.HardwareAddr, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("error finding link %q: %w", name, err)
	}
	mac := link.Attrs().HardwareAddr
	if len(mac) != 6 {
		return nil, fmt.Errorf("link %q has no ethernet address", name)
	}
	return mac, nil
}
