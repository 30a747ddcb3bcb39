// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package netwatch

import (
	"net"

	"github.com/juju/errors"
)

// NIC is an up, non-loopback network interface with its usable
// addresses.
type NIC struct {
	Name         string
	HardwareAddr net.HardwareAddr
	Addresses    []net.IP
}

// Source returns the network interfaces of the machine.
type Source func() ([]NIC, error)

// DefaultSource returns a Source backed by the net package.
func DefaultSource() Source {
	return func() ([]NIC, error) {
		return nicsFrom(net.Interfaces, interfaceAddrs)
	}
}

func interfaceAddrs(nic net.Interface) ([]net.Addr, error) {
	return nic.Addrs()
}

// nicsFrom filters the interfaces to those that are up and not loopback,
// keeping only global unicast addresses.
func nicsFrom(
	interfaces func() ([]net.Interface, error),
	addrs func(net.Interface) ([]net.Addr, error),
) ([]NIC, error) {
	nics, err := interfaces()
	if err != nil {
		return nil, errors.Annotate(err, "detecting network interfaces")
	}
	var result []NIC
	for _, nic := range nics {
		if nic.Flags&net.FlagUp == 0 || nic.Flags&net.FlagLoopback != 0 {
			continue
		}
		nicAddrs, err := addrs(nic)
		if err != nil {
			return nil, errors.Annotatef(err, "retrieving addresses for interface %q", nic.Name)
		}
		var ips []net.IP
		for _, addr := range nicAddrs {
			ip := parseAddr(addr.String())
			if ip == nil || !ip.IsGlobalUnicast() {
				continue
			}
			ips = append(ips, ip)
		}
		if len(ips) == 0 {
			continue
		}
		result = append(result, NIC{
			Name:         nic.Name,
			HardwareAddr: nic.HardwareAddr,
			Addresses:    ips,
		})
	}
	return result, nil
}

// parseAddr accepts both CIDR and plain address forms.
func parseAddr(a string) net.IP {
	if ip, _, err := net.ParseCIDR(a); err == nil {
		return ip
	}
	return net.ParseIP(a)
}
