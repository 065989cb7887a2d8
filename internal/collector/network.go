package collector

import (
	"fmt"
	"sort"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// tunnelPrefixes are interface name prefixes used by VPN clients on
// macOS, Linux and Windows.
var tunnelPrefixes = []string{"utun", "tun", "tap", "wg", "ppp", "ipsec", "gpd", "nordlynx", "proton"}

type NetworkCollector struct {
	interfaces func() (psnet.InterfaceStatList, error)
}

func NewNetworkCollector() *NetworkCollector {
	return &NetworkCollector{
		interfaces: psnet.Interfaces,
	}
}

// TunnelInterfaces lists interfaces that look like VPN tunnels, are up and
// carry at least one address.
func (nc *NetworkCollector) TunnelInterfaces() ([]string, error) {
	interfaces, err := nc.interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var tunnels []string
	for _, iface := range interfaces {
		if !isTunnelName(iface.Name) || !hasFlag(iface.Flags, "up") || len(iface.Addrs) == 0 {
			continue
		}
		tunnels = append(tunnels, iface.Name)
	}
	sort.Strings(tunnels)

	return tunnels, nil
}

func isTunnelName(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range tunnelPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}
