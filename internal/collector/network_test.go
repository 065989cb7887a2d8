package collector

import (
	"errors"
	"testing"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTunnelInterfaces_FiltersByNameFlagsAndAddrs(t *testing.T) {
	t.Parallel()

	nc := &NetworkCollector{
		interfaces: func() (psnet.InterfaceStatList, error) {
			return psnet.InterfaceStatList{
				{Name: "en0", Flags: []string{"up"}, Addrs: psnet.InterfaceAddrList{{Addr: "192.168.1.2/24"}}},
				{Name: "utun3", Flags: []string{"up", "pointtopoint"}, Addrs: psnet.InterfaceAddrList{{Addr: "10.8.0.2/32"}}},
				{Name: "wg0", Flags: []string{"up"}, Addrs: psnet.InterfaceAddrList{{Addr: "10.7.0.2/24"}}},
				{Name: "tun1", Flags: []string{"pointtopoint"}, Addrs: psnet.InterfaceAddrList{{Addr: "10.9.0.2/32"}}},
				{Name: "utun0", Flags: []string{"up"}},
			}, nil
		},
	}

	got, err := nc.TunnelInterfaces()
	require.NoError(t, err)
	assert.Equal(t, []string{"utun3", "wg0"}, got)
}

func TestTunnelInterfaces_Error(t *testing.T) {
	t.Parallel()

	nc := &NetworkCollector{
		interfaces: func() (psnet.InterfaceStatList, error) {
			return nil, errors.New("boom")
		},
	}
	_, err := nc.TunnelInterfaces()
	assert.Error(t, err)
}
