package collector

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nozo-moto/pingzilla/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

func listenLocal(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestProbe_FallsThroughLadder(t *testing.T) {
	t.Parallel()

	open := listenLocal(t)
	p := NewProber(
		WithoutICMP(),
		WithTCPLadder([]TCPStep{
			{Method: types.MethodTCPDNS, Port: closedPort(t)},
			{Method: types.MethodTCPHTTPS, Port: open},
			{Method: types.MethodTCPHTTP, Port: open},
		}),
		WithTimeouts(0, 0, 500*time.Millisecond),
	)

	res := p.Probe(context.Background(), "127.0.0.1")
	require.NotNil(t, res.LatencyMs)
	require.NotNil(t, res.Method)
	assert.Equal(t, types.MethodTCPHTTPS, *res.Method)
	assert.GreaterOrEqual(t, *res.LatencyMs, 0.0)
}

func TestProbe_AllStrategiesFail(t *testing.T) {
	t.Parallel()

	p := NewProber(
		WithoutICMP(),
		WithTCPLadder([]TCPStep{
			{Method: types.MethodTCPDNS, Port: closedPort(t)},
			{Method: types.MethodTCPHTTP, Port: closedPort(t)},
		}),
		WithTimeouts(0, 0, 500*time.Millisecond),
	)

	res := p.Probe(context.Background(), "127.0.0.1")
	assert.Nil(t, res.LatencyMs)
	assert.Nil(t, res.Method)
}

func TestProbe_UnresolvableHost(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	p := NewProber(WithoutICMP(), WithTimeouts(0, 0, 200*time.Millisecond))
	res := p.Probe(ctx, "does-not-exist.invalid")
	assert.Nil(t, res.LatencyMs)
	assert.Nil(t, res.Method)
}

func TestResolve_NumericPassesThrough(t *testing.T) {
	t.Parallel()

	p := NewProber()
	ip, err := p.resolve(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, "8.8.8.8", ip.String())
	assert.Equal(t, 0, p.cache.Len())
}

func TestResolve_UsesCache(t *testing.T) {
	t.Parallel()

	p := NewProber()
	p.cache.Add("cached.example", net.ParseIP("10.0.0.9"))

	ip, err := p.resolve(context.Background(), "cached.example")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", ip.String())
}

func TestMatchEchoReply(t *testing.T) {
	t.Parallel()

	reply := &icmp.Message{
		Type: ipv4.ICMPTypeEchoReply,
		Body: &icmp.Echo{ID: 7, Seq: 3, Data: []byte("x")},
	}
	b, err := reply.Marshal(nil)
	require.NoError(t, err)

	assert.NoError(t, matchEchoReply(b, protocolICMP, ipv4.ICMPTypeEchoReply, 7, 3, true))
	assert.Error(t, matchEchoReply(b, protocolICMP, ipv4.ICMPTypeEchoReply, 7, 4, true))
	assert.Error(t, matchEchoReply(b, protocolICMP, ipv4.ICMPTypeEchoReply, 8, 3, true))
	// datagram sockets rewrite the ID
	assert.NoError(t, matchEchoReply(b, protocolICMP, ipv4.ICMPTypeEchoReply, 8, 3, false))

	request := &icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{ID: 7, Seq: 3},
	}
	b, err = request.Marshal(nil)
	require.NoError(t, err)
	assert.ErrorIs(t, matchEchoReply(b, protocolICMP, ipv4.ICMPTypeEchoReply, 7, 3, true), errNotEchoReply)
}
