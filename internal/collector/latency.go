package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nozo-moto/pingzilla/pkg/types"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	DefaultICMPTimeout     = 3 * time.Second
	DefaultICMPReadTimeout = 2 * time.Second
	DefaultTCPTimeout      = 2 * time.Second

	resolveCacheSize = 128
	resolveCacheTTL  = 5 * time.Minute

	protocolICMP     = 1
	protocolIPv6ICMP = 58
)

// TCPStep is one rung of the TCP connect fallback ladder.
type TCPStep struct {
	Method types.ProbeMethod
	Port   int
}

// DefaultTCPLadder is ordered by the ports most likely open on common
// targets: resolvers first, then web servers.
var DefaultTCPLadder = []TCPStep{
	{Method: types.MethodTCPDNS, Port: 53},
	{Method: types.MethodTCPHTTPS, Port: 443},
	{Method: types.MethodTCPHTTP, Port: 80},
}

var errNotEchoReply = errors.New("not an echo reply")

// Prober measures latency to one target at a time using ICMP echo and
// falling back to TCP connects. It never returns an error; a probe that
// fails on every strategy yields an empty ProbeResult.
type Prober struct {
	icmpEnabled     bool
	icmpTimeout     time.Duration
	icmpReadTimeout time.Duration
	tcpTimeout      time.Duration
	ladder          []TCPStep

	resolver *net.Resolver
	cache    *expirable.LRU[string, net.IP]
	seq      atomic.Uint32
}

type Option func(*Prober)

// WithoutICMP skips the ICMP strategy, for sandboxes where it is known to
// be unavailable.
func WithoutICMP() Option {
	return func(p *Prober) { p.icmpEnabled = false }
}

func WithTCPLadder(steps []TCPStep) Option {
	return func(p *Prober) {
		p.ladder = append([]TCPStep(nil), steps...)
	}
}

func WithTimeouts(icmpOverall, icmpRead, tcp time.Duration) Option {
	return func(p *Prober) {
		if icmpOverall > 0 {
			p.icmpTimeout = icmpOverall
		}
		if icmpRead > 0 {
			p.icmpReadTimeout = icmpRead
		}
		if tcp > 0 {
			p.tcpTimeout = tcp
		}
	}
}

func NewProber(opts ...Option) *Prober {
	p := &Prober{
		icmpEnabled:     true,
		icmpTimeout:     DefaultICMPTimeout,
		icmpReadTimeout: DefaultICMPReadTimeout,
		tcpTimeout:      DefaultTCPTimeout,
		ladder:          DefaultTCPLadder,
		resolver:        &net.Resolver{},
		cache:           expirable.NewLRU[string, net.IP](resolveCacheSize, nil, resolveCacheTTL),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe runs the strategy ladder against target and returns on the first
// success.
func (p *Prober) Probe(ctx context.Context, target string) types.ProbeResult {
	if p.icmpEnabled {
		icmpCtx, cancel := context.WithTimeout(ctx, p.icmpTimeout)
		rtt, err := p.icmpPing(icmpCtx, target)
		cancel()
		if err == nil {
			return newResult(rtt, types.MethodICMP)
		}
	}

	for _, step := range p.ladder {
		if ctx.Err() != nil {
			break
		}
		rtt, err := p.tcpPing(ctx, target, step.Port)
		if err == nil {
			return newResult(rtt, step.Method)
		}
	}

	return types.ProbeResult{}
}

func newResult(rtt time.Duration, method types.ProbeMethod) types.ProbeResult {
	ms := float64(rtt.Microseconds()) / 1000.0
	return types.ProbeResult{
		LatencyMs: &ms,
		Method:    &method,
	}
}

// resolve returns target as an IP, looking hostnames up through a small
// expiring cache so a probe every few seconds does not hit DNS each time.
func (p *Prober) resolve(ctx context.Context, target string) (net.IP, error) {
	if ip := net.ParseIP(target); ip != nil {
		return ip, nil
	}
	if ip, ok := p.cache.Get(target); ok {
		return ip, nil
	}

	addrs, err := p.resolver.LookupIPAddr(ctx, target)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", target)
	}

	ip := addrs[0].IP
	for _, a := range addrs {
		if a.IP.To4() != nil {
			ip = a.IP
			break
		}
	}
	p.cache.Add(target, ip)
	return ip, nil
}

func (p *Prober) tcpPing(ctx context.Context, target string, port int) (time.Duration, error) {
	ip, err := p.resolve(ctx, target)
	if err != nil {
		return 0, err
	}

	dialer := &net.Dialer{Timeout: p.tcpTimeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	if err != nil {
		return 0, err
	}
	rtt := time.Since(start)
	_ = conn.Close()

	return rtt, nil
}

// icmpPing sends one echo request. It prefers an unprivileged datagram
// socket and falls back to a raw socket.
func (p *Prober) icmpPing(ctx context.Context, target string) (time.Duration, error) {
	ip, err := p.resolve(ctx, target)
	if err != nil {
		return 0, err
	}

	isV4 := ip.To4() != nil
	conn, privileged, err := listenICMP(isV4)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var (
		echoType  icmp.Type = ipv4.ICMPTypeEcho
		replyType icmp.Type = ipv4.ICMPTypeEchoReply
		proto               = protocolICMP
	)
	if !isV4 {
		echoType = ipv6.ICMPTypeEchoRequest
		replyType = ipv6.ICMPTypeEchoReply
		proto = protocolIPv6ICMP
	}

	id := os.Getpid() & 0xffff
	seq := int(p.seq.Add(1) & 0xffff)
	message := &icmp.Message{
		Type: echoType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   id,
			Seq:  seq,
			Data: []byte("pingzilla"),
		},
	}
	data, err := message.Marshal(nil)
	if err != nil {
		return 0, err
	}

	var dst net.Addr = &net.IPAddr{IP: ip}
	if !privileged {
		dst = &net.UDPAddr{IP: ip}
	}

	deadline := time.Now().Add(p.icmpReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := conn.WriteTo(data, dst); err != nil {
		return 0, err
	}

	reply := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(reply)
		if err != nil {
			return 0, err
		}
		rtt := time.Since(start)

		if err := matchEchoReply(reply[:n], proto, replyType, id, seq, privileged); err != nil {
			continue
		}
		return rtt, nil
	}
}

// matchEchoReply checks that b is the reply to our request. Datagram
// sockets rewrite the echo ID, so only the sequence is compared there.
func matchEchoReply(b []byte, proto int, replyType icmp.Type, id, seq int, privileged bool) error {
	msg, err := icmp.ParseMessage(proto, b)
	if err != nil {
		return err
	}
	if msg.Type != replyType {
		return errNotEchoReply
	}
	echo, ok := msg.Body.(*icmp.Echo)
	if !ok {
		return errNotEchoReply
	}
	if echo.Seq != seq || (privileged && echo.ID != id) {
		return errNotEchoReply
	}
	return nil
}

func listenICMP(isV4 bool) (*icmp.PacketConn, bool, error) {
	network, address, rawNetwork := "udp4", "0.0.0.0", "ip4:icmp"
	if !isV4 {
		network, address, rawNetwork = "udp6", "::", "ip6:ipv6-icmp"
	}

	conn, err := icmp.ListenPacket(network, address)
	if err == nil {
		return conn, false, nil
	}
	conn, rawErr := icmp.ListenPacket(rawNetwork, address)
	if rawErr != nil {
		return nil, false, fmt.Errorf("icmp unavailable: %v; %w", err, rawErr)
	}
	return conn, true, nil
}
