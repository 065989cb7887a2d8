package sites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nozo-moto/pingzilla/internal/logging"
	"github.com/nozo-moto/pingzilla/internal/notify"
	"github.com/nozo-moto/pingzilla/pkg/types"
	"golang.org/x/sync/errgroup"
)

const (
	MaxMonitors        = 10
	DefaultDialTimeout = 5 * time.Second
)

var (
	ErrInvalidURL    = errors.New("site url is invalid")
	ErrDuplicateSite = errors.New("site is already monitored")
	ErrTooManySites  = fmt.Errorf("at most %d sites can be monitored", MaxMonitors)
	ErrUnknownSite   = errors.New("site is not monitored")
)

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type Options struct {
	Gate        *notify.Gate
	Notifier    notify.Notifier
	Clock       clock.Clock
	Logger      *slog.Logger
	Dial        DialFunc
	DialTimeout time.Duration
}

// Monitor checks TCP reachability of auxiliary sites and tracks up/down
// edges. Only a transition from up to down raises an alert.
type Monitor struct {
	mu       sync.Mutex
	configs  []types.SiteMonitorConfig
	statuses map[string]types.SiteStatus

	dial     DialFunc
	timeout  time.Duration
	gate     *notify.Gate
	notifier notify.Notifier
	clock    clock.Clock
	log      *slog.Logger
}

func NewMonitor(opts Options) *Monitor {
	m := &Monitor{
		statuses: make(map[string]types.SiteStatus),
		dial:     opts.Dial,
		timeout:  opts.DialTimeout,
		gate:     opts.Gate,
		notifier: opts.Notifier,
		clock:    opts.Clock,
		log:      logging.Component(opts.Logger, "sites"),
	}
	if m.timeout <= 0 {
		m.timeout = DefaultDialTimeout
	}
	if m.dial == nil {
		m.dial = (&net.Dialer{}).DialContext
	}
	if m.gate == nil {
		m.gate = notify.NewGate(nil)
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	return m
}

// HostPort derives the dial address from a site URL. https and scheme-less
// URLs use 443, http uses 80, and an explicit port wins over both.
func HostPort(rawURL string) (string, error) {
	rest := strings.TrimSpace(rawURL)
	port := "443"
	if i := strings.Index(rest, "://"); i >= 0 {
		if strings.EqualFold(rest[:i], "http") {
			port = "80"
		}
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}

	host := rest
	if h, p, err := net.SplitHostPort(rest); err == nil {
		host, port = h, p
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return "", ErrInvalidURL
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return "", ErrInvalidURL
	}
	return net.JoinHostPort(host, port), nil
}

func (m *Monitor) Add(cfg types.SiteMonitorConfig) error {
	cfg.URL = strings.TrimSpace(cfg.URL)
	if _, err := HostPort(cfg.URL); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexOf(cfg.URL) >= 0 {
		return ErrDuplicateSite
	}
	if len(m.configs) >= MaxMonitors {
		return ErrTooManySites
	}
	m.configs = append(m.configs, cfg)
	return nil
}

func (m *Monitor) Remove(url string) error {
	url = strings.TrimSpace(url)

	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexOf(url)
	if idx < 0 {
		return ErrUnknownSite
	}
	m.configs = append(m.configs[:idx:idx], m.configs[idx+1:]...)
	delete(m.statuses, url)
	return nil
}

// Load replaces the configured sites, skipping invalid or duplicate entries
// and anything past the cap.
func (m *Monitor) Load(cfgs []types.SiteMonitorConfig) {
	m.mu.Lock()
	m.configs = nil
	m.statuses = make(map[string]types.SiteStatus)
	m.mu.Unlock()

	for _, cfg := range cfgs {
		if err := m.Add(cfg); err != nil {
			m.log.Warn("skipping site monitor", "url", cfg.URL, "err", err)
		}
	}
}

func (m *Monitor) Configs() []types.SiteMonitorConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.SiteMonitorConfig(nil), m.configs...)
}

// Statuses returns the last status of every checked site in config order.
func (m *Monitor) Statuses() []types.SiteStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusesLocked()
}

func (m *Monitor) statusesLocked() []types.SiteStatus {
	out := make([]types.SiteStatus, 0, len(m.configs))
	for _, cfg := range m.configs {
		if st, ok := m.statuses[cfg.URL]; ok {
			out = append(out, st)
		}
	}
	return out
}

type checkResult struct {
	up      bool
	latency *float64
}

// CheckAll dials every enabled site and reports whether any status is new
// or flipped between up and down. For alerting, a site never seen before
// counts as previously up.
func (m *Monitor) CheckAll(ctx context.Context) bool {
	m.mu.Lock()
	var cfgs []types.SiteMonitorConfig
	for _, cfg := range m.configs {
		if cfg.Enabled {
			cfgs = append(cfgs, cfg)
		}
	}
	m.mu.Unlock()
	if len(cfgs) == 0 {
		return false
	}

	results := make([]checkResult, len(cfgs))
	var g errgroup.Group
	g.SetLimit(MaxMonitors)
	for i, cfg := range cfgs {
		i, cfg := i, cfg
		g.Go(func() error {
			results[i] = m.check(ctx, cfg.URL)
			return nil
		})
	}
	_ = g.Wait()

	now := m.clock.Now()
	changed := false
	var downs []types.SiteMonitorConfig

	m.mu.Lock()
	for i, cfg := range cfgs {
		if m.indexOf(cfg.URL) < 0 {
			continue
		}
		res := results[i]
		prev, seen := m.statuses[cfg.URL]
		wasUp := !seen || prev.IsUp

		status := types.SiteStatus{
			URL:       cfg.URL,
			IsUp:      res.up,
			LatencyMs: res.latency,
			LastCheck: now,
			LastDown:  prev.LastDown,
		}
		if wasUp && !res.up {
			status.LastDown = types.Ptr(now)
			downs = append(downs, cfg)
		}
		if !seen || wasUp != res.up {
			changed = true
		}
		m.statuses[cfg.URL] = status
	}
	m.mu.Unlock()

	for _, cfg := range downs {
		m.log.Info("site down", "url", cfg.URL)
		if m.notifier == nil || !m.gate.ShouldNotify(notify.CategorySiteDown, now) {
			continue
		}
		m.notifier.Notify(notify.Alert{
			Timestamp: now,
			Category:  notify.CategorySiteDown,
			Severity:  notify.SeverityWarning,
			Title:     "Site down",
			Body:      fmt.Sprintf("%s is not reachable", displayName(cfg)),
		})
	}
	return changed
}

func (m *Monitor) check(ctx context.Context, url string) checkResult {
	addr, err := HostPort(url)
	if err != nil {
		return checkResult{}
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	conn, err := m.dial(dialCtx, "tcp", addr)
	if err != nil {
		m.log.Debug("site check failed", "url", url, "err", err)
		return checkResult{}
	}
	ms := float64(time.Since(start).Microseconds()) / 1000.0
	_ = conn.Close()

	return checkResult{up: true, latency: &ms}
}

func (m *Monitor) indexOf(url string) int {
	for i, cfg := range m.configs {
		if cfg.URL == url {
			return i
		}
	}
	return -1
}

func displayName(cfg types.SiteMonitorConfig) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return cfg.URL
}
