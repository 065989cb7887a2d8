package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/nozo-moto/pingzilla/internal/events"
	"github.com/nozo-moto/pingzilla/internal/logging"
	"github.com/nozo-moto/pingzilla/internal/notify"
	"github.com/nozo-moto/pingzilla/pkg/types"
)

const (
	MaxEvents       = 100
	DefaultCacheTTL = 300 * time.Second

	DefaultCheckIntervalSecs = 60
	stabilityWindow          = time.Hour
)

var ErrInvalidSettings = errors.New("vpn check interval must be positive")

// DefaultSettings alerts on both kinds of change with a one-minute check.
func DefaultSettings() types.VPNSettings {
	return types.VPNSettings{
		Enabled:              true,
		CheckIntervalSecs:    DefaultCheckIntervalSecs,
		AlertOnCountryChange: true,
		AlertOnIPChange:      true,
	}
}

type Options struct {
	Source   Source
	Gate     *notify.Gate
	Notifier notify.Notifier
	Events   events.Sink
	Clock    clock.Clock
	Logger   *slog.Logger
	Settings types.VPNSettings
	CacheTTL time.Duration
	// Tunnels lists VPN-looking interfaces. Optional.
	Tunnels func() ([]string, error)
}

// Tracker watches the public network identity and records changes in a
// bounded log.
type Tracker struct {
	// fetchMu serializes checks so a manual refresh and a background check
	// never classify against the same cached value.
	fetchMu sync.Mutex

	mu                sync.Mutex
	cached            *types.IPInfo
	lastCheck         time.Time
	log               []types.NetworkChangeEvent
	recentChanges     []time.Time
	lastCountryChange *time.Time
	lastIPChange      *time.Time
	tunnels           []string
	settings          types.VPNSettings

	source   Source
	gate     *notify.Gate
	notifier notify.Notifier
	events   events.Sink
	clock    clock.Clock
	logger   *slog.Logger
	cacheTTL time.Duration
	listTuns func() ([]string, error)
}

func NewTracker(opts Options) *Tracker {
	t := &Tracker{
		settings: opts.Settings,
		source:   opts.Source,
		gate:     opts.Gate,
		notifier: opts.Notifier,
		events:   opts.Events,
		clock:    opts.Clock,
		logger:   logging.Component(opts.Logger, "identity"),
		cacheTTL: opts.CacheTTL,
		listTuns: opts.Tunnels,
	}
	if t.gate == nil {
		t.gate = notify.NewGate(nil)
	}
	if t.events == nil {
		t.events = events.Discard{}
	}
	if t.clock == nil {
		t.clock = clock.New()
	}
	if t.cacheTTL <= 0 {
		t.cacheTTL = DefaultCacheTTL
	}
	if t.settings.CheckIntervalSecs == 0 {
		t.settings.CheckIntervalSecs = DefaultCheckIntervalSecs
	}
	return t
}

// Classify compares two identities. Country beats IP beats ISP, so a
// simultaneous country and IP change is reported as a country change.
// Country and ISP are only compared when both sides know them.
func Classify(prev, cur types.IPInfo) (types.ChangeType, bool) {
	if prev.CountryCode != "" && cur.CountryCode != "" && !strings.EqualFold(prev.CountryCode, cur.CountryCode) {
		return types.ChangeCountry, true
	}
	if prev.IP != cur.IP {
		return types.ChangeIP, true
	}
	if prev.ISP != "" && cur.ISP != "" && prev.ISP != cur.ISP {
		return types.ChangeISP, true
	}
	return "", false
}

// mergeGeo fills geo fields missing from cur (an IP-only fallback answer)
// from prev when the IP has not moved.
func mergeGeo(prev *types.IPInfo, cur types.IPInfo) types.IPInfo {
	if prev == nil || cur.CountryCode != "" || prev.IP != cur.IP {
		return cur
	}
	cur.Country = prev.Country
	cur.CountryCode = prev.CountryCode
	if cur.City == "" {
		cur.City = prev.City
	}
	if cur.ISP == "" {
		cur.ISP = prev.ISP
	}
	return cur
}

// CheckOnce fetches the identity and compares it with the cached one. A
// detected change is logged, emitted and, unless manual, considered for an
// alert. The returned event is nil when nothing changed. A fetch error
// leaves all state untouched.
func (t *Tracker) CheckOnce(ctx context.Context, manual bool) (*types.NetworkChangeEvent, error) {
	if t.source == nil {
		return nil, errors.New("no identity source configured")
	}

	t.fetchMu.Lock()
	defer t.fetchMu.Unlock()

	current, err := t.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch identity: %w", err)
	}
	tunnels := t.tunnelInterfaces()

	now := t.clock.Now()
	t.mu.Lock()
	prev := t.cached
	current = mergeGeo(prev, current)

	var ev *types.NetworkChangeEvent
	switch {
	case prev == nil:
		ev = t.newEvent(types.ChangeInitial, nil, current, now, manual)
	default:
		if kind, changed := Classify(*prev, current); changed {
			prevCopy := *prev
			ev = t.newEvent(kind, &prevCopy, current, now, manual)
		}
	}
	if ev != nil {
		t.recordLocked(*ev)
	}

	t.cached = &current
	t.lastCheck = now
	t.tunnels = tunnels
	settings := t.settings
	t.mu.Unlock()

	if ev == nil {
		return nil, nil
	}

	t.logger.Info("network identity changed",
		"type", ev.ChangeType,
		"ip", current.IP,
		"country", current.CountryCode,
		"manual", manual,
	)
	t.events.NetworkChanged(*ev)
	t.maybeNotify(*ev, settings)
	return ev, nil
}

func (t *Tracker) newEvent(kind types.ChangeType, prev *types.IPInfo, cur types.IPInfo, now time.Time, manual bool) *types.NetworkChangeEvent {
	return &types.NetworkChangeEvent{
		ID:         uuid.NewString(),
		ChangeType: kind,
		Previous:   prev,
		Current:    cur,
		Timestamp:  now,
		IsExpected: manual,
	}
}

func (t *Tracker) recordLocked(ev types.NetworkChangeEvent) {
	t.log = append(t.log, ev)
	if over := len(t.log) - MaxEvents; over > 0 {
		t.log = append(t.log[:0], t.log[over:]...)
	}

	ts := ev.Timestamp
	switch ev.ChangeType {
	case types.ChangeCountry:
		t.lastCountryChange = &ts
	case types.ChangeIP:
		t.lastIPChange = &ts
	default:
		return
	}
	t.recentChanges = append(t.pruneRecentLocked(ts), ts)
}

func (t *Tracker) pruneRecentLocked(now time.Time) []time.Time {
	cutoff := now.Add(-stabilityWindow)
	kept := t.recentChanges[:0]
	for _, ts := range t.recentChanges {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func (t *Tracker) maybeNotify(ev types.NetworkChangeEvent, settings types.VPNSettings) {
	if ev.IsExpected || t.notifier == nil {
		return
	}

	var title, body string
	switch ev.ChangeType {
	case types.ChangeCountry:
		if !settings.AlertOnCountryChange {
			return
		}
		title = "Country changed"
		body = fmt.Sprintf("Network country changed from %s to %s", countryOf(ev.Previous), ev.Current.CountryCode)
		if want := settings.ExpectedCountry; want != "" {
			if strings.EqualFold(want, ev.Current.CountryCode) {
				body += fmt.Sprintf(" (back in expected %s)", strings.ToUpper(want))
			} else {
				body += fmt.Sprintf(" (expected %s, VPN may be disconnected)", strings.ToUpper(want))
			}
		}
	case types.ChangeIP:
		if !settings.AlertOnIPChange {
			return
		}
		title = "Public IP changed"
		body = fmt.Sprintf("Public IP changed from %s to %s", ipOf(ev.Previous), ev.Current.IP)
	default:
		return
	}

	if !t.gate.ShouldNotify(notify.CategoryVPN, ev.Timestamp) {
		t.logger.Debug("vpn alert suppressed by cooldown", "type", ev.ChangeType)
		return
	}
	t.notifier.Notify(notify.Alert{
		Timestamp: ev.Timestamp,
		Category:  notify.CategoryVPN,
		Severity:  notify.SeverityCritical,
		Title:     title,
		Body:      body,
	})
}

func (t *Tracker) tunnelInterfaces() []string {
	if t.listTuns == nil {
		return nil
	}
	tuns, err := t.listTuns()
	if err != nil {
		t.logger.Debug("tunnel interface lookup failed", "err", err)
		return nil
	}
	return tuns
}

// Current returns the cached identity while it is younger than the cache
// TTL, and fetches a fresh one otherwise or when force is set. Fetches made
// here count as user-initiated.
func (t *Tracker) Current(ctx context.Context, force bool) (types.IPInfo, error) {
	if !force {
		if info, at, ok := t.Cached(); ok && t.clock.Since(at) < t.cacheTTL {
			return info, nil
		}
	}
	if _, err := t.CheckOnce(ctx, true); err != nil {
		return types.IPInfo{}, err
	}
	info, _, _ := t.Cached()
	return info, nil
}

func (t *Tracker) Cached() (types.IPInfo, time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cached == nil {
		return types.IPInfo{}, time.Time{}, false
	}
	return *t.cached, t.lastCheck, true
}

func (t *Tracker) Settings() types.VPNSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

func (t *Tracker) SetSettings(s types.VPNSettings) error {
	if s.CheckIntervalSecs == 0 {
		return ErrInvalidSettings
	}
	s.ExpectedCountry = strings.ToUpper(strings.TrimSpace(s.ExpectedCountry))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.settings = s
	return nil
}

func (t *Tracker) Stability() types.NetworkStability {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.recentChanges = t.pruneRecentLocked(now)
	return types.NetworkStability{
		ChangesLastHour:   len(t.recentChanges),
		LastCountryChange: copyTime(t.lastCountryChange),
		LastIPChange:      copyTime(t.lastIPChange),
		TunnelInterfaces:  append([]string(nil), t.tunnels...),
	}
}

// Events returns the change log, oldest first.
func (t *Tracker) Events() []types.NetworkChangeEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]types.NetworkChangeEvent(nil), t.log...)
}

func (t *Tracker) Event(id string) (types.NetworkChangeEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ev := range t.log {
		if ev.ID == id {
			return ev, true
		}
	}
	return types.NetworkChangeEvent{}, false
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func countryOf(info *types.IPInfo) string {
	if info == nil || info.CountryCode == "" {
		return "unknown"
	}
	return info.CountryCode
}

func ipOf(info *types.IPInfo) string {
	if info == nil || info.IP == "" {
		return "unknown"
	}
	return info.IP
}
