package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gdamore/tcell/v2"
	"github.com/nozo-moto/pingzilla/internal/logging"
	"github.com/nozo-moto/pingzilla/internal/notify"
	"github.com/nozo-moto/pingzilla/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu        sync.Mutex
	targets   []string
	primary   string
	mode      types.DisplayMode
	visible   bool
	suspended bool
	acked     []string
	events    []types.NetworkChangeEvent
	ipErr     error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		targets: []string{"8.8.8.8", "1.1.1.1"},
		primary: "8.8.8.8",
		mode:    types.DisplayIconAndPing,
	}
}

func (f *fakeBackend) Targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.targets...)
}

func (f *fakeBackend) Primary() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.primary
}

func (f *fakeBackend) SetPrimary(t string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.primary = t
	return nil
}

func (f *fakeBackend) CurrentSample(t string) (types.Sample, bool) {
	return types.Sample{Target: t, LatencyMs: types.Ptr(12.0)}, true
}

func (f *fakeBackend) History(t string) []types.Sample {
	return []types.Sample{{Target: t, LatencyMs: types.Ptr(12.0)}}
}

func (f *fakeBackend) Stats(string, int) types.Statistics {
	return types.Statistics{TotalPings: 1}
}

func (f *fakeBackend) Settings() types.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return types.Settings{PrimaryTarget: f.primary, DisplayMode: f.mode}
}

func (f *fakeBackend) SetDisplayMode(m types.DisplayMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = m
	return nil
}

func (f *fakeBackend) SiteStatuses() []types.SiteStatus { return nil }

func (f *fakeBackend) PublicIP(context.Context, bool) (types.IPInfo, error) {
	if f.ipErr != nil {
		return types.IPInfo{}, f.ipErr
	}
	return types.IPInfo{IP: "203.0.113.7", Country: "Japan", CountryCode: "JP"}, nil
}

func (f *fakeBackend) NetworkStability() types.NetworkStability { return types.NetworkStability{} }

func (f *fakeBackend) NetworkEvents() []types.NetworkChangeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.NetworkChangeEvent(nil), f.events...)
}

func (f *fakeBackend) AcknowledgeNetworkAlert(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeBackend) SetWindowVisible(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = v
}

func (f *fakeBackend) WindowVisible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}

func (f *fakeBackend) SetSuspended(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspended = v
}

func (f *fakeBackend) Suspended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suspended
}

func newTestDashboard(b Backend) *Dashboard {
	d := NewDashboard(clock.NewMock(), logging.Discard())
	d.Attach(b)
	return d
}

func runeKey(r rune) *tcell.EventKey {
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone)
}

func TestFormatHeader(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	got := formatHeader(types.TrayRenderState{Icon: types.IconHappy, Label: "42ms"}, "8.8.8.8", now, false)
	assert.Contains(t, got, "42ms")
	assert.Contains(t, got, "8.8.8.8")
	assert.Contains(t, got, "2026-06-01 08:00:00")
	assert.NotContains(t, got, "SUSPENDED")

	got = formatHeader(types.TrayRenderState{Icon: types.IconDead}, "8.8.8.8", now, true)
	assert.Contains(t, got, "SUSPENDED")
}

func TestFormatTargets(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[gray]No targets", formatTargets(nil, 5))

	got := formatTargets([]TargetRow{
		{
			Target:  "8.8.8.8",
			Primary: true,
			Latest:  &types.Sample{LatencyMs: types.Ptr(23.4), Method: types.Ptr(types.MethodTCPDNS)},
			Stats:   types.Statistics{MinMs: types.Ptr(20.0), AvgMs: types.Ptr(23.0), MaxMs: types.Ptr(31.0)},
		},
		{Target: "1.1.1.1", Latest: &types.Sample{}, Stats: types.Statistics{PacketLossPct: 100}},
	}, 5)

	lines := strings.Split(got, "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Contains(t, lines[2], "*8.8.8.8")
	assert.Contains(t, lines[2], "23ms")
	assert.Contains(t, lines[2], "TcpDns")
	assert.Contains(t, lines[3], "Timeout")
	assert.Contains(t, lines[3], "100.0%")
	assert.Contains(t, got, "last 5m")
}

func TestFormatSites(t *testing.T) {
	t.Parallel()

	down := time.Date(2026, 6, 1, 7, 55, 0, 0, time.UTC)
	got := formatSites([]types.SiteStatus{
		{URL: "https://a.example", IsUp: true, LatencyMs: types.Ptr(40.0)},
		{URL: "https://b.example", LastDown: &down},
	})
	assert.Contains(t, got, "40ms")
	assert.Contains(t, got, "down 06-01 07:55")
	assert.Equal(t, "[gray]No site checks yet", formatSites(nil))
}

func TestFormatIdentity(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	got := formatIdentity(
		&types.IPInfo{IP: "203.0.113.7", Country: "Japan", CountryCode: "JP", ISP: "Example Net"},
		types.NetworkStability{ChangesLastHour: 2, LastCountryChange: &at, TunnelInterfaces: []string{"utun3"}},
		[]types.NetworkChangeEvent{
			{ChangeType: types.ChangeInitial, Current: types.IPInfo{IP: "203.0.113.7"}, Timestamp: at},
			{
				ChangeType: types.ChangeCountry,
				Previous:   &types.IPInfo{CountryCode: "JP"},
				Current:    types.IPInfo{CountryCode: "US"},
				Timestamp:  at,
			},
		})

	assert.Contains(t, got, "203.0.113.7")
	assert.Contains(t, got, "Japan (JP)")
	assert.Contains(t, got, "Example Net")
	assert.Contains(t, got, "Changes last hour:[white] 2")
	assert.Contains(t, got, "utun3")
	assert.Contains(t, got, "JP → US")
	assert.Less(t, strings.Index(got, "CountryChanged"), strings.Index(got, "Initial"), "newest event first")

	assert.Contains(t, formatIdentity(nil, types.NetworkStability{}, nil), "not checked yet")
}

func TestFormatAlerts_NewestFirst(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	got := formatAlerts([]notify.Alert{
		{Timestamp: at, Severity: notify.SeverityWarning, Title: "first"},
		{Timestamp: at, Severity: notify.SeverityCritical, Title: "second"},
	})
	assert.Less(t, strings.Index(got, "second"), strings.Index(got, "first"))
	assert.Equal(t, "[gray]No alerts", formatAlerts(nil))
}

func TestFormatGraph(t *testing.T) {
	t.Parallel()

	assert.Contains(t, formatGraph(nil, 10, 4), "Collecting")

	samples := []types.Sample{
		{LatencyMs: types.Ptr(10.0)},
		{},
		{LatencyMs: types.Ptr(40.0)},
	}
	got := formatGraph(samples, 2, 4)
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "max 40ms")
	// Only the last two samples fit: the failed one and the 40ms bar.
	assert.Contains(t, lines[4], "[red]▁")
	assert.Equal(t, 4, strings.Count(got, "█"))
}

func TestNextDisplayMode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, types.DisplayIconOnly, nextDisplayMode(types.DisplayIconAndPing))
	assert.Equal(t, types.DisplayPingOnly, nextDisplayMode(types.DisplayIconOnly))
	assert.Equal(t, types.DisplayIconAndPing, nextDisplayMode(types.DisplayPingOnly))
}

func TestNextTarget(t *testing.T) {
	t.Parallel()

	_, ok := nextTarget([]string{"a"}, "a")
	assert.False(t, ok)

	next, ok := nextTarget([]string{"a", "b", "c"}, "c")
	require.True(t, ok)
	assert.Equal(t, "a", next)

	next, _ = nextTarget([]string{"a", "b"}, "a")
	assert.Equal(t, "b", next)
}

func TestDashboard_Collaborators(t *testing.T) {
	t.Parallel()

	d := newTestDashboard(newFakeBackend())

	d.Render(types.TrayRenderState{Icon: types.IconAngry, Label: "80ms"})
	for i := 0; i < maxAlertLines+3; i++ {
		d.Notify(notify.Alert{Title: "alert"})
	}
	d.NetworkChanged(types.NetworkChangeEvent{Current: types.IPInfo{IP: "198.51.100.1"}})

	v := d.collect()
	assert.Equal(t, "80ms", v.tray.Label)
	assert.Len(t, v.alerts, maxAlertLines)
	require.NotNil(t, v.identity)
	assert.Equal(t, "198.51.100.1", v.identity.IP)
	require.Len(t, v.rows, 2)
	assert.True(t, v.rows[0].Primary)
	assert.Len(t, d.dirty, 1, "redraws coalesce")
}

func TestDashboard_Keys(t *testing.T) {
	t.Parallel()

	b := newFakeBackend()
	b.events = []types.NetworkChangeEvent{{ID: "ev-1"}, {ID: "ev-2"}}
	d := newTestDashboard(b)

	assert.Nil(t, d.handleKey(runeKey('m')))
	assert.Equal(t, types.DisplayIconOnly, b.Settings().DisplayMode)

	assert.Nil(t, d.handleKey(runeKey('n')))
	assert.Equal(t, "1.1.1.1", b.Primary())

	assert.Nil(t, d.handleKey(runeKey('p')))
	assert.True(t, b.Suspended())

	assert.Nil(t, d.handleKey(runeKey('a')))
	assert.Equal(t, []string{"ev-2"}, b.acked)

	assert.Nil(t, d.handleKey(runeKey('h')))
	assert.True(t, b.WindowVisible())
	assert.Equal(t, VisibleRefresh, d.refreshInterval())
	page, _ := d.pages.GetFrontPage()
	assert.Equal(t, pageHistory, page)

	assert.Nil(t, d.handleKey(runeKey('q')), "q leaves the history page first")
	assert.False(t, b.WindowVisible())
	assert.Equal(t, HiddenRefresh, d.refreshInterval())

	ev := runeKey('x')
	assert.Same(t, ev, d.handleKey(ev))
}

func TestDashboard_RefreshIdentity(t *testing.T) {
	t.Parallel()

	b := newFakeBackend()
	d := newTestDashboard(b)
	d.refreshIdentity()
	v := d.collect()
	require.NotNil(t, v.identity)
	assert.Equal(t, "JP", v.identity.CountryCode)

	b.ipErr = errors.New("all identity sources failed")
	d.refreshIdentity()
	v = d.collect()
	require.Len(t, v.alerts, 1)
	assert.Equal(t, "Public IP refresh failed", v.alerts[0].Title)
}

func TestHistoryView_Update(t *testing.T) {
	t.Parallel()

	b := newFakeBackend()
	hv := NewHistoryView()

	data := collectHistory(b, "unknown")
	assert.Equal(t, "8.8.8.8", data.Target, "falls back to the primary")
	assert.Len(t, data.Stats, len(statsWindows))

	data.Samples = []types.Sample{
		{Timestamp: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC), LatencyMs: types.Ptr(11.0)},
		{Timestamp: time.Date(2026, 6, 1, 8, 0, 10, 0, time.UTC)},
	}
	hv.Update(data)

	assert.Equal(t, "8.8.8.8", hv.Selected())
	assert.Equal(t, 3, hv.sampleTable.GetRowCount())
	assert.Equal(t, "08:00:10", hv.sampleTable.GetCell(1, 0).Text)
	assert.Equal(t, "Timeout", hv.sampleTable.GetCell(1, 1).Text)
	assert.Equal(t, "11ms", hv.sampleTable.GetCell(2, 1).Text)
	assert.Equal(t, 2, hv.targetList.GetRowCount())
}
