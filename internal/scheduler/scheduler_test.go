package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nozo-moto/pingzilla/internal/events"
	"github.com/nozo-moto/pingzilla/internal/history"
	"github.com/nozo-moto/pingzilla/internal/logging"
	"github.com/nozo-moto/pingzilla/internal/notify"
	"github.com/nozo-moto/pingzilla/internal/tray"
	"github.com/nozo-moto/pingzilla/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu      sync.Mutex
	latency map[string]*float64
}

func (f *fakeProber) set(target string, ms *float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency[target] = ms
}

func (f *fakeProber) Probe(_ context.Context, target string) types.ProbeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	ms, ok := f.latency[target]
	if !ok || ms == nil {
		return types.ProbeResult{}
	}
	v := *ms
	return types.ProbeResult{LatencyMs: &v, Method: types.Ptr(types.MethodTCPHTTPS)}
}

type fakeState struct {
	mu sync.Mutex
	st TickState
}

func (f *fakeState) TickState() TickState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.st
	st.Targets = append([]string(nil), f.st.Targets...)
	return st
}

type fakeSites struct {
	calls   atomic.Int32
	changed bool
}

func (f *fakeSites) CheckAll(context.Context) bool {
	f.calls.Add(1)
	return f.changed
}

func (f *fakeSites) Statuses() []types.SiteStatus {
	return []types.SiteStatus{{URL: "https://example.com", IsUp: false}}
}

type fakeIdentity struct {
	calls  atomic.Int32
	manual atomic.Bool
}

func (f *fakeIdentity) CheckOnce(_ context.Context, manual bool) (*types.NetworkChangeEvent, error) {
	f.calls.Add(1)
	f.manual.Store(manual)
	return nil, nil
}

type collected struct {
	mu      sync.Mutex
	renders []types.TrayRenderState
	alerts  []notify.Alert
}

func (c *collected) Render(s types.TrayRenderState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renders = append(c.renders, s)
}

func (c *collected) Notify(a notify.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
}

type harness struct {
	sched    *Scheduler
	state    *fakeState
	prober   *fakeProber
	store    *history.Store
	sites    *fakeSites
	identity *fakeIdentity
	flushes  *atomic.Int32
	out      *collected
	rec      *events.Recorder
	clock    *clock.Mock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))

	h := &harness{
		state: &fakeState{st: TickState{
			Targets:         []string{"1.1.1.1", "8.8.8.8"},
			Primary:         "1.1.1.1",
			Interval:        10 * time.Second,
			ThresholdMs:     200,
			DisplayMode:     types.DisplayIconAndPing,
			IdentityEnabled: true,
			IdentityEvery:   60 * time.Second,
		}},
		prober:   &fakeProber{latency: map[string]*float64{}},
		store:    history.NewStore(100, mock),
		sites:    &fakeSites{},
		identity: &fakeIdentity{},
		flushes:  &atomic.Int32{},
		out:      &collected{},
		rec:      &events.Recorder{},
		clock:    mock,
	}
	h.sched = New(Options{
		State:    h.state,
		Prober:   h.prober,
		History:  h.store,
		Sites:    h.sites,
		Identity: h.identity,
		Flusher: FlushFunc(func() bool {
			h.flushes.Add(1)
			return true
		}),
		Renderer: h.out,
		Notifier: h.out,
		Events:   h.rec,
		Clock:    mock,
		Logger:   logging.Discard(),
	})
	return h
}

func TestEvery(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(6), Every(60*time.Second, 10*time.Second))
	assert.Equal(t, uint64(30), Every(300*time.Second, 10*time.Second))
	assert.Equal(t, uint64(1), Every(60*time.Second, 120*time.Second))
	assert.Equal(t, uint64(9), Every(60*time.Second, 7*time.Second))
	assert.Equal(t, uint64(1), Every(60*time.Second, 0))
}

func TestCadence_IdentityAvoidsSiteTicks(t *testing.T) {
	t.Parallel()

	for _, secs := range []int{1, 2, 3, 5, 7, 10, 15, 20, 30, 60} {
		for _, checkSecs := range []int{10, 15, 30, 45, 60, 90, 120, 300, 600} {
			c := NewCadence(time.Duration(secs)*time.Second, time.Duration(checkSecs)*time.Second)
			assert.Less(t, c.IdentityOffset, c.Identity)
			if c.Identity > 1 {
				assert.NotZero(t, c.IdentityOffset, "interval %ds check %ds", secs, checkSecs)
			}
			if gcd(c.Site, c.Identity) == 1 {
				continue
			}
			for tick := uint64(1); tick <= 1000; tick++ {
				if c.SiteDue(tick) {
					assert.False(t, c.IdentityDue(tick), "interval %ds check %ds tick %d", secs, checkSecs, tick)
				}
			}
		}
	}

	c := NewCadence(10*time.Second, 30*time.Second)
	assert.Equal(t, Cadence{Site: 6, Identity: 3, Persist: 30, IdentityOffset: 1}, c)

	c = NewCadence(10*time.Second, 60*time.Second)
	var siteTicks, identityTicks []uint64
	for tick := uint64(1); tick <= 12; tick++ {
		if c.SiteDue(tick) {
			siteTicks = append(siteTicks, tick)
		}
		if c.IdentityDue(tick) {
			identityTicks = append(identityTicks, tick)
		}
	}
	assert.Equal(t, []uint64{6, 12}, siteTicks)
	assert.Equal(t, []uint64{3, 9}, identityTicks)
}

func TestTick_ProbesAppendsAndEmits(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.prober.set("1.1.1.1", types.Ptr(12.0))

	h.sched.Tick(context.Background(), 1)

	assert.Equal(t, 1, h.store.Len("1.1.1.1"))
	assert.Equal(t, 1, h.store.Len("8.8.8.8"))

	failed, ok := h.store.Latest("8.8.8.8")
	require.True(t, ok)
	assert.True(t, failed.Failed())
	assert.Nil(t, failed.Method)

	samples := h.rec.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, "1.1.1.1", samples[0].Target)
	assert.Equal(t, "8.8.8.8", samples[1].Target)

	require.Len(t, h.out.renders, 1)
	assert.Equal(t, types.TrayRenderState{Icon: types.IconHappy, Label: "12ms"}, h.out.renders[0])
}

func TestTick_RendersOnlyOnChange(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.prober.set("1.1.1.1", types.Ptr(12.0))

	h.sched.Tick(context.Background(), 1)
	h.sched.Tick(context.Background(), 2)
	assert.Len(t, h.out.renders, 1)

	h.prober.set("1.1.1.1", nil)
	h.sched.Tick(context.Background(), 3)
	require.Len(t, h.out.renders, 2)
	assert.Equal(t, types.IconDead, h.out.renders[1].Icon)
	assert.Equal(t, "---", h.out.renders[1].Label)
}

func TestTick_HighLatencyRespectsCooldown(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.prober.set("1.1.1.1", types.Ptr(250.0))
	h.prober.set("8.8.8.8", types.Ptr(900.0))

	h.sched.Tick(context.Background(), 1)
	require.Len(t, h.out.alerts, 1)
	assert.Equal(t, notify.CategoryHighLatency, h.out.alerts[0].Category)
	assert.Contains(t, h.out.alerts[0].Body, "250ms")

	h.clock.Add(10 * time.Second)
	h.sched.Tick(context.Background(), 2)
	assert.Len(t, h.out.alerts, 1)

	h.clock.Add(51 * time.Second)
	h.sched.Tick(context.Background(), 3)
	assert.Len(t, h.out.alerts, 2)
}

func TestTick_ThresholdIsExclusive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.prober.set("1.1.1.1", types.Ptr(200.0))
	h.sched.Tick(context.Background(), 1)
	assert.Empty(t, h.out.alerts)
}

func TestTick_SnapshotIsolatesTargetChanges(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.sched.Tick(context.Background(), 1)

	h.state.mu.Lock()
	h.state.st.Targets = []string{"1.1.1.1", "9.9.9.9"}
	h.state.mu.Unlock()

	h.sched.Tick(context.Background(), 2)
	assert.Equal(t, 1, h.store.Len("8.8.8.8"))
	assert.Equal(t, 1, h.store.Len("9.9.9.9"))
}

func TestTick_SubCadences(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.sites.changed = true

	for tick := uint64(1); tick <= 30; tick++ {
		h.sched.Tick(context.Background(), tick)
		h.sched.Wait()
	}

	assert.Equal(t, int32(5), h.sites.calls.Load())
	assert.Equal(t, int32(5), h.identity.calls.Load())
	assert.False(t, h.identity.manual.Load())
	assert.Equal(t, int32(1), h.flushes.Load())
	assert.Len(t, h.rec.Sites(), 5)
}

func TestTick_IdentityDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.state.st.IdentityEnabled = false

	for tick := uint64(1); tick <= 12; tick++ {
		h.sched.Tick(context.Background(), tick)
	}
	h.sched.Wait()
	assert.Zero(t, h.identity.calls.Load())
	assert.Empty(t, h.rec.Sites(), "unchanged sweeps emit nothing")
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	first := make(chan struct{})
	var once sync.Once
	h.sched.opts.Renderer = tray.RendererFunc(func(types.TrayRenderState) {
		once.Do(func() { close(first) })
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sched.Run(ctx) }()

	select {
	case <-first:
	case <-time.After(5 * time.Second):
		t.Fatal("first tick did not run")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, 1, h.store.Len("1.1.1.1"))
}

func TestRun_SuspendedDoesNoWork(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.sched.SetSuspended(true)
	require.True(t, h.sched.Suspended())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sched.Run(ctx) }()

	h.clock.Add(5 * time.Second)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Zero(t, h.store.Len("1.1.1.1"))
}
