package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nozo-moto/pingzilla/internal/events"
	"github.com/nozo-moto/pingzilla/internal/logging"
	"github.com/nozo-moto/pingzilla/internal/notify"
	"github.com/nozo-moto/pingzilla/internal/tray"
	"github.com/nozo-moto/pingzilla/pkg/types"
	"golang.org/x/sync/errgroup"
)

const suspendedPoll = time.Second

type Prober interface {
	Probe(ctx context.Context, target string) types.ProbeResult
}

type SiteChecker interface {
	CheckAll(ctx context.Context) bool
	Statuses() []types.SiteStatus
}

type IdentityChecker interface {
	CheckOnce(ctx context.Context, manual bool) (*types.NetworkChangeEvent, error)
}

type Appender interface {
	Append(target string, sample types.Sample)
}

// Flusher hands a save off to a background worker. It must not block.
type Flusher interface {
	Flush() bool
}

type FlushFunc func() bool

func (f FlushFunc) Flush() bool { return f() }

// TickState is the per-tick copy of the mutable settings the loop reads.
type TickState struct {
	Targets         []string
	Primary         string
	Interval        time.Duration
	ThresholdMs     uint32
	DisplayMode     types.DisplayMode
	IdentityEnabled bool
	IdentityEvery   time.Duration
}

// StateSource returns a consistent copy of the settings; it is called once
// at the start of each tick.
type StateSource interface {
	TickState() TickState
}

type Options struct {
	State    StateSource
	Prober   Prober
	History  Appender
	Sites    SiteChecker
	Identity IdentityChecker
	Flusher  Flusher
	Renderer tray.Renderer
	Gate     *notify.Gate
	Notifier notify.Notifier
	Events   events.Sink
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Scheduler drives probing and the slower periodic jobs from one loop.
type Scheduler struct {
	opts   Options
	logger *slog.Logger
	clock  clock.Clock

	suspended atomic.Bool

	// owned by the loop goroutine
	lastRender *types.TrayRenderState

	siteBusy     atomic.Bool
	identityBusy atomic.Bool
	jobs         sync.WaitGroup
}

func New(opts Options) *Scheduler {
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Gate == nil {
		opts.Gate = notify.NewGate(nil)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		opts:   opts,
		logger: logging.Component(opts.Logger, "scheduler"),
		clock:  clk,
	}
}

// SetSuspended gates the start of new ticks. An in-flight tick finishes.
func (s *Scheduler) SetSuspended(v bool) {
	if s.suspended.Swap(v) != v {
		s.logger.Info("scheduler state changed", "suspended", v)
	}
}

func (s *Scheduler) Suspended() bool {
	return s.suspended.Load()
}

// Run ticks until ctx is cancelled. The sleep follows the work, so a slow
// tick delays the next one instead of piling up missed ticks.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started")
	defer s.jobs.Wait()

	var tick uint64
	for {
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopped")
			return nil
		}
		if s.suspended.Load() {
			s.sleep(ctx, suspendedPoll)
			continue
		}

		tick++
		st := s.Tick(ctx, tick)
		s.sleep(ctx, st.Interval)
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = suspendedPoll
	}
	select {
	case <-ctx.Done():
	case <-s.clock.After(d):
	}
}

// Tick runs one iteration and returns the settings it used.
func (s *Scheduler) Tick(ctx context.Context, tick uint64) TickState {
	st := s.opts.State.TickState()

	s.probeAll(ctx, st)

	cad := NewCadence(st.Interval, st.IdentityEvery)
	if s.opts.Sites != nil && cad.SiteDue(tick) {
		s.startSites(ctx)
	}
	if s.opts.Identity != nil && st.IdentityEnabled && cad.IdentityDue(tick) {
		s.startIdentity(ctx)
	}
	if s.opts.Flusher != nil && cad.PersistDue(tick) {
		s.opts.Flusher.Flush()
	}
	return st
}

func (s *Scheduler) probeAll(ctx context.Context, st TickState) {
	if len(st.Targets) == 0 {
		return
	}

	results := make([]types.ProbeResult, len(st.Targets))
	stamps := make([]time.Time, len(st.Targets))

	var g errgroup.Group
	g.SetLimit(len(st.Targets))
	for i, target := range st.Targets {
		i, target := i, target
		g.Go(func() error {
			stamps[i] = s.clock.Now()
			results[i] = s.opts.Prober.Probe(ctx, target)
			return nil
		})
	}
	_ = g.Wait()

	for i, target := range st.Targets {
		sample := types.Sample{
			Timestamp: stamps[i],
			LatencyMs: results[i].LatencyMs,
			Target:    target,
			Method:    results[i].Method,
		}
		if sample.Failed() {
			s.logger.Debug("probe failed", "target", target)
		}
		if s.opts.History != nil {
			s.opts.History.Append(target, sample)
		}
		s.opts.Events.SampleProduced(sample)

		if target == st.Primary {
			s.renderIfChanged(sample, st.DisplayMode)
			s.checkLatency(sample, st.ThresholdMs)
		}
	}
}

func (s *Scheduler) renderIfChanged(sample types.Sample, mode types.DisplayMode) {
	state := tray.Render(&sample, mode)
	if s.lastRender != nil && *s.lastRender == state {
		return
	}
	s.lastRender = &state
	if s.opts.Renderer != nil {
		s.opts.Renderer.Render(state)
	}
}

func (s *Scheduler) checkLatency(sample types.Sample, thresholdMs uint32) {
	if sample.LatencyMs == nil || *sample.LatencyMs <= float64(thresholdMs) {
		return
	}
	if !s.opts.Gate.ShouldNotify(notify.CategoryHighLatency, sample.Timestamp) {
		return
	}
	if s.opts.Notifier == nil {
		return
	}
	s.opts.Notifier.Notify(notify.Alert{
		Timestamp: sample.Timestamp,
		Category:  notify.CategoryHighLatency,
		Severity:  notify.SeverityWarning,
		Title:     "PingZilla Alert",
		Body:      fmt.Sprintf("High latency detected: %.0fms to %s", *sample.LatencyMs, sample.Target),
	})
}

// startSites sweeps the site list in the background. A sweep still running
// from an earlier tick causes this one to be skipped.
func (s *Scheduler) startSites(ctx context.Context) {
	if !s.siteBusy.CompareAndSwap(false, true) {
		s.logger.Debug("site sweep still running, skipping")
		return
	}
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer s.siteBusy.Store(false)

		if s.opts.Sites.CheckAll(ctx) {
			s.opts.Events.SiteStatusesChanged(s.opts.Sites.Statuses())
		}
	}()
}

func (s *Scheduler) startIdentity(ctx context.Context) {
	if !s.identityBusy.CompareAndSwap(false, true) {
		s.logger.Debug("identity check still running, skipping")
		return
	}
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer s.identityBusy.Store(false)

		if _, err := s.opts.Identity.CheckOnce(ctx, false); err != nil {
			s.logger.Debug("background identity check failed", "err", err)
		}
	}()
}

// Wait blocks until background site and identity jobs have finished.
func (s *Scheduler) Wait() {
	s.jobs.Wait()
}
