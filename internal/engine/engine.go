package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nozo-moto/pingzilla/internal/config"
	"github.com/nozo-moto/pingzilla/internal/events"
	"github.com/nozo-moto/pingzilla/internal/history"
	"github.com/nozo-moto/pingzilla/internal/identity"
	"github.com/nozo-moto/pingzilla/internal/logging"
	"github.com/nozo-moto/pingzilla/internal/notify"
	"github.com/nozo-moto/pingzilla/internal/persist"
	"github.com/nozo-moto/pingzilla/internal/registry"
	"github.com/nozo-moto/pingzilla/internal/scheduler"
	"github.com/nozo-moto/pingzilla/internal/sites"
	"github.com/nozo-moto/pingzilla/internal/tray"
	"github.com/nozo-moto/pingzilla/pkg/types"
)

const DefaultStatsWindowMinutes = 5

var (
	ErrIntervalOutOfRange = fmt.Errorf("ping interval must be between %d and %d seconds", config.MinPingIntervalSecs, config.MaxPingIntervalSecs)
	ErrInvalidDisplayMode = errors.New("display mode must be IconOnly, PingOnly or IconAndPing")
	ErrUnknownEvent       = errors.New("network event not found")
)

type Options struct {
	Settings Settings
	Prober   scheduler.Prober
	History  *history.Store
	Sites    *sites.Monitor
	Identity *identity.Tracker
	// Gateway is optional. Without it the engine runs purely in memory.
	Gateway  *persist.Gateway
	Renderer tray.Renderer
	Gate     *notify.Gate
	Notifier notify.Notifier
	Events   events.Sink
	Clock    clock.Clock
	Logger   *slog.Logger
	// TargetRemoved is called after a target and its history are dropped.
	TargetRemoved func(target string)
}

// Engine owns the monitoring state and exposes the operations used by the
// UI collaborator. Each resource has its own lock; the scheduler reads a
// copy of everything at the start of a tick.
type Engine struct {
	mu            sync.RWMutex
	intervalSecs  uint32
	thresholdMs   uint32
	displayMode   types.DisplayMode
	windowVisible bool

	// members serializes target removal against the scheduler recording
	// samples, so a probe in flight cannot bring a removed target back.
	members  sync.Mutex
	targets  *registry.Registry
	history  *history.Store
	sites    *sites.Monitor
	identity *identity.Tracker
	gateway  *persist.Gateway
	sched    *scheduler.Scheduler

	clock         clock.Clock
	logger        *slog.Logger
	targetRemoved func(string)
}

// New builds an engine from opts.Settings overlaid with any persisted
// snapshot the gateway finds.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Prober == nil || opts.Sites == nil || opts.Identity == nil {
		return nil, errors.New("engine requires a prober, a site monitor and an identity tracker")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := logging.Component(opts.Logger, "engine")

	settings := opts.Settings
	var restored map[string][]types.Sample
	if opts.Gateway != nil {
		if snap, ok := opts.Gateway.Load(ctx); ok {
			settings = mergeSnapshot(settings, snap, logger)
			restored = snap.History
			logger.Info("restored persisted state", "targets", len(settings.Targets))
		}
	}

	if !validInterval(settings.PingIntervalSecs) {
		settings.PingIntervalSecs = config.DefaultPingIntervalSecs
	}
	if !settings.DisplayMode.Valid() {
		settings.DisplayMode = types.DisplayIconAndPing
	}
	if settings.VPN.CheckIntervalSecs == 0 {
		settings.VPN.CheckIntervalSecs = config.DefaultVPNCheckIntervalSecs
	}

	targets, err := registry.New(settings.Targets, settings.PrimaryTarget)
	if err != nil {
		return nil, fmt.Errorf("targets: %w", err)
	}
	if err := opts.Identity.SetSettings(settings.VPN); err != nil {
		return nil, fmt.Errorf("vpn settings: %w", err)
	}
	opts.Sites.Load(settings.SiteMonitors)

	hist := opts.History
	if hist == nil {
		hist = history.NewStore(history.DefaultCapacity, clk)
	}
	for target, samples := range restored {
		if targets.Contains(target) {
			hist.Replace(target, samples)
		}
	}

	e := &Engine{
		intervalSecs:  settings.PingIntervalSecs,
		thresholdMs:   settings.NotificationThresholdMs,
		displayMode:   settings.DisplayMode,
		targets:       targets,
		history:       hist,
		sites:         opts.Sites,
		identity:      opts.Identity,
		gateway:       opts.Gateway,
		clock:         clk,
		logger:        logger,
		targetRemoved: opts.TargetRemoved,
	}

	e.sched = scheduler.New(scheduler.Options{
		State:    e,
		Prober:   opts.Prober,
		History:  trackedHistory{e},
		Sites:    opts.Sites,
		Identity: opts.Identity,
		Flusher:  scheduler.FlushFunc(e.requestSave),
		Renderer: opts.Renderer,
		Gate:     opts.Gate,
		Notifier: opts.Notifier,
		Events:   trackedEvents{e: e, Sink: sinkOrDiscard(opts.Events)},
		Clock:    clk,
		Logger:   opts.Logger,
	})
	return e, nil
}

// Run starts the scheduler and the persistence worker and blocks until ctx
// is cancelled. A final snapshot is written on the way out.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if e.gateway != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.gateway.Run(ctx)
		}()
	}

	err := e.sched.Run(ctx)
	wg.Wait()

	if e.gateway != nil {
		if saveErr := e.gateway.Save(context.Background(), e.Snapshot()); saveErr != nil {
			e.logger.Warn("final save failed", "err", saveErr)
		}
	}
	return err
}

// TickState implements scheduler.StateSource.
func (e *Engine) TickState() scheduler.TickState {
	targets, primary := e.targets.Snapshot()
	vpn := e.identity.Settings()

	e.mu.RLock()
	defer e.mu.RUnlock()
	return scheduler.TickState{
		Targets:         targets,
		Primary:         primary,
		Interval:        time.Duration(e.intervalSecs) * time.Second,
		ThresholdMs:     e.thresholdMs,
		DisplayMode:     e.displayMode,
		IdentityEnabled: vpn.Enabled,
		IdentityEvery:   time.Duration(vpn.CheckIntervalSecs) * time.Second,
	}
}

// Snapshot captures the persisted state.
func (e *Engine) Snapshot() persist.Snapshot {
	targets, primary := e.targets.Snapshot()

	e.mu.RLock()
	interval, threshold, mode := e.intervalSecs, e.thresholdMs, e.displayMode
	e.mu.RUnlock()

	return persist.Snapshot{
		History:                 e.history.Snapshot(),
		Targets:                 targets,
		PrimaryTarget:           primary,
		NotificationThresholdMs: threshold,
		SiteMonitors:            e.sites.Configs(),
		VPNSettings:             e.identity.Settings(),
		PingIntervalSecs:        interval,
		DisplayMode:             mode,
	}
}

func (e *Engine) requestSave() bool {
	if e.gateway == nil {
		return false
	}
	return e.gateway.Submit(e.Snapshot)
}

func (e *Engine) resolveTarget(target string) string {
	if target == "" {
		return e.targets.Primary()
	}
	return target
}

// CurrentSample returns the newest sample for target, or for the primary
// target when target is empty.
func (e *Engine) CurrentSample(target string) (types.Sample, bool) {
	return e.history.Latest(e.resolveTarget(target))
}

func (e *Engine) History(target string) []types.Sample {
	return e.history.History(e.resolveTarget(target))
}

// Stats summarizes the last windowMinutes of target. A non-positive window
// means the default of five minutes.
func (e *Engine) Stats(target string, windowMinutes int) types.Statistics {
	if windowMinutes <= 0 {
		windowMinutes = DefaultStatsWindowMinutes
	}
	return e.history.Stats(e.resolveTarget(target), time.Duration(windowMinutes)*time.Minute)
}

func (e *Engine) Targets() []string {
	return e.targets.Targets()
}

func (e *Engine) AddTarget(target string) error {
	if err := e.targets.Add(target); err != nil {
		return err
	}
	e.logger.Info("target added", "target", target)
	e.requestSave()
	return nil
}

// RemoveTarget drops target and its history. The primary moves to another
// target when it is the one removed.
func (e *Engine) RemoveTarget(target string) error {
	target = strings.TrimSpace(target)
	e.members.Lock()
	if err := e.targets.Remove(target); err != nil {
		e.members.Unlock()
		return err
	}
	e.history.Remove(target)
	if e.targetRemoved != nil {
		e.targetRemoved(target)
	}
	e.members.Unlock()
	e.logger.Info("target removed", "target", target, "primary", e.targets.Primary())
	e.requestSave()
	return nil
}

func (e *Engine) Primary() string {
	return e.targets.Primary()
}

func (e *Engine) SetPrimary(target string) error {
	if err := e.targets.SetPrimary(target); err != nil {
		return err
	}
	e.requestSave()
	return nil
}

func (e *Engine) SetNotificationThreshold(ms uint32) {
	e.mu.Lock()
	e.thresholdMs = ms
	e.mu.Unlock()
	e.requestSave()
}

func (e *Engine) Settings() types.Settings {
	primary := e.targets.Primary()
	e.mu.RLock()
	defer e.mu.RUnlock()
	return types.Settings{
		PrimaryTarget:           primary,
		NotificationThresholdMs: e.thresholdMs,
		DisplayMode:             e.displayMode,
	}
}

func (e *Engine) SetDisplayMode(mode types.DisplayMode) error {
	if !mode.Valid() {
		return ErrInvalidDisplayMode
	}
	e.mu.Lock()
	e.displayMode = mode
	e.mu.Unlock()
	e.requestSave()
	return nil
}

func (e *Engine) PingInterval() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.intervalSecs
}

func (e *Engine) SetPingInterval(secs uint32) error {
	if !validInterval(secs) {
		return ErrIntervalOutOfRange
	}
	e.mu.Lock()
	e.intervalSecs = secs
	e.mu.Unlock()
	e.requestSave()
	return nil
}

// PublicIP returns the cached identity, fetching when the cache is stale
// or force is set. Fetch failures are returned to the caller.
func (e *Engine) PublicIP(ctx context.Context, force bool) (types.IPInfo, error) {
	return e.identity.Current(ctx, force)
}

func (e *Engine) SiteMonitors() []types.SiteMonitorConfig {
	return e.sites.Configs()
}

func (e *Engine) AddSiteMonitor(cfg types.SiteMonitorConfig) error {
	if err := e.sites.Add(cfg); err != nil {
		return err
	}
	e.requestSave()
	return nil
}

func (e *Engine) RemoveSiteMonitor(url string) error {
	if err := e.sites.Remove(url); err != nil {
		return err
	}
	e.requestSave()
	return nil
}

func (e *Engine) SiteStatuses() []types.SiteStatus {
	return e.sites.Statuses()
}

func (e *Engine) VPNSettings() types.VPNSettings {
	return e.identity.Settings()
}

func (e *Engine) SetVPNSettings(s types.VPNSettings) error {
	if err := e.identity.SetSettings(s); err != nil {
		return err
	}
	e.requestSave()
	return nil
}

func (e *Engine) NetworkStability() types.NetworkStability {
	return e.identity.Stability()
}

func (e *Engine) NetworkEvents() []types.NetworkChangeEvent {
	return e.identity.Events()
}

// AcknowledgeNetworkAlert records that the user dismissed an alert. It has
// no effect on the change log or counters.
func (e *Engine) AcknowledgeNetworkAlert(id string) error {
	ev, ok := e.identity.Event(id)
	if !ok {
		return ErrUnknownEvent
	}
	e.logger.Info("network alert acknowledged", "id", id, "type", ev.ChangeType)
	return nil
}

func (e *Engine) SetWindowVisible(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.windowVisible = v
}

func (e *Engine) WindowVisible() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.windowVisible
}

func (e *Engine) SetSuspended(v bool) {
	e.sched.SetSuspended(v)
}

func (e *Engine) Suspended() bool {
	return e.sched.Suspended()
}

func sinkOrDiscard(s events.Sink) events.Sink {
	if s == nil {
		return events.Discard{}
	}
	return s
}

// trackedHistory drops samples for targets that are no longer registered.
type trackedHistory struct{ e *Engine }

func (h trackedHistory) Append(target string, sample types.Sample) {
	h.e.members.Lock()
	defer h.e.members.Unlock()
	if h.e.targets.Contains(target) {
		h.e.history.Append(target, sample)
	}
}

// trackedEvents forwards everything, except that samples of removed targets
// are not published.
type trackedEvents struct {
	e *Engine
	events.Sink
}

func (t trackedEvents) SampleProduced(s types.Sample) {
	t.e.members.Lock()
	defer t.e.members.Unlock()
	if t.e.targets.Contains(s.Target) {
		t.Sink.SampleProduced(s)
	}
}
