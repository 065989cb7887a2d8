package ui

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gdamore/tcell/v2"
	"github.com/nozo-moto/pingzilla/internal/logging"
	"github.com/nozo-moto/pingzilla/internal/notify"
	"github.com/nozo-moto/pingzilla/pkg/types"
	"github.com/rivo/tview"
)

const (
	pageMain    = "main"
	pageHistory = "history"

	statsWindowMinutes = 5
	graphHeight        = 8
	graphWidth         = 90
)

// Refresh intervals while the history window is shown and while only the
// summary is on screen.
const (
	VisibleRefresh = time.Second
	HiddenRefresh  = 5 * time.Second
)

// Backend is the subset of engine operations the dashboard drives.
type Backend interface {
	Targets() []string
	Primary() string
	SetPrimary(target string) error
	CurrentSample(target string) (types.Sample, bool)
	History(target string) []types.Sample
	Stats(target string, windowMinutes int) types.Statistics
	Settings() types.Settings
	SetDisplayMode(mode types.DisplayMode) error
	SiteStatuses() []types.SiteStatus
	PublicIP(ctx context.Context, force bool) (types.IPInfo, error)
	NetworkStability() types.NetworkStability
	NetworkEvents() []types.NetworkChangeEvent
	AcknowledgeNetworkAlert(id string) error
	SetWindowVisible(visible bool)
	WindowVisible() bool
	SetSuspended(suspended bool)
	Suspended() bool
}

// Dashboard is the terminal collaborator. It draws the tray state, shows
// alerts and reacts to engine events, so it is a tray.Renderer, a
// notify.Notifier and an events.Sink at once.
type Dashboard struct {
	app     *tview.Application
	backend Backend
	clock   clock.Clock
	logger  *slog.Logger

	pages        *tview.Pages
	headerView   *tview.TextView
	targetsView  *tview.TextView
	graphView    *tview.TextView
	sitesView    *tview.TextView
	identityView *tview.TextView
	alertsView   *tview.TextView
	helpView     *tview.TextView

	historyView *HistoryView

	mu       sync.Mutex
	tray     types.TrayRenderState
	alerts   []notify.Alert
	identity *types.IPInfo
	ctx      context.Context

	dirty chan struct{}
}

// NewDashboard builds the views. The engine that backs them is attached
// afterwards because it needs the dashboard as its renderer and notifier.
func NewDashboard(clk clock.Clock, logger *slog.Logger) *Dashboard {
	if clk == nil {
		clk = clock.New()
	}
	app := tview.NewApplication()
	d := &Dashboard{
		app:     app,
		clock:   clk,
		logger:  logging.Component(logger, "ui"),
		pages:   tview.NewPages(),
		tray:    types.TrayRenderState{Icon: types.IconDead, Label: "..."},
		ctx:     context.Background(),
		dirty:   make(chan struct{}, 1),
	}
	d.historyView = NewHistoryView()
	d.setupUI()
	return d
}

// Attach sets the backend. It must be called before Run.
func (d *Dashboard) Attach(b Backend) {
	d.backend = b
}

// Render implements tray.Renderer.
func (d *Dashboard) Render(s types.TrayRenderState) {
	d.mu.Lock()
	d.tray = s
	d.mu.Unlock()
	d.poke()
}

// Notify implements notify.Notifier.
func (d *Dashboard) Notify(a notify.Alert) {
	d.mu.Lock()
	d.alerts = append(d.alerts, a)
	if len(d.alerts) > maxAlertLines {
		d.alerts = d.alerts[len(d.alerts)-maxAlertLines:]
	}
	d.mu.Unlock()
	d.poke()
}

func (d *Dashboard) SampleProduced(types.Sample) {
	d.poke()
}

func (d *Dashboard) SiteStatusesChanged([]types.SiteStatus) {
	d.poke()
}

func (d *Dashboard) NetworkChanged(ev types.NetworkChangeEvent) {
	cur := ev.Current
	d.mu.Lock()
	d.identity = &cur
	d.mu.Unlock()
	d.poke()
}

// poke schedules a redraw without blocking the caller.
func (d *Dashboard) poke() {
	select {
	case d.dirty <- struct{}{}:
	default:
	}
}

// Run blocks until the user quits or ctx is cancelled.
func (d *Dashboard) Run(ctx context.Context) error {
	if d.backend == nil {
		return errors.New("dashboard has no backend attached")
	}
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go d.refreshLoop(ctx)
	go func() {
		<-ctx.Done()
		d.app.Stop()
	}()
	return d.app.Run()
}

func (d *Dashboard) setupUI() {
	d.headerView = newPanel(" PingZilla ")
	d.headerView.SetTextAlign(tview.AlignCenter)
	d.targetsView = newPanel(" Targets ")
	d.graphView = newPanel(" Primary Latency ")
	d.sitesView = newPanel(" Sites ")
	d.identityView = newPanel(" Network Identity ")
	d.alertsView = newPanel(" Alerts ")

	d.helpView = tview.NewTextView().SetDynamicColors(true)
	d.helpView.SetText("[gray]q quit  m display mode  n next primary  r refresh IP  a acknowledge  p pause  h history[white]")

	leftColumn := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.targetsView, 0, 1, false).
		AddItem(d.graphView, graphHeight+3, 1, false)

	rightColumn := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.identityView, 0, 2, false).
		AddItem(d.sitesView, 0, 1, false)

	topSection := tview.NewFlex().
		AddItem(leftColumn, 0, 2, false).
		AddItem(rightColumn, 0, 1, false)

	mainFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.headerView, 3, 1, false).
		AddItem(topSection, 0, 1, false).
		AddItem(d.alertsView, maxAlertLines+2, 1, false).
		AddItem(d.helpView, 1, 1, false)

	d.pages.AddPage(pageMain, mainFlex, true, true)
	d.pages.AddPage(pageHistory, d.historyView.Primitive(), true, false)

	d.app.SetRoot(d.pages, true).SetInputCapture(d.handleKey)
}

func newPanel(title string) *tview.TextView {
	v := tview.NewTextView().SetDynamicColors(true)
	v.SetBorder(true).SetTitle(title)
	return v
}

func (d *Dashboard) handleKey(event *tcell.EventKey) *tcell.EventKey {
	currentPage, _ := d.pages.GetFrontPage()

	switch event.Key() {
	case tcell.KeyEsc:
		if currentPage == pageHistory {
			d.showHistory(false)
			return nil
		}
		d.app.Stop()
		return nil
	case tcell.KeyRune:
	default:
		return event
	}

	switch event.Rune() {
	case 'q':
		if currentPage == pageHistory {
			d.showHistory(false)
			return nil
		}
		d.app.Stop()
	case 'h':
		d.showHistory(currentPage != pageHistory)
	case 'm':
		d.cycleDisplayMode()
	case 'n':
		d.cyclePrimary()
	case 'r':
		go d.refreshIdentity()
	case 'a':
		d.acknowledgeLatest()
	case 'p':
		d.backend.SetSuspended(!d.backend.Suspended())
		d.poke()
	default:
		return event
	}
	return nil
}

func (d *Dashboard) showHistory(show bool) {
	if show {
		d.pages.SwitchToPage(pageHistory)
		d.app.SetFocus(d.historyView.targetList)
	} else {
		d.pages.SwitchToPage(pageMain)
	}
	d.backend.SetWindowVisible(show)
	d.poke()
}

func (d *Dashboard) cycleDisplayMode() {
	mode := nextDisplayMode(d.backend.Settings().DisplayMode)
	if err := d.backend.SetDisplayMode(mode); err != nil {
		d.logger.Warn("set display mode", "mode", mode, "err", err)
		return
	}
	d.poke()
}

func (d *Dashboard) cyclePrimary() {
	next, ok := nextTarget(d.backend.Targets(), d.backend.Primary())
	if !ok {
		return
	}
	if err := d.backend.SetPrimary(next); err != nil {
		d.logger.Warn("set primary", "target", next, "err", err)
		return
	}
	d.poke()
}

func (d *Dashboard) refreshIdentity() {
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	info, err := d.backend.PublicIP(ctx, true)
	if err != nil {
		d.Notify(notify.Alert{
			Timestamp: d.clock.Now(),
			Category:  notify.CategoryVPN,
			Severity:  notify.SeverityInfo,
			Title:     "Public IP refresh failed",
			Body:      err.Error(),
		})
		return
	}
	d.mu.Lock()
	d.identity = &info
	d.mu.Unlock()
	d.poke()
}

func (d *Dashboard) acknowledgeLatest() {
	evs := d.backend.NetworkEvents()
	if len(evs) == 0 {
		return
	}
	if err := d.backend.AcknowledgeNetworkAlert(evs[len(evs)-1].ID); err != nil {
		d.logger.Warn("acknowledge network alert", "err", err)
	}
}

func (d *Dashboard) refreshInterval() time.Duration {
	if d.backend.WindowVisible() {
		return VisibleRefresh
	}
	return HiddenRefresh
}

func (d *Dashboard) refreshLoop(ctx context.Context) {
	for {
		view := d.collect()
		d.app.QueueUpdateDraw(func() {
			d.apply(view)
		})

		select {
		case <-ctx.Done():
			return
		case <-d.dirty:
		case <-d.clock.After(d.refreshInterval()):
		}
	}
}

// dashboardView is everything one redraw needs, gathered off the UI
// goroutine.
type dashboardView struct {
	now       time.Time
	tray      types.TrayRenderState
	primary   string
	suspended bool
	rows      []TargetRow
	graph     []types.Sample
	sites     []types.SiteStatus
	identity  *types.IPInfo
	stability types.NetworkStability
	events    []types.NetworkChangeEvent
	alerts    []notify.Alert
	history   HistoryData
	visible   bool
}

func (d *Dashboard) collect() dashboardView {
	b := d.backend
	v := dashboardView{
		now:       d.clock.Now(),
		primary:   b.Primary(),
		suspended: b.Suspended(),
		sites:     b.SiteStatuses(),
		stability: b.NetworkStability(),
		events:    b.NetworkEvents(),
		visible:   b.WindowVisible(),
	}
	v.rows = collectRows(b)
	v.graph = b.History(v.primary)

	d.mu.Lock()
	v.tray = d.tray
	v.alerts = append([]notify.Alert(nil), d.alerts...)
	if d.identity != nil {
		id := *d.identity
		v.identity = &id
	}
	d.mu.Unlock()

	if v.visible {
		v.history = collectHistory(b, d.historyView.Selected())
	}
	return v
}

func collectRows(b Backend) []TargetRow {
	primary := b.Primary()
	targets := b.Targets()
	rows := make([]TargetRow, 0, len(targets))
	for _, t := range targets {
		row := TargetRow{
			Target:  t,
			Primary: t == primary,
			Stats:   b.Stats(t, statsWindowMinutes),
		}
		if s, ok := b.CurrentSample(t); ok {
			row.Latest = &s
		}
		rows = append(rows, row)
	}
	return rows
}

func (d *Dashboard) apply(v dashboardView) {
	d.headerView.SetText(formatHeader(v.tray, v.primary, v.now, v.suspended))
	d.targetsView.SetText(formatTargets(v.rows, statsWindowMinutes))
	d.graphView.SetText(formatGraph(v.graph, graphWidth, graphHeight))
	d.sitesView.SetText(formatSites(v.sites))
	d.identityView.SetText(formatIdentity(v.identity, v.stability, v.events))
	d.alertsView.SetText(formatAlerts(v.alerts))
	if v.visible {
		d.historyView.Update(v.history)
	}
}
