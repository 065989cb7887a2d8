package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nozo-moto/pingzilla/internal/collector"
	"github.com/nozo-moto/pingzilla/internal/config"
	"github.com/nozo-moto/pingzilla/internal/engine"
	"github.com/nozo-moto/pingzilla/internal/events"
	"github.com/nozo-moto/pingzilla/internal/history"
	"github.com/nozo-moto/pingzilla/internal/identity"
	"github.com/nozo-moto/pingzilla/internal/logging"
	"github.com/nozo-moto/pingzilla/internal/metrics"
	"github.com/nozo-moto/pingzilla/internal/notify"
	"github.com/nozo-moto/pingzilla/internal/persist"
	"github.com/nozo-moto/pingzilla/internal/sites"
	"github.com/nozo-moto/pingzilla/internal/tray"
	"github.com/nozo-moto/pingzilla/internal/ui"
	"github.com/nozo-moto/pingzilla/pkg/types"
	"golang.org/x/sync/errgroup"
)

const logFileName = "pingzilla.log"

func main() {
	os.Exit(start(os.Args[1:]))
}

// start runs pingzilla and returns the process exit code once every
// deferred cleanup has run.
func start(args []string) int {
	fs := flag.NewFlagSet("pingzilla", flag.ContinueOnError)
	var (
		configPath    = fs.String("config", "", "path to a YAML config file")
		headless      = fs.Bool("headless", false, "run without the terminal dashboard")
		metricsListen = fs.String("metrics-listen", "", "address for the Prometheus endpoint, e.g. :9464")
		logLevel      = fs.String("log-level", "", "debug, info, warn or error")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Printf("load config: %v", err)
		return 1
	}
	if err := config.LoadEnv(&cfg); err != nil {
		log.Printf("load environment: %v", err)
		return 1
	}
	if *metricsListen != "" {
		cfg.MetricsListen = *metricsListen
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		log.Printf("invalid config: %v", err)
		return 1
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Printf("create data dir: %v", err)
		return 1
	}

	// The dashboard owns the terminal, so logs go to a file next to the data.
	var logOut io.Writer = os.Stderr
	if !*headless {
		f, err := os.OpenFile(filepath.Join(cfg.DataDir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			log.Printf("open log file: %v", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	logger := logging.Setup(logOut, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *headless, logger); err != nil {
		logger.Error("pingzilla stopped", "err", err)
		if !*headless {
			// The log file is not on screen once the dashboard is gone.
			log.Print(err)
		}
		return 1
	}
	return 0
}

func openStore(ctx context.Context, cfg config.Config) (persist.Store, error) {
	if cfg.Storage == config.StorageSQLite {
		return persist.OpenSQLite(ctx, filepath.Join(cfg.DataDir, persist.SQLiteName))
	}
	return persist.NewFileStore(cfg.DataDir), nil
}

func run(ctx context.Context, cfg config.Config, headless bool, logger *slog.Logger) error {
	clk := clock.New()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage, err)
	}
	gateway := persist.NewGateway(store, clk, logger)
	defer gateway.Close()

	collectors := metrics.NewCollector()

	var (
		dash     *ui.Dashboard
		renderer tray.Renderer
		sinks    = []events.Sink{collectors}
		alerters = []notify.Notifier{notify.LogNotifier{Logger: logging.Component(logger, "alerts")}, collectors}
	)
	if headless {
		trayLog := logging.Component(logger, "tray")
		renderer = tray.RendererFunc(func(s types.TrayRenderState) {
			trayLog.Debug("tray state", "icon", s.Icon, "label", s.Label)
		})
	} else {
		dash = ui.NewDashboard(clk, logger)
		renderer = dash
		sinks = append(sinks, dash)
		alerters = append(alerters, dash)
	}
	notifier := notify.Multi(alerters...)
	sink := events.Fanout(sinks...)
	gate := notify.NewGate(nil)

	netCollector := collector.NewNetworkCollector()
	stunServers := cfg.STUNServers
	if len(stunServers) == 0 {
		stunServers = identity.DefaultSTUNServers
	}
	tracker := identity.NewTracker(identity.Options{
		Source: identity.Chain(
			identity.NewHTTPSource(cfg.IdentityURLs),
			&identity.STUNSource{Servers: stunServers},
		),
		Gate:     gate,
		Notifier: notifier,
		Events:   sink,
		Clock:    clk,
		Logger:   logger,
		Settings: *cfg.VPN,
		CacheTTL: time.Duration(cfg.IdentityCacheTTLSecs) * time.Second,
		Tunnels:  netCollector.TunnelInterfaces,
	})

	monitor := sites.NewMonitor(sites.Options{
		Gate:     gate,
		Notifier: notifier,
		Clock:    clk,
		Logger:   logger,
	})
	collectors.WatchSites(monitor.Statuses)

	eng, err := engine.New(ctx, engine.Options{
		Settings:      engine.SettingsFromConfig(cfg),
		Prober:        collector.NewProber(),
		History:       history.NewStore(cfg.HistoryCapacity, clk),
		Sites:         monitor,
		Identity:      tracker,
		Gateway:       gateway,
		Renderer:      renderer,
		Gate:          gate,
		Notifier:      notifier,
		Events:        sink,
		Clock:         clk,
		Logger:        logger,
		TargetRemoved: collectors.ForgetTarget,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(ctx)
	})

	if cfg.MetricsListen != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           collectors.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.MetricsListen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if dash != nil {
		dash.Attach(eng)
		g.Go(func() error {
			// Quitting the dashboard stops everything else.
			err := dash.Run(ctx)
			if err == nil {
				err = errQuit
			}
			return err
		})
	}

	logger.Info("pingzilla started",
		"targets", len(eng.Targets()),
		"interval_secs", eng.PingInterval(),
		"storage", cfg.Storage,
		"headless", headless,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

var errQuit = errors.New("dashboard closed")
