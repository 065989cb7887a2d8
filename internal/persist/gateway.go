package persist

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nozo-moto/pingzilla/internal/logging"
)

const writeTimeout = 10 * time.Second

// Gateway loads and saves snapshots. Failures are logged and swallowed so
// the engine keeps running in memory.
type Gateway struct {
	store  Store
	clock  clock.Clock
	logger *slog.Logger
	queue  chan func() Snapshot
}

func NewGateway(store Store, clk clock.Clock, logger *slog.Logger) *Gateway {
	if clk == nil {
		clk = clock.New()
	}
	return &Gateway{
		store:  store,
		clock:  clk,
		logger: logging.Component(logger, "persist"),
		queue:  make(chan func() Snapshot, 1),
	}
}

// Load returns the stored snapshot and whether one was found. A missing or
// unreadable document yields an empty snapshot.
func (g *Gateway) Load(ctx context.Context) (Snapshot, bool) {
	data, err := g.store.Read(ctx)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			g.logger.Warn("failed to read snapshot, starting empty", "err", err)
		}
		return Snapshot{}, false
	}

	s, err := Decode(data, g.clock.Now())
	if err != nil {
		g.logger.Warn("failed to decode snapshot, starting empty", "err", err)
		return Snapshot{}, false
	}
	return s, true
}

// Save encodes and writes s synchronously.
func (g *Gateway) Save(ctx context.Context, s Snapshot) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return g.store.Write(ctx, data)
}

// Submit queues a save for the worker without blocking. The snapshot is
// taken when the worker picks the job up, and a job submitted while
// another is still queued is dropped since the queued one will capture the
// newer state anyway.
func (g *Gateway) Submit(snapshot func() Snapshot) bool {
	select {
	case g.queue <- snapshot:
		return true
	default:
		g.logger.Debug("save already pending, skipping")
		return false
	}
}

// Run drains queued saves until ctx is done, then flushes anything still
// queued.
func (g *Gateway) Run(ctx context.Context) {
	for {
		select {
		case job := <-g.queue:
			g.save(ctx, job())
		case <-ctx.Done():
			select {
			case job := <-g.queue:
				g.save(context.Background(), job())
			default:
			}
			return
		}
	}
}

func (g *Gateway) save(ctx context.Context, s Snapshot) {
	if err := g.Save(ctx, s); err != nil {
		g.logger.Warn("failed to save snapshot", "err", err)
		return
	}
	g.logger.Debug("snapshot saved", "targets", len(s.Targets))
}

func (g *Gateway) Close() error {
	return g.store.Close()
}
