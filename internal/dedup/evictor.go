package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"nftwatch/internal/clock"
	"nftwatch/internal/metrics"
)

// Evictor removes dedup records older than the retention horizon.
type Evictor struct {
	Store     Store
	Retention time.Duration
	Clock     clock.Clock
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	// AfterEvict runs after every successful pass, e.g. to persist a snapshot.
	AfterEvict func() error
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// RunOnce evicts records with an event time before now minus retention.
func (e *Evictor) RunOnce(ctx context.Context) (int, error) {
	now := time.Now()
	if e.Clock != nil {
		now = e.Clock.Now()
	}
	removed, err := e.Store.Evict(ctx, now.Add(-e.Retention))
	if err != nil {
		return 0, fmt.Errorf("evict dedup records: %w", err)
	}
	if e.Metrics != nil {
		e.Metrics.DedupEvicted.Add(float64(removed))
	}
	if e.AfterEvict != nil {
		if err := e.AfterEvict(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// Schedule starts a cron that runs RunOnce on expr until ctx is done.
// The returned cron is already started.
func (e *Evictor) Schedule(ctx context.Context, expr string) (*cron.Cron, error) {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse evict schedule %q: %w", expr, err)
	}

	c := cron.New(cron.WithParser(cronParser))
	c.Schedule(schedule, cron.FuncJob(func() {
		removed, err := e.RunOnce(ctx)
		if err != nil {
			logger.Warn("dedup eviction failed", zap.Error(err))
			return
		}
		logger.Debug("dedup eviction complete", zap.Int("removed", removed))
	}))
	c.Start()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}
