package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nftwatch/internal/clock"
	"nftwatch/internal/dedup"
	"nftwatch/internal/events"
	"nftwatch/internal/match"
	"nftwatch/internal/metrics"
	"nftwatch/internal/model"
	"nftwatch/internal/retry"
	"nftwatch/internal/source"
)

// Config holds the polling settings.
type Config struct {
	Lookback       time.Duration
	FetchTimeout   time.Duration
	MaxConcurrency int
	// DedupRetries bounds retries of a failed dedup store call.
	DedupRetries int
	DedupBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Lookback <= 0 {
		c.Lookback = 30 * time.Minute
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 4
	}
	if c.DedupRetries < 0 {
		c.DedupRetries = 0
	}
	if c.DedupBackoff <= 0 {
		c.DedupBackoff = 50 * time.Millisecond
	}
	return c
}

// Tracker lists the collections that currently have subscribers.
type Tracker interface {
	TrackedCollections() []model.Collection
}

// Adapters resolves a collection route to its source adapter.
type Adapters interface {
	Lookup(id model.CollectionID) (source.Adapter, error)
}

type Normalizer interface {
	Normalize(collection model.Collection, raw model.RawTransaction) (*model.TransactionEvent, error)
}

type Matcher interface {
	Match(event model.TransactionEvent) []match.Match
}

// Queue accepts matches for delivery.
type Queue interface {
	Enqueue(m match.Match) bool
}

// Dependencies are the required collaborators of an Orchestrator.
type Dependencies struct {
	Collections Tracker
	Adapters    Adapters
	Normalizer  Normalizer
	Dedup       dedup.Store
	Matcher     Matcher
	Queue       Queue
}

// Options carries the optional collaborators.
type Options struct {
	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Sink    events.Sink
}

// TickReport summarizes one polling tick.
type TickReport struct {
	Collections  int
	Polled       int
	Failed       int
	RateLimited  int
	InFlight     int
	Unconfigured int

	Raw        int
	New        int
	Duplicates int
	Stale      int
	Dropped    int
	Ignored    int
	Matches    int
	Enqueued   int
}

func (r *TickReport) add(o TickReport) {
	r.Polled += o.Polled
	r.Failed += o.Failed
	r.RateLimited += o.RateLimited
	r.Raw += o.Raw
	r.New += o.New
	r.Duplicates += o.Duplicates
	r.Stale += o.Stale
	r.Dropped += o.Dropped
	r.Ignored += o.Ignored
	r.Matches += o.Matches
	r.Enqueued += o.Enqueued
}

// Orchestrator drives periodic polling of every tracked collection and feeds
// new events through normalization, dedup and matching into the delivery queue.
type Orchestrator struct {
	cfg     Config
	deps    Dependencies
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
	sink    events.Sink

	inflight sync.Map // model.CollectionID -> struct{}
	reported sync.Map // route string -> struct{}
}

func New(cfg Config, deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Collections == nil:
		return nil, fmt.Errorf("collection tracker is nil")
	case deps.Adapters == nil:
		return nil, fmt.Errorf("adapter registry is nil")
	case deps.Normalizer == nil:
		return nil, fmt.Errorf("normalizer is nil")
	case deps.Dedup == nil:
		return nil, fmt.Errorf("dedup store is nil")
	case deps.Matcher == nil:
		return nil, fmt.Errorf("matcher is nil")
	case deps.Queue == nil:
		return nil, fmt.Errorf("delivery queue is nil")
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewUnregistered()
	}
	if opts.Sink == nil {
		opts.Sink = events.Nop{}
	}
	return &Orchestrator{
		cfg:     cfg.withDefaults(),
		deps:    deps,
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		sink:    opts.Sink,
	}, nil
}

// CheckRoutes returns one ConfigurationError per tracked route without an adapter.
func (o *Orchestrator) CheckRoutes() []error {
	var errs []error
	seen := make(map[string]struct{})
	for _, c := range o.deps.Collections.TrackedCollections() {
		if _, err := o.deps.Adapters.Lookup(c.ID); err != nil {
			key := routeKey(c.ID)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			errs = append(errs, err)
		}
	}
	return errs
}

// Run ticks immediately and then every interval until ctx is done. Ticks that
// overlap a still-running pipeline skip that collection.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be greater than zero")
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	tick := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Tick(ctx)
		}()
	}

	tick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick()
		}
	}
}

// Tick polls every tracked collection once. Failures are isolated to their
// collection and never abort the tick.
func (o *Orchestrator) Tick(ctx context.Context) TickReport {
	started := time.Now()
	collections := o.deps.Collections.TrackedCollections()
	report := TickReport{Collections: len(collections)}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.MaxConcurrency)

	for _, collection := range collections {
		adapter, err := o.deps.Adapters.Lookup(collection.ID)
		if err != nil {
			o.reportConfiguration(collection.ID, err)
			report.Unconfigured++
			continue
		}
		if _, busy := o.inflight.LoadOrStore(collection.ID, struct{}{}); busy {
			o.logger.Debug("collection still in flight", zap.String("collection", collection.ID.String()))
			report.InFlight++
			continue
		}

		collection := collection
		g.Go(func() error {
			defer o.inflight.Delete(collection.ID)
			result := o.poll(ctx, collection, adapter)
			mu.Lock()
			report.add(result)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	o.metrics.TickDuration.Observe(time.Since(started).Seconds())
	o.logger.Info("tick complete",
		zap.Int("collections", report.Collections),
		zap.Int("polled", report.Polled),
		zap.Int("failed", report.Failed),
		zap.Int("rate_limited", report.RateLimited),
		zap.Int("events", report.New),
		zap.Int("matches", report.Matches),
		zap.Duration("elapsed", time.Since(started)),
	)
	return report
}

func (o *Orchestrator) reportConfiguration(id model.CollectionID, err error) {
	if _, done := o.reported.LoadOrStore(routeKey(id), struct{}{}); done {
		return
	}
	var cfgErr *source.ConfigurationError
	if errors.As(err, &cfgErr) {
		o.logger.Error("route not configured, skipping its collections",
			zap.String("chain", string(cfgErr.Chain)),
			zap.String("marketplace", string(cfgErr.Marketplace)),
		)
		return
	}
	o.logger.Error("adapter lookup failed", zap.String("collection", id.String()), zap.Error(err))
}

// poll runs the pipeline of one collection in adapter order.
func (o *Orchestrator) poll(ctx context.Context, collection model.Collection, adapter source.Adapter) TickReport {
	var r TickReport
	id := collection.ID
	logger := o.logger.With(zap.String("collection", id.String()))

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	fetchStarted := time.Now()
	raws, err := adapter.Fetch(fetchCtx, collection)
	cancel()
	o.metrics.FetchDuration.WithLabelValues(string(id.Chain), string(id.Marketplace)).Observe(time.Since(fetchStarted).Seconds())
	if err != nil {
		o.metrics.FetchTotal.WithLabelValues(string(id.Chain), string(id.Marketplace), fetchOutcome(err)).Inc()
		if source.IsRateLimited(err) {
			logger.Info("rate limited, retrying next tick", zap.Error(err))
			r.RateLimited = 1
			return r
		}
		logger.Warn("fetch failed", zap.Error(err))
		r.Failed = 1
		return r
	}
	o.metrics.FetchTotal.WithLabelValues(string(id.Chain), string(id.Marketplace), metrics.FetchOK).Inc()
	r.Polled = 1
	r.Raw = len(raws)

	horizon := o.clock.Now().Add(-o.cfg.Lookback)
	var fresh []model.TransactionEvent
	for _, raw := range raws {
		ev, err := o.deps.Normalizer.Normalize(collection, raw)
		if err != nil {
			logger.Debug("drop record", zap.String("source", raw.Source), zap.Error(err))
			o.metrics.EventsTotal.WithLabelValues(metrics.EventDropped).Inc()
			r.Dropped++
			continue
		}
		if ev == nil {
			o.metrics.EventsTotal.WithLabelValues(metrics.EventIgnored).Inc()
			r.Ignored++
			continue
		}
		if ev.Timestamp.Before(horizon) {
			o.metrics.EventsTotal.WithLabelValues(metrics.EventStale).Inc()
			r.Stale++
			continue
		}

		isNew, err := o.isNew(ctx, id, ev.ID)
		if err != nil {
			// Unchecked events are still inside the lookback window next tick.
			logger.Warn("dedup lookup failed", zap.String("event_id", ev.ID), zap.Error(err))
			r.Failed = 1
			break
		}
		if !isNew {
			o.metrics.EventsTotal.WithLabelValues(metrics.EventDuplicate).Inc()
			r.Duplicates++
			continue
		}
		if err := o.markSeen(ctx, id, ev.ID, ev.Timestamp); err != nil {
			logger.Warn("dedup mark failed", zap.String("event_id", ev.ID), zap.Error(err))
			r.Failed = 1
			break
		}

		o.metrics.EventsTotal.WithLabelValues(metrics.EventNew).Inc()
		r.New++
		fresh = append(fresh, *ev)

		for _, m := range o.deps.Matcher.Match(*ev) {
			r.Matches++
			if o.deps.Queue.Enqueue(m) {
				r.Enqueued++
			}
		}
	}
	o.metrics.MatchesTotal.Add(float64(r.Matches))

	if len(fresh) > 0 {
		if err := o.sink.Publish(ctx, fresh); err != nil {
			logger.Warn("publish events failed", zap.Int("events", len(fresh)), zap.Error(err))
		}
	}
	if r.New > 0 || r.Dropped > 0 {
		logger.Debug("collection polled",
			zap.Int("raw", r.Raw),
			zap.Int("events", r.New),
			zap.Int("duplicates", r.Duplicates),
			zap.Int("dropped", r.Dropped),
			zap.Int("matches", r.Matches),
		)
	}
	return r
}

func (o *Orchestrator) isNew(ctx context.Context, id model.CollectionID, eventID string) (bool, error) {
	var isNew bool
	err := retry.Do(ctx, o.cfg.DedupRetries, o.cfg.DedupBackoff, func(ctx context.Context) error {
		var err error
		isNew, err = o.deps.Dedup.IsNew(ctx, id, eventID)
		return err
	})
	return isNew, err
}

func (o *Orchestrator) markSeen(ctx context.Context, id model.CollectionID, eventID string, at time.Time) error {
	return retry.Do(ctx, o.cfg.DedupRetries, o.cfg.DedupBackoff, func(ctx context.Context) error {
		return o.deps.Dedup.MarkSeen(ctx, id, eventID, at)
	})
}

func fetchOutcome(err error) string {
	var fe *source.FetchError
	if errors.As(err, &fe) {
		return fe.Kind.String()
	}
	return source.FetchNetwork.String()
}

func routeKey(id model.CollectionID) string {
	return string(id.Chain) + "/" + string(id.Marketplace)
}
