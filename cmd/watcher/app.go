package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"nftwatch/internal/chain"
	"nftwatch/internal/config"
	"nftwatch/internal/dedup"
	"nftwatch/internal/delivery"
	"nftwatch/internal/events"
	"nftwatch/internal/format"
	"nftwatch/internal/match"
	"nftwatch/internal/metrics"
	"nftwatch/internal/model"
	"nftwatch/internal/normalize"
	"nftwatch/internal/orchestrator"
	"nftwatch/internal/registry"
	"nftwatch/internal/source"
	"nftwatch/internal/storage"
	"nftwatch/internal/storage/postgres"
	"nftwatch/internal/storage/sqlite"
	"nftwatch/internal/transport"
	"nftwatch/internal/transport/telegram"
)

// app holds the collaborators shared by the run and tick commands.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	gatherer *prometheus.Registry
	metrics  *metrics.Metrics

	store    storage.Store
	registry *registry.Registry
	dedup    dedup.Store
	memory   *dedup.Memory
	adapters *source.Registry
	sink     events.Sink

	closers []func()
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.gatherer = prometheus.NewRegistry()
	a.gatherer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.gatherer)

	if a.store, err = openStore(ctx, cfg); err != nil {
		return a, err
	}
	a.closers = append(a.closers, func() { _ = a.store.Close() })

	if a.registry, err = registry.New(ctx, a.store, nil); err != nil {
		return a, fmt.Errorf("load subscriptions: %w", err)
	}

	if err = a.openDedup(ctx); err != nil {
		return a, err
	}
	if err = a.buildAdapters(ctx); err != nil {
		return a, err
	}
	a.sink = a.openSink()
	a.closers = append(a.closers, func() { _ = a.sink.Close() })

	logger.Info("watcher ready",
		zap.String("store", cfg.StoreDriver),
		zap.String("dedup", cfg.DedupDriver),
		zap.String("events_sink", cfg.EventsSink),
		zap.Strings("routes", a.adapters.Routes()),
		zap.Int("collections", len(a.registry.TrackedCollections())),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return storage.NewMemory(), nil
	case "postgres":
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, nil
	default:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, nil
	}
}

func (a *app) openDedup(ctx context.Context) error {
	if a.cfg.DedupDriver == "redis" {
		r := dedup.NewRedis(dedup.RedisOptions{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return fmt.Errorf("connect redis: %w", err)
		}
		a.dedup = r
		a.closers = append(a.closers, func() { _ = r.Close() })
		return nil
	}

	m := dedup.NewMemory()
	if a.cfg.DedupSnapshot != "" {
		loaded, err := m.Load(a.cfg.DedupSnapshot)
		if err != nil {
			return fmt.Errorf("load dedup snapshot: %w", err)
		}
		if loaded {
			a.logger.Info("dedup snapshot loaded", zap.String("path", a.cfg.DedupSnapshot), zap.Int("records", m.Len()))
		}
	}
	a.dedup = m
	a.memory = m
	a.closers = append(a.closers, func() {
		if err := a.saveSnapshot(); err != nil {
			a.logger.Warn("save dedup snapshot failed", zap.Error(err))
		}
	})
	return nil
}

func (a *app) saveSnapshot() error {
	if a.memory == nil || a.cfg.DedupSnapshot == "" {
		return nil
	}
	return a.memory.Save(a.cfg.DedupSnapshot)
}

func (a *app) buildAdapters(ctx context.Context) error {
	a.adapters = source.NewRegistry()

	if a.cfg.OpenSeaAPIKey != "" {
		sea := source.NewOpenSea(source.OpenSeaConfig{
			BaseURL:    a.cfg.OpenSeaURL,
			APIKey:     a.cfg.OpenSeaAPIKey,
			Limit:      a.cfg.PageLimit,
			Lookback:   a.cfg.Lookback,
			RatePerSec: a.cfg.SourceRate,
		})
		a.adapters.Register(model.ChainEthereum, model.MarketplaceOpenSea, sea)
		a.adapters.Register(model.ChainPolygon, model.MarketplaceOpenSea, sea)
	} else {
		a.logger.Warn("opensea api key not set, opensea collections will not be polled")
	}

	a.adapters.Register(model.ChainSolana, model.MarketplaceMagicEden, source.NewMagicEden(source.MagicEdenConfig{
		BaseURL:    a.cfg.MagicEdenURL,
		APIKey:     a.cfg.MagicEdenAPIKey,
		Limit:      a.cfg.PageLimit,
		RatePerSec: a.cfg.SourceRate,
	}))

	rpcs := []struct {
		chain model.Chain
		url   string
	}{
		{model.ChainEthereum, a.cfg.EthRPC},
		{model.ChainPolygon, a.cfg.PolygonRPC},
	}
	for _, rpc := range rpcs {
		if rpc.url == "" {
			continue
		}
		client, err := chain.NewClient(ctx, rpc.url)
		if err != nil {
			return fmt.Errorf("connect %s rpc: %w", rpc.chain, err)
		}
		a.closers = append(a.closers, client.Close)
		a.adapters.Register(rpc.chain, model.MarketplaceOnchain, source.NewOnchain(client, source.OnchainConfig{
			Chain:          rpc.chain,
			LookbackBlocks: a.cfg.OnchainLookbackBlocks,
			BatchBlocks:    a.cfg.OnchainBatchBlocks,
			RatePerSec:     a.cfg.SourceRate,
		}))
	}
	return nil
}

func (a *app) openSink() events.Sink {
	switch a.cfg.EventsSink {
	case "jsonl":
		return events.NewJSONL(a.cfg.EventsOut)
	case "kafka":
		return events.NewKafka(events.KafkaConfig{Brokers: a.cfg.KafkaBrokers, Topic: a.cfg.KafkaTopic}, a.logger)
	default:
		return events.Nop{}
	}
}

func (a *app) newScheduler(sender transport.Sender) *delivery.Scheduler {
	formatter := format.Formatter{Names: func(id model.CollectionID) string {
		if c, ok := a.registry.Collection(id); ok {
			return c.DisplayName()
		}
		return ""
	}}
	return delivery.NewScheduler(delivery.Config{
		TenMinutes:       a.cfg.CadenceTenMinutes,
		Hourly:           a.cfg.CadenceHourly,
		FlushInterval:    a.cfg.FlushInterval,
		MaxRetries:       a.cfg.DeliveryRetries,
		Workers:          a.cfg.DeliveryWorkers,
		RatePerSec:       a.cfg.DeliveryRate,
		MaxMessageLength: telegram.MaxMessageLength,
	}, sender, delivery.Options{
		Logger:  a.logger.Named("delivery"),
		Metrics: a.metrics,
		Format:  formatter.Batch,
	})
}

func (a *app) newOrchestrator(queue orchestrator.Queue) (*orchestrator.Orchestrator, error) {
	orch, err := orchestrator.New(orchestrator.Config{
		Lookback:       a.cfg.Lookback,
		FetchTimeout:   a.cfg.FetchTimeout,
		MaxConcurrency: a.cfg.MaxConcurrency,
		DedupRetries:   2,
	}, orchestrator.Dependencies{
		Collections: a.registry,
		Adapters:    a.adapters,
		Normalizer:  normalize.Default(),
		Dedup:       a.dedup,
		Matcher:     match.NewEngine(a.registry),
		Queue:       queue,
	}, orchestrator.Options{
		Logger:  a.logger.Named("poll"),
		Metrics: a.metrics,
		Sink:    a.sink,
	})
	if err != nil {
		return nil, err
	}

	for _, err := range orch.CheckRoutes() {
		var cfgErr *source.ConfigurationError
		if errors.As(err, &cfgErr) {
			a.logger.Warn("tracked route has no adapter",
				zap.String("chain", string(cfgErr.Chain)),
				zap.String("marketplace", string(cfgErr.Marketplace)),
			)
		}
	}
	return orch, nil
}

func (a *app) evictor() *dedup.Evictor {
	return &dedup.Evictor{
		Store:      a.dedup,
		Retention:  a.cfg.DedupRetention,
		Logger:     a.logger.Named("dedup"),
		Metrics:    a.metrics,
		AfterEvict: a.saveSnapshot,
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// preferenceSync keeps the scheduler's cadence in step with saved preferences.
type preferenceSync struct {
	*registry.Registry
	scheduler *delivery.Scheduler
}

func (p preferenceSync) SetPreferences(ctx context.Context, userID int64, prefs model.Preferences) error {
	if err := p.Registry.SetPreferences(ctx, userID, prefs); err != nil {
		return err
	}
	p.scheduler.SetCadence(userID, prefs.Cadence)
	return nil
}
