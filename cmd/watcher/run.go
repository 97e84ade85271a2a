package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nftwatch/internal/config"
	"nftwatch/internal/metrics"
	"nftwatch/internal/transport"
	"nftwatch/internal/transport/telegram"
)

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func runWatcher(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.TelegramToken == "" {
		return fmt.Errorf("telegram token is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	bot, err := telegram.New(telegram.Config{Token: cfg.TelegramToken, PollTimeout: cfg.TelegramPollTimeout}, logger.Named("telegram"))
	if err != nil {
		return err
	}

	scheduler := a.newScheduler(bot)
	orch, err := a.newOrchestrator(scheduler)
	if err != nil {
		return err
	}
	commands := telegram.NewCommands(preferenceSync{Registry: a.registry, scheduler: scheduler}, a.adapters, logger.Named("commands"))

	if _, err := a.evictor().Schedule(ctx, cfg.DedupEvictSchedule); err != nil {
		return err
	}

	logger.Info("watcher start",
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Duration("lookback", cfg.Lookback),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(gctx, cfg.PollInterval)
	})
	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		bot.Serve(gctx, commands)
		return nil
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.MetricsAddr, metrics.Handler(a.gatherer))
		})
	}

	err = g.Wait()

	// Drain whatever is pending so a restart does not lose matched alerts,
	// even batches whose cadence window is still open.
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	report := scheduler.FlushAll(drainCtx)
	logger.Info("watcher stopped", zap.Int("drained_batches", report.Sent), zap.Int("terminal", report.Terminal))
	return err
}

func runTick(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var sender transport.Sender = transport.NewLogSender(logger.Named("alerts"))
	if cfg.TelegramToken != "" {
		bot, err := telegram.New(telegram.Config{Token: cfg.TelegramToken, PollTimeout: cfg.TelegramPollTimeout}, logger.Named("telegram"))
		if err != nil {
			return err
		}
		sender = bot
	}

	scheduler := a.newScheduler(sender)
	orch, err := a.newOrchestrator(scheduler)
	if err != nil {
		return err
	}

	tick := orch.Tick(ctx)
	flush := scheduler.FlushAll(ctx)
	if _, err := a.evictor().RunOnce(ctx); err != nil {
		logger.Warn("dedup eviction failed", zap.Error(err))
	}

	logger.Info("tick done",
		zap.Int("collections", tick.Collections),
		zap.Int("failed", tick.Failed),
		zap.Int("events", tick.New),
		zap.Int("matches", tick.Matches),
		zap.Int("batches_sent", flush.Sent),
		zap.Int("batches_terminal", flush.Terminal),
	)
	return nil
}
