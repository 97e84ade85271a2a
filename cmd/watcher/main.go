package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "watcher",
		Short:        "NFT marketplace transaction alerts",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Poll tracked collections and deliver alerts over Telegram",
		RunE:  runWatcher,
	}
	addFlags(runCmd.Flags())
	runCmd.Flags().String("telegram-token", "", "Telegram bot token")
	runCmd.Flags().String("metrics-addr", ":9090", "metrics listen address, empty disables")
	root.AddCommand(runCmd)

	tickCmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one polling tick and flush every pending batch",
		RunE:  runTick,
	}
	addFlags(tickCmd.Flags())
	tickCmd.Flags().String("telegram-token", "", "Telegram bot token, empty logs alerts instead")
	root.AddCommand(tickCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addFlags(flags *pflag.FlagSet) {
	flags.Duration("poll-interval", time.Minute, "time between polling ticks")
	flags.Duration("fetch-timeout", 15*time.Second, "per-collection fetch timeout")
	flags.Duration("lookback", 30*time.Minute, "polling window")
	flags.Int("max-concurrency", 4, "collections fetched in parallel")
	flags.String("dedup-driver", "memory", "dedup backend (memory, redis)")
	flags.String("redis-addr", "localhost:6379", "Redis address for the redis dedup backend")
	flags.String("store-driver", "sqlite", "subscription store (memory, sqlite, postgres)")
	flags.String("sqlite-path", "./data/nftwatch.db", "SQLite database path")
	flags.String("pg-dsn", "", "Postgres DSN")
	flags.String("opensea-api-key", "", "OpenSea API key, empty disables the OpenSea adapter")
	flags.String("eth-rpc", "", "Ethereum RPC URL for on-chain transfers")
	flags.String("polygon-rpc", "", "Polygon RPC URL for on-chain transfers")
	flags.String("events-sink", "none", "event sink (none, jsonl, kafka)")
	flags.String("events-out", "./data/events.jsonl", "JSONL event sink path")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
