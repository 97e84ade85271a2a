package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	PollInterval   time.Duration
	FetchTimeout   time.Duration
	Lookback       time.Duration
	MaxConcurrency int

	DedupDriver        string
	DedupRetention     time.Duration
	DedupEvictSchedule string
	DedupSnapshot      string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int

	CadenceTenMinutes time.Duration
	CadenceHourly     time.Duration
	FlushInterval     time.Duration
	DeliveryRetries   int
	DeliveryWorkers   int
	DeliveryRate      float64

	StoreDriver string
	SQLitePath  string
	PGDSN       string

	TelegramToken       string
	TelegramPollTimeout time.Duration

	OpenSeaURL      string
	OpenSeaAPIKey   string
	MagicEdenURL    string
	MagicEdenAPIKey string
	SourceRate      int
	PageLimit       int

	EthRPC                string
	PolygonRPC            string
	OnchainLookbackBlocks uint64
	OnchainBatchBlocks    uint64

	EventsSink   string
	EventsOut    string
	KafkaBrokers []string
	KafkaTopic   string

	MetricsAddr string
	LogLevel    string
}

// Load merges .env, config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("NFTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		PollInterval:   v.GetDuration("poll-interval"),
		FetchTimeout:   v.GetDuration("fetch-timeout"),
		Lookback:       v.GetDuration("lookback"),
		MaxConcurrency: v.GetInt("max-concurrency"),

		DedupDriver:        strings.ToLower(v.GetString("dedup-driver")),
		DedupRetention:     v.GetDuration("dedup-retention"),
		DedupEvictSchedule: v.GetString("dedup-evict-schedule"),
		DedupSnapshot:      v.GetString("dedup-snapshot"),
		RedisAddr:          v.GetString("redis-addr"),
		RedisPassword:      v.GetString("redis-password"),
		RedisDB:            v.GetInt("redis-db"),

		CadenceTenMinutes: v.GetDuration("cadence-10min"),
		CadenceHourly:     v.GetDuration("cadence-hourly"),
		FlushInterval:     v.GetDuration("flush-interval"),
		DeliveryRetries:   v.GetInt("delivery-retries"),
		DeliveryWorkers:   v.GetInt("delivery-workers"),
		DeliveryRate:      v.GetFloat64("delivery-rate"),

		StoreDriver: strings.ToLower(v.GetString("store-driver")),
		SQLitePath:  v.GetString("sqlite-path"),
		PGDSN:       v.GetString("pg-dsn"),

		TelegramToken:       v.GetString("telegram-token"),
		TelegramPollTimeout: v.GetDuration("telegram-poll-timeout"),

		OpenSeaURL:      v.GetString("opensea-url"),
		OpenSeaAPIKey:   v.GetString("opensea-api-key"),
		MagicEdenURL:    v.GetString("magiceden-url"),
		MagicEdenAPIKey: v.GetString("magiceden-api-key"),
		SourceRate:      v.GetInt("source-rate"),
		PageLimit:       v.GetInt("page-limit"),

		EthRPC:                v.GetString("eth-rpc"),
		PolygonRPC:            v.GetString("polygon-rpc"),
		OnchainLookbackBlocks: v.GetUint64("onchain-lookback-blocks"),
		OnchainBatchBlocks:    v.GetUint64("onchain-batch-blocks"),

		EventsSink:   strings.ToLower(v.GetString("events-sink")),
		EventsOut:    v.GetString("events-out"),
		KafkaBrokers: getStringSlice(v, "kafka-brokers"),
		KafkaTopic:   v.GetString("kafka-topic"),

		MetricsAddr: v.GetString("metrics-addr"),
		LogLevel:    v.GetString("log-level"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("poll-interval", time.Minute)
	v.SetDefault("fetch-timeout", 15*time.Second)
	v.SetDefault("lookback", 30*time.Minute)
	v.SetDefault("max-concurrency", 4)

	v.SetDefault("dedup-driver", "memory")
	v.SetDefault("dedup-retention", 2*time.Hour)
	v.SetDefault("dedup-evict-schedule", "@every 5m")
	v.SetDefault("dedup-snapshot", "./data/dedup.json")
	v.SetDefault("redis-addr", "localhost:6379")
	v.SetDefault("redis-db", 0)

	v.SetDefault("cadence-10min", 10*time.Minute)
	v.SetDefault("cadence-hourly", time.Hour)
	v.SetDefault("flush-interval", 5*time.Second)
	v.SetDefault("delivery-retries", 3)
	v.SetDefault("delivery-workers", 2)
	v.SetDefault("delivery-rate", 3.0)

	v.SetDefault("store-driver", "sqlite")
	v.SetDefault("sqlite-path", "./data/nftwatch.db")

	v.SetDefault("telegram-poll-timeout", 10*time.Second)

	v.SetDefault("opensea-url", "https://api.opensea.io/api/v2")
	v.SetDefault("magiceden-url", "https://api-mainnet.magiceden.dev/v2")
	v.SetDefault("source-rate", 5)
	v.SetDefault("page-limit", 50)

	v.SetDefault("onchain-lookback-blocks", uint64(300))
	v.SetDefault("onchain-batch-blocks", uint64(100))

	v.SetDefault("events-sink", "none")
	v.SetDefault("events-out", "./data/events.jsonl")
	v.SetDefault("kafka-brokers", "localhost:9092")
	v.SetDefault("kafka-topic", "nft-events")

	v.SetDefault("metrics-addr", ":9090")
	v.SetDefault("log-level", "info")
}

// Validate rejects settings the watcher cannot run with.
func (c Config) Validate() error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"poll-interval", c.PollInterval},
		{"fetch-timeout", c.FetchTimeout},
		{"lookback", c.Lookback},
		{"dedup-retention", c.DedupRetention},
		{"cadence-10min", c.CadenceTenMinutes},
		{"cadence-hourly", c.CadenceHourly},
		{"flush-interval", c.FlushInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be greater than zero", d.name)
		}
	}

	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max-concurrency must be at least 1")
	}
	if c.DeliveryWorkers < 1 {
		return fmt.Errorf("delivery-workers must be at least 1")
	}
	if c.DeliveryRetries < 0 {
		return fmt.Errorf("delivery-retries must not be negative")
	}
	if c.DeliveryRate <= 0 {
		return fmt.Errorf("delivery-rate must be greater than zero")
	}
	if c.DedupRetention < c.Lookback {
		return fmt.Errorf("dedup-retention (%s) must not be shorter than lookback (%s)", c.DedupRetention, c.Lookback)
	}

	switch c.DedupDriver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown dedup-driver: %q", c.DedupDriver)
	}
	switch c.StoreDriver {
	case "memory", "sqlite":
	case "postgres":
		if c.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store-driver: %q", c.StoreDriver)
	}
	switch c.EventsSink {
	case "none", "jsonl":
	case "kafka":
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return fmt.Errorf("kafka-brokers and kafka-topic are required for the kafka sink")
		}
	default:
		return fmt.Errorf("unknown events-sink: %q", c.EventsSink)
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
