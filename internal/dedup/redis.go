package dedup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"nftwatch/internal/model"
)

const (
	defaultRedisPrefix = "nftwatch:seen:"
	redisIndexSuffix   = "collections"
)

// Redis keeps one sorted set per collection, scored by event time, plus a set
// indexing which collections have records.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures the Redis dedup store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func NewRedis(opts RedisOptions) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisWithClient(client, opts.Prefix)
}

func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

var _ Store = (*Redis)(nil)

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(collection model.CollectionID) string {
	return r.prefix + collection.String()
}

func (r *Redis) indexKey() string {
	return r.prefix + redisIndexSuffix
}

func (r *Redis) IsNew(ctx context.Context, collection model.CollectionID, eventID string) (bool, error) {
	_, err := r.client.ZScore(ctx, r.key(collection), eventID).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis zscore: %w", err)
	}
	return false, nil
}

func (r *Redis) MarkSeen(ctx context.Context, collection model.CollectionID, eventID string, eventTime time.Time) error {
	key := r.key(collection)
	pipe := r.client.TxPipeline()
	pipe.ZAddArgs(ctx, key, redis.ZAddArgs{
		GT:      true,
		Members: []redis.Z{{Score: float64(eventTime.Unix()), Member: eventID}},
	})
	pipe.SAdd(ctx, r.indexKey(), collection.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mark seen: %w", err)
	}
	return nil
}

func (r *Redis) Evict(ctx context.Context, before time.Time) (int, error) {
	collections, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis smembers: %w", err)
	}

	// Scores are whole seconds; "(" makes the bound exclusive.
	upper := "(" + strconv.FormatInt(before.Unix(), 10)
	removed := 0
	for _, member := range collections {
		n, err := r.client.ZRemRangeByScore(ctx, r.prefix+member, "-inf", upper).Result()
		if err != nil {
			return removed, fmt.Errorf("redis evict %s: %w", member, err)
		}
		removed += int(n)
	}
	return removed, nil
}
