package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nftwatch/internal/model"
	"nftwatch/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	chain       TEXT NOT NULL,
	marketplace TEXT NOT NULL,
	key         TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain, marketplace, key)
);
CREATE TABLE IF NOT EXISTS subscriptions (
	user_id     BIGINT NOT NULL,
	chain       TEXT NOT NULL,
	marketplace TEXT NOT NULL,
	key         TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, chain, marketplace, key),
	FOREIGN KEY (chain, marketplace, key) REFERENCES collections (chain, marketplace, key) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS preferences (
	user_id    BIGINT PRIMARY KEY,
	filter     TEXT NOT NULL,
	cadence    TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for subscriptions and preferences.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// SaveCollection inserts or renames a collection.
func (s *Store) SaveCollection(ctx context.Context, c model.Collection) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO collections (chain, marketplace, key, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (chain, marketplace, key)
		DO UPDATE SET name = EXCLUDED.name, updated_at = now()
	`, string(c.ID.Chain), string(c.ID.Marketplace), c.ID.Key, c.Name)
	return err
}

func (s *Store) DeleteCollection(ctx context.Context, id model.CollectionID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM collections WHERE chain=$1 AND marketplace=$2 AND key=$3`,
		string(id.Chain), string(id.Marketplace), id.Key,
	)
	return err
}

func (s *Store) AddSubscription(ctx context.Context, sub model.Subscription) error {
	id := sub.Collection.ID
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (user_id, chain, marketplace, key, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
	`, sub.UserID, string(id.Chain), string(id.Marketplace), id.Key, sub.CreatedAt)
	return err
}

func (s *Store) RemoveSubscription(ctx context.Context, userID int64, id model.CollectionID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM subscriptions WHERE user_id=$1 AND chain=$2 AND marketplace=$3 AND key=$4`,
		userID, string(id.Chain), string(id.Marketplace), id.Key,
	)
	return err
}

// SavePreferences upserts the user's filter and cadence.
func (s *Store) SavePreferences(ctx context.Context, userID int64, prefs model.Preferences) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO preferences (user_id, filter, cadence, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE
		SET filter = EXCLUDED.filter, cadence = EXCLUDED.cadence, updated_at = now()
	`, userID, prefs.Filter.String(), prefs.Cadence.String())
	return err
}

// LoadAll reads the three tables in one batch.
func (s *Store) LoadAll(ctx context.Context) (storage.Snapshot, error) {
	snap := storage.Snapshot{Preferences: make(map[int64]model.Preferences)}

	batch := &pgx.Batch{}
	batch.Queue(`SELECT chain, marketplace, key, name FROM collections ORDER BY chain, marketplace, key`)
	batch.Queue(`SELECT user_id, chain, marketplace, key, created_at FROM subscriptions ORDER BY created_at`)
	batch.Queue(`SELECT user_id, filter, cadence FROM preferences`)

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	byID := make(map[model.CollectionID]model.Collection)
	rows, err := br.Query()
	if err != nil {
		return snap, fmt.Errorf("load collections: %w", err)
	}
	for rows.Next() {
		var chain, marketplace, key, name string
		if err := rows.Scan(&chain, &marketplace, &key, &name); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan collection: %w", err)
		}
		c := model.Collection{ID: model.NewCollectionID(chain, marketplace, key), Name: name}
		byID[c.ID] = c
		snap.Collections = append(snap.Collections, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("load collections: %w", err)
	}

	rows, err = br.Query()
	if err != nil {
		return snap, fmt.Errorf("load subscriptions: %w", err)
	}
	for rows.Next() {
		var sub model.Subscription
		var chain, marketplace, key string
		if err := rows.Scan(&sub.UserID, &chain, &marketplace, &key, &sub.CreatedAt); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan subscription: %w", err)
		}
		sub.Collection = byID[model.NewCollectionID(chain, marketplace, key)]
		snap.Subscriptions = append(snap.Subscriptions, sub)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("load subscriptions: %w", err)
	}

	rows, err = br.Query()
	if err != nil {
		return snap, fmt.Errorf("load preferences: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID int64
		var filter, cadence string
		if err := rows.Scan(&userID, &filter, &cadence); err != nil {
			return snap, fmt.Errorf("scan preferences: %w", err)
		}
		prefs, err := storage.ParsePreferences(filter, cadence)
		if err != nil {
			return snap, fmt.Errorf("user %d: %w", userID, err)
		}
		snap.Preferences[userID] = prefs
	}
	return snap, rows.Err()
}
