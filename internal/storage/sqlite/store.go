package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"nftwatch/internal/model"
	"nftwatch/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	chain       TEXT NOT NULL,
	marketplace TEXT NOT NULL,
	key         TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (chain, marketplace, key)
);
CREATE TABLE IF NOT EXISTS subscriptions (
	user_id     INTEGER NOT NULL,
	chain       TEXT NOT NULL,
	marketplace TEXT NOT NULL,
	key         TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (user_id, chain, marketplace, key),
	FOREIGN KEY (chain, marketplace, key) REFERENCES collections (chain, marketplace, key) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS preferences (
	user_id    INTEGER PRIMARY KEY,
	filter     TEXT NOT NULL,
	cadence    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store provides SQLite persistence through the pure-Go modernc driver.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) SaveCollection(ctx context.Context, c model.Collection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (chain, marketplace, key, name, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (chain, marketplace, key) DO UPDATE SET name = excluded.name`,
		string(c.ID.Chain), string(c.ID.Marketplace), c.ID.Key, c.Name, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save collection: %w", err)
	}
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, id model.CollectionID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM collections WHERE chain = ? AND marketplace = ? AND key = ?`,
		string(id.Chain), string(id.Marketplace), id.Key,
	)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

func (s *Store) AddSubscription(ctx context.Context, sub model.Subscription) error {
	id := sub.Collection.ID
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, chain, marketplace, key, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		sub.UserID, string(id.Chain), string(id.Marketplace), id.Key, sub.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("add subscription: %w", err)
	}
	return nil
}

func (s *Store) RemoveSubscription(ctx context.Context, userID int64, id model.CollectionID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE user_id = ? AND chain = ? AND marketplace = ? AND key = ?`,
		userID, string(id.Chain), string(id.Marketplace), id.Key,
	)
	if err != nil {
		return fmt.Errorf("remove subscription: %w", err)
	}
	return nil
}

func (s *Store) SavePreferences(ctx context.Context, userID int64, prefs model.Preferences) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (user_id, filter, cadence, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET filter = excluded.filter, cadence = excluded.cadence, updated_at = excluded.updated_at`,
		userID, prefs.Filter.String(), prefs.Cadence.String(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

func (s *Store) LoadAll(ctx context.Context) (storage.Snapshot, error) {
	snap := storage.Snapshot{Preferences: make(map[int64]model.Preferences)}
	byID := make(map[model.CollectionID]model.Collection)

	rows, err := s.db.QueryContext(ctx, `SELECT chain, marketplace, key, name FROM collections ORDER BY chain, marketplace, key`)
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

	rows, err = s.db.QueryContext(ctx, `SELECT user_id, chain, marketplace, key, created_at FROM subscriptions ORDER BY created_at`)
	if err != nil {
		return snap, fmt.Errorf("load subscriptions: %w", err)
	}
	for rows.Next() {
		var (
			userID                  int64
			chain, marketplace, key string
			createdAt               int64
		)
		if err := rows.Scan(&userID, &chain, &marketplace, &key, &createdAt); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan subscription: %w", err)
		}
		id := model.NewCollectionID(chain, marketplace, key)
		snap.Subscriptions = append(snap.Subscriptions, model.Subscription{
			UserID:     userID,
			Collection: byID[id],
			CreatedAt:  time.UnixMilli(createdAt).UTC(),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("load subscriptions: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT user_id, filter, cadence FROM preferences`)
	if err != nil {
		return snap, fmt.Errorf("load preferences: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			userID          int64
			filter, cadence string
		)
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
