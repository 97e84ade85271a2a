package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"nftwatch/internal/model"
)

type partition struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// Memory is an in-process Store partitioned per collection. It can be
// persisted to a JSON snapshot so restarts do not resend recent alerts.
type Memory struct {
	partitions sync.Map // collection id string -> *partition
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) partition(id model.CollectionID) *partition {
	key := id.String()
	if p, ok := m.partitions.Load(key); ok {
		return p.(*partition)
	}
	p, _ := m.partitions.LoadOrStore(key, &partition{seen: make(map[string]time.Time)})
	return p.(*partition)
}

func (m *Memory) IsNew(_ context.Context, collection model.CollectionID, eventID string) (bool, error) {
	p := m.partition(collection)
	p.mu.Lock()
	_, ok := p.seen[eventID]
	p.mu.Unlock()
	return !ok, nil
}

// MarkSeen is idempotent; a later event time extends the record.
func (m *Memory) MarkSeen(_ context.Context, collection model.CollectionID, eventID string, eventTime time.Time) error {
	p := m.partition(collection)
	p.mu.Lock()
	if prev, ok := p.seen[eventID]; !ok || eventTime.After(prev) {
		p.seen[eventID] = eventTime
	}
	p.mu.Unlock()
	return nil
}

// Evict removes records whose event time is before the cutoff.
func (m *Memory) Evict(_ context.Context, before time.Time) (int, error) {
	removed := 0
	m.partitions.Range(func(_, value any) bool {
		p := value.(*partition)
		p.mu.Lock()
		for id, at := range p.seen {
			if at.Before(before) {
				delete(p.seen, id)
				removed++
			}
		}
		p.mu.Unlock()
		return true
	})
	return removed, nil
}

// Len returns the number of records across all collections.
func (m *Memory) Len() int {
	total := 0
	m.partitions.Range(func(_, value any) bool {
		p := value.(*partition)
		p.mu.Lock()
		total += len(p.seen)
		p.mu.Unlock()
		return true
	})
	return total
}

type snapshot struct {
	Collections map[string]map[string]time.Time `json:"collections"`
	SavedAt     string                          `json:"saved_at"`
}

// Save writes a snapshot atomically via a temporary file.
func (m *Memory) Save(path string) error {
	snap := snapshot{
		Collections: make(map[string]map[string]time.Time),
		SavedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	m.partitions.Range(func(key, value any) bool {
		p := value.(*partition)
		p.mu.Lock()
		if len(p.seen) > 0 {
			records := make(map[string]time.Time, len(p.seen))
			for id, at := range p.seen {
				records[id] = at
			}
			snap.Collections[key.(string)] = records
		}
		p.mu.Unlock()
		return true
	})

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load merges a snapshot into the store. A missing file is not an error.
func (m *Memory) Load(path string) (bool, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat snapshot: %w", err)
	}
	if stat.IsDir() {
		return false, fmt.Errorf("snapshot path is a directory")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false, fmt.Errorf("parse snapshot: %w", err)
	}

	ctx := context.Background()
	for key, records := range snap.Collections {
		id, err := model.ParseCollectionID(key)
		if err != nil {
			return false, fmt.Errorf("parse snapshot: %w", err)
		}
		for eventID, at := range records {
			_ = m.MarkSeen(ctx, id, eventID, at)
		}
	}
	return true, nil
}
