package idmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// MappingCache stores resolved id->symbol maps under a query key.
type MappingCache interface {
	Get(ctx context.Context, key string) (map[string]string, bool)
	Set(ctx context.Context, key string, mapping map[string]string, ttl time.Duration) error
}

type memoryEntry struct {
	mapping map[string]string
	expires time.Time
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (map[string]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expires) {
		return nil, false
	}
	return cloneMapping(e.mapping), true
}

func (c *MemoryCache) Set(_ context.Context, key string, mapping map[string]string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{mapping: cloneMapping(mapping), expires: c.now().Add(ttl)}
	return nil
}

// BadgerCache persists mapping queries in a badger database. Entries expire
// through badger's own TTL.
type BadgerCache struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBadgerCache opens the cache at dir. An empty dir keeps the database in
// memory.
func OpenBadgerCache(dir string, logger *slog.Logger) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open mapping cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerCache{db: db, logger: logger}, nil
}

func (c *BadgerCache) Close() error {
	return c.db.Close()
}

func (c *BadgerCache) Get(_ context.Context, key string) (map[string]string, bool) {
	var mapping map[string]string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &mapping)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("mapping cache read error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}
	return mapping, true
}

func (c *BadgerCache) Set(_ context.Context, key string, mapping map[string]string, ttl time.Duration) error {
	val, err := json.Marshal(mapping)
	if err != nil {
		return err
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), val).WithTTL(ttl))
	})
	if err != nil {
		return fmt.Errorf("write mapping cache: %w", err)
	}
	return nil
}

func cloneMapping(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
