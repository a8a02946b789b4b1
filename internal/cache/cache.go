// Package cache provides the engine's only shared mutable state: a
// content-addressed, single-flighted, approximately-LRU result store
// backed by SQLite. A cache miss, an expired entry, or a corrupt entry all
// fall through to recomputation; only a failing SQLite read surfaces to the
// caller as an error.
package cache

import (
	"container/list"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
)

// Config tunes capacity, directory, and per-kind TTLs; GetOrCompute picks
// the TTL from TTLByKind using the ResultKind its caller passes.
// CapacityBytes bounds the total payload bytes of the stored entries.
type Config struct {
	DataDir        string
	CapacityBytes  int64
	EntryLimit     int
	TTLByKind      map[domain.ResultKind]time.Duration
}

// Entry is the self-describing unit the cache persists: enough to
// validate and re-hydrate an AnalysisResult's envelope without the core
// business logic. Payload carries the msgpack encoding of the concrete
// result variant named by Kind (the caller owns that encoding).
type Entry struct {
	Kind          domain.ResultKind
	EngineVersion string
	AsOf          time.Time
	InputsDigest  string
	Payload       []byte
}

// Cache is safe for concurrent use.
type Cache struct {
	db    *sql.DB
	group singleflight.Group
	log   zerolog.Logger
	cfg   Config

	mu        sync.Mutex
	order     *list.List // front = most recently used
	index     map[string]*list.Element
	bytesUsed int64
}

type lruNode struct {
	key  string
	size int64
}

// Open creates (or reuses) the cache's SQLite-backed store under
// cfg.DataDir, creating the directory and schema if missing, and seeds
// the in-memory LRU index from whatever rows already exist on disk.
func Open(cfg Config, log zerolog.Logger) (*Cache, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create data dir: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, "analysis_cache.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL,
			accessed_at INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create schema: %w", err)
	}

	c := &Cache{
		db:    db,
		log:   log,
		cfg:   cfg,
		order: list.New(),
		index: make(map[string]*list.Element),
	}

	rows, err := db.Query(`SELECT key, size_bytes FROM cache ORDER BY accessed_at ASC`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: seed lru: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var size int64
		if err := rows.Scan(&key, &size); err != nil {
			continue
		}
		c.index[key] = c.order.PushFront(&lruNode{key: key, size: size})
		c.bytesUsed += size
	}

	return c, nil
}

// Close releases the underlying SQLite handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get looks up key, returning (entry, true, nil) on a hit. A miss (absent,
// expired, or corrupt) returns (Entry{}, false, nil) — corruption is
// logged and the offending row is quarantined (deleted), never surfaced
// as an error to the caller.
func (c *Cache) Get(key string) (Entry, bool, error) {
	var value []byte
	var expiresAt int64
	err := c.db.QueryRow(`SELECT value, expires_at FROM cache WHERE key = ?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: get %s: %w", key, err)
	}

	if time.Now().Unix() >= expiresAt {
		c.quarantine(key, "expired")
		return Entry{}, false, nil
	}

	var entry Entry
	if err := msgpack.Unmarshal(value, &entry); err != nil {
		c.log.Warn().Str("key", key).Err(err).Msg("cache: corrupt entry, quarantining")
		c.quarantine(key, "corrupt")
		return Entry{}, false, nil
	}

	c.touch(key)
	return entry, true, nil
}

// quarantine removes key from both the SQLite table and the in-memory
// LRU index. Used for expired, corrupt, and evicted entries alike.
func (c *Cache) quarantine(key, reason string) {
	if _, err := c.db.Exec(`DELETE FROM cache WHERE key = ?`, key); err != nil {
		c.log.Warn().Str("key", key).Str("reason", reason).Err(err).Msg("cache: quarantine delete failed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.bytesUsed -= el.Value.(*lruNode).size
		c.order.Remove(el)
		delete(c.index, key)
	}
}

func (c *Cache) touch(key string) {
	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.order.MoveToFront(el)
	}
	c.mu.Unlock()

	now := time.Now().Unix()
	if _, err := c.db.Exec(`UPDATE cache SET accessed_at = ? WHERE key = ?`, now, key); err != nil {
		c.log.Warn().Str("key", key).Err(err).Msg("cache: touch failed")
	}
}

// put persists entry under key with the given ttl and updates the LRU
// index, evicting the least-recently-used entries if the store now
// exceeds its configured capacity.
func (c *Cache) put(key string, entry Entry, ttl time.Duration) error {
	data, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}
	size := int64(len(entry.Payload))
	now := time.Now()
	expiresAt := now.Add(ttl).Unix()

	if _, err := c.db.Exec(`
		INSERT INTO cache (key, value, expires_at, accessed_at, size_bytes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			accessed_at = excluded.accessed_at,
			size_bytes = excluded.size_bytes
	`, key, data, expiresAt, now.Unix(), size); err != nil {
		return fmt.Errorf("cache: put %s: %w", key, err)
	}

	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.bytesUsed -= el.Value.(*lruNode).size
		el.Value.(*lruNode).size = size
		c.order.MoveToFront(el)
	} else {
		c.index[key] = c.order.PushFront(&lruNode{key: key, size: size})
	}
	c.bytesUsed += size
	c.mu.Unlock()

	c.evict()
	return nil
}

// evict removes least-recently-used entries until the store is within
// both its entry-count and byte-capacity bounds, reclaiming their disk
// storage as it goes.
func (c *Cache) evict() {
	for {
		c.mu.Lock()
		overEntries := c.cfg.EntryLimit > 0 && c.order.Len() > c.cfg.EntryLimit
		overBytes := c.cfg.CapacityBytes > 0 && c.bytesUsed > c.cfg.CapacityBytes
		if !overEntries && !overBytes || c.order.Len() == 0 {
			c.mu.Unlock()
			return
		}
		back := c.order.Back()
		node := back.Value.(*lruNode)
		c.order.Remove(back)
		delete(c.index, node.key)
		c.bytesUsed -= node.size
		c.mu.Unlock()

		if _, err := c.db.Exec(`DELETE FROM cache WHERE key = ?`, node.key); err != nil {
			c.log.Warn().Str("key", node.key).Err(err).Msg("cache: eviction delete failed")
		}
	}
}

// GetOrCompute returns the cached entry for key if present and fresh;
// otherwise it single-flights compute across every concurrent caller
// sharing the same key, persists the result, and returns it. compute runs
// with a context detached from ctx: cancelling one caller's ctx abandons
// only that caller's wait, never the shared computation other callers may
// still be awaiting.
func (c *Cache) GetOrCompute(ctx context.Context, key string, kind domain.ResultKind, compute func(context.Context) (Entry, error)) (Entry, error) {
	if entry, ok, err := c.Get(key); err != nil {
		return Entry{}, err
	} else if ok {
		return entry, nil
	}

	ttl := c.cfg.TTLByKind[kind]
	resultCh := c.group.DoChan(key, func() (interface{}, error) {
		entry, err := compute(context.Background())
		if err != nil {
			return Entry{}, err
		}
		if err := c.put(key, entry, ttl); err != nil {
			c.log.Warn().Str("key", key).Err(err).Msg("cache: persist failed, returning computed result anyway")
		}
		return entry, nil
	})

	select {
	case <-ctx.Done():
		return Entry{}, domain.NewError(domain.ErrCancelled, "cache: context cancelled while awaiting computation", domain.WithCause(ctx.Err()))
	case res := <-resultCh:
		if res.Err != nil {
			return Entry{}, res.Err
		}
		return res.Val.(Entry), nil
	}
}
