package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
)

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	cfg.DataDir = t.TempDir()
	if cfg.TTLByKind == nil {
		cfg.TTLByKind = map[domain.ResultKind]time.Duration{domain.KindRiskAnalysis: time.Hour}
	}
	c, err := Open(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_SetThenGetRoundTrips(t *testing.T) {
	c := newTestCache(t, Config{EntryLimit: 100, CapacityBytes: 1 << 20})

	entry := Entry{Kind: domain.KindRiskAnalysis, EngineVersion: "test", AsOf: time.Now().Truncate(time.Second), InputsDigest: "abc", Payload: []byte("hello")}
	require.NoError(t, c.put("k1", entry, time.Hour))

	got, ok, err := c.Get("k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.InputsDigest, got.InputsDigest)
	assert.Equal(t, entry.Payload, got.Payload)
}

func TestCache_MissForUnknownKey(t *testing.T) {
	c := newTestCache(t, Config{EntryLimit: 100, CapacityBytes: 1 << 20})
	_, ok, err := c.Get("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_ExpiredEntryIsMissAndQuarantined(t *testing.T) {
	c := newTestCache(t, Config{EntryLimit: 100, CapacityBytes: 1 << 20})
	entry := Entry{Kind: domain.KindRiskAnalysis, Payload: []byte("x")}
	require.NoError(t, c.put("k1", entry, -time.Second)) // already expired

	_, ok, err := c.Get("k1")
	require.NoError(t, err)
	assert.False(t, ok)

	var count int
	require.NoError(t, c.db.QueryRow(`SELECT COUNT(*) FROM cache WHERE key = ?`, "k1").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestCache_CorruptEntryIsMissNotError(t *testing.T) {
	c := newTestCache(t, Config{EntryLimit: 100, CapacityBytes: 1 << 20})
	_, err := c.db.Exec(`INSERT INTO cache (key, value, expires_at, accessed_at, size_bytes) VALUES (?, ?, ?, ?, ?)`,
		"bad", []byte("not valid msgpack entry \xff\xfe"), time.Now().Add(time.Hour).Unix(), time.Now().Unix(), 10)
	require.NoError(t, err)

	_, ok, err := c.Get("bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_EvictsLeastRecentlyUsedByEntryLimit(t *testing.T) {
	c := newTestCache(t, Config{EntryLimit: 2, CapacityBytes: 1 << 20})

	require.NoError(t, c.put("a", Entry{Payload: []byte("1")}, time.Hour))
	require.NoError(t, c.put("b", Entry{Payload: []byte("2")}, time.Hour))
	_, ok, _ := c.Get("a") // touch a so b becomes the LRU victim
	require.True(t, ok)
	require.NoError(t, c.put("c", Entry{Payload: []byte("3")}, time.Hour))

	_, okA, _ := c.Get("a")
	_, okB, _ := c.Get("b")
	_, okC, _ := c.Get("c")
	assert.True(t, okA)
	assert.False(t, okB) // evicted
	assert.True(t, okC)
}

func TestCache_EvictsByByteCapacity(t *testing.T) {
	c := newTestCache(t, Config{EntryLimit: 1000, CapacityBytes: 20})

	require.NoError(t, c.put("a", Entry{Payload: make([]byte, 15)}, time.Hour))
	require.NoError(t, c.put("b", Entry{Payload: make([]byte, 15)}, time.Hour))

	_, okA, _ := c.Get("a")
	_, okB, _ := c.Get("b")
	assert.False(t, okA)
	assert.True(t, okB)
}

func TestCache_GetOrCompute_MissInvokesComputeAndPersists(t *testing.T) {
	c := newTestCache(t, Config{EntryLimit: 100, CapacityBytes: 1 << 20})
	var calls int32

	entry, err := c.GetOrCompute(context.Background(), "k", domain.KindRiskAnalysis, func(ctx context.Context) (Entry, error) {
		atomic.AddInt32(&calls, 1)
		return Entry{Kind: domain.KindRiskAnalysis, Payload: []byte("computed")}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("computed"), entry.Payload)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// Second call is a cache hit; compute must not run again.
	_, err = c.GetOrCompute(context.Background(), "k", domain.KindRiskAnalysis, func(ctx context.Context) (Entry, error) {
		atomic.AddInt32(&calls, 1)
		return Entry{}, nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCache_GetOrCompute_ConcurrentCallersShareOneComputation(t *testing.T) {
	c := newTestCache(t, Config{EntryLimit: 100, CapacityBytes: 1 << 20})
	var calls int32
	release := make(chan struct{})

	compute := func(ctx context.Context) (Entry, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return Entry{Kind: domain.KindRiskAnalysis, Payload: []byte("shared")}, nil
	}

	results := make(chan Entry, 5)
	for i := 0; i < 5; i++ {
		go func() {
			e, err := c.GetOrCompute(context.Background(), "shared-key", domain.KindRiskAnalysis, compute)
			require.NoError(t, err)
			results <- e
		}()
	}

	time.Sleep(20 * time.Millisecond) // let all callers register with singleflight
	close(release)

	for i := 0; i < 5; i++ {
		e := <-results
		assert.Equal(t, []byte("shared"), e.Payload)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCache_GetOrCompute_CancelledCallerDoesNotAbortComputation(t *testing.T) {
	c := newTestCache(t, Config{EntryLimit: 100, CapacityBytes: 1 << 20})
	release := make(chan struct{})

	compute := func(ctx context.Context) (Entry, error) {
		<-release
		return Entry{Kind: domain.KindRiskAnalysis, Payload: []byte("late")}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	initiatorDone := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(ctx, "cancel-key", domain.KindRiskAnalysis, compute)
		initiatorDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-initiatorDone
	require.Error(t, err)
	var domainErr *domain.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCancelled, domainErr.Kind)

	// A fresh caller still awaits and receives the shared computation's result.
	close(release)
	entry, err := c.GetOrCompute(context.Background(), "cancel-key", domain.KindRiskAnalysis, compute)
	require.NoError(t, err)
	assert.Equal(t, []byte("late"), entry.Payload)
}
