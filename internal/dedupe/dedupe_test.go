// ABOUTME: Tests for the Deduplicator gate over shared and local backends
// ABOUTME: Covers exactly-once claims under concurrency and transparent fallback

package dedupe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/helpdesk-gateway/internal/kvstore"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memClaimer is an atomic shared store that can be switched into failure mode.
type memClaimer struct {
	mu      sync.Mutex
	keys    map[string]bool
	failing atomic.Bool
	calls   atomic.Int32
}

func newMemClaimer() *memClaimer {
	return &memClaimer{keys: make(map[string]bool)}
}

func (m *memClaimer) SetIfAbsent(_ context.Context, key, _ string, _ time.Duration) (bool, error) {
	m.calls.Add(1)
	if m.failing.Load() {
		return false, errors.New("connection refused")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func TestDeduplicator_SharedClaim(t *testing.T) {
	shared := newMemClaimer()
	d := New(shared, Options{}, quietLogger())
	defer d.Close()
	ctx := context.Background()

	assert.True(t, d.TryClaim(ctx, "evt-1"))
	assert.False(t, d.TryClaim(ctx, "evt-1"))
	assert.True(t, shared.keys[keyPrefix+"evt-1"])
}

func TestDeduplicator_ConcurrentCallersOneWinner(t *testing.T) {
	d := New(newMemClaimer(), Options{}, quietLogger())
	defer d.Close()

	const goroutines = 64
	var winners int32
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if d.TryClaim(context.Background(), "same-event") {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)
}

func TestDeduplicator_FallsBackOnSharedError(t *testing.T) {
	shared := newMemClaimer()
	shared.failing.Store(true)
	d := New(shared, Options{}, quietLogger())
	defer d.Close()
	ctx := context.Background()

	assert.True(t, d.TryClaim(ctx, "evt-1"))
	assert.False(t, d.TryClaim(ctx, "evt-1"), "local set must still reject duplicates")
	assert.Equal(t, int32(2), shared.calls.Load(), "shared store is retried on every call")
}

func TestDeduplicator_OutageRemembersEarlierClaims(t *testing.T) {
	shared := newMemClaimer()
	d := New(shared, Options{}, quietLogger())
	defer d.Close()
	ctx := context.Background()

	require.True(t, d.TryClaim(ctx, "evt-1"))
	shared.failing.Store(true)

	assert.False(t, d.TryClaim(ctx, "evt-1"))
}

func TestDeduplicator_LocalOnly(t *testing.T) {
	d := New(nil, Options{TTL: time.Minute, LocalCapacity: 10}, quietLogger())
	defer d.Close()

	assert.True(t, d.TryClaim(context.Background(), "evt-1"))
	assert.False(t, d.TryClaim(context.Background(), "evt-1"))
}

func TestDeduplicator_EmptyID(t *testing.T) {
	shared := newMemClaimer()
	d := New(shared, Options{}, quietLogger())
	defer d.Close()

	assert.False(t, d.TryClaim(context.Background(), ""))
	assert.Equal(t, int32(0), shared.calls.Load())
}

func TestDeduplicator_LocalExpiry(t *testing.T) {
	d := New(nil, Options{TTL: time.Minute}, quietLogger())
	defer d.Close()
	clk := newFakeClock()
	d.local.now = clk.Now

	assert.True(t, d.TryClaim(context.Background(), "evt-1"))
	clk.Advance(2 * time.Minute)
	assert.True(t, d.TryClaim(context.Background(), "evt-1"))
}

func TestDeduplicator_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	store := kvstore.NewRedis(kvstore.RedisOptions{Addr: mr.Addr()})
	defer store.Close()

	d := New(store, Options{TTL: time.Minute}, quietLogger())
	defer d.Close()
	ctx := context.Background()

	assert.True(t, d.TryClaim(ctx, "evt-r"))
	assert.False(t, d.TryClaim(ctx, "evt-r"))

	// A second instance sharing the server sees the claim.
	other := New(store, Options{TTL: time.Minute}, quietLogger())
	defer other.Close()
	assert.False(t, other.TryClaim(ctx, "evt-r"))

	mr.FastForward(2 * time.Minute)
	assert.True(t, other.TryClaim(ctx, "evt-r"))
}

func TestDeduplicator_RedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	store := kvstore.NewRedis(kvstore.RedisOptions{Addr: mr.Addr()})
	defer store.Close()

	d := New(store, Options{}, quietLogger())
	defer d.Close()
	ctx := context.Background()

	mr.SetError("LOADING Redis is loading the dataset in memory")
	assert.True(t, d.TryClaim(ctx, "evt-o"))
	assert.False(t, d.TryClaim(ctx, "evt-o"))
}
