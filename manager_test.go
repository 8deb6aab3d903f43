package redlock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/redlock"
)

// =============================================================================
// Boundary scenario 1: single instance happy path
// =============================================================================

func TestBoundary_SingleInstanceHappyPath(t *testing.T) {
	m, servers := newMiniManager(t, 1)
	mr := servers[0]
	ctx := context.Background()

	lock, err := m.Acquire(ctx, []string{"r"}, 1000)
	require.NoError(t, err)
	assert.Len(t, lock.Value(), 32)

	got, err := mr.Get("r")
	require.NoError(t, err)
	assert.Equal(t, lock.Value(), got)

	ttl := mr.TTL("r")
	assert.GreaterOrEqual(t, ttl, 980*time.Millisecond)
	assert.LessOrEqual(t, ttl, 1000*time.Millisecond)

	extended, err := lock.Extend(ctx, 3000)
	require.NoError(t, err)

	ttl = mr.TTL("r")
	assert.GreaterOrEqual(t, ttl, 2980*time.Millisecond)
	assert.LessOrEqual(t, ttl, 3000*time.Millisecond)

	_, err = extended.Release(ctx)
	require.NoError(t, err)
	assert.False(t, mr.Exists("r"))
}

// =============================================================================
// Boundary scenario 2: exclusive contention, exactly 11 attempts
// =============================================================================

func TestBoundary_ExclusiveContention_ExactlyElevenAttempts(t *testing.T) {
	m, _ := newMiniManager(t, 3)
	ctx := context.Background()

	holder, err := m.Acquire(ctx, []string{"contended-r"}, 30_000)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = holder.Release(context.Background()) })

	_, err = m.Acquire(ctx, []string{"contended-r"}, 1000,
		redlock.WithRetryCount(10), redlock.WithRetryDelay(time.Millisecond), redlock.WithRetryJitter(0))
	require.Error(t, err)

	var execErr *redlock.ExecutionFailedError
	require.ErrorAs(t, err, &execErr)
	assert.Len(t, execErr.Attempts, 11, "retryCount=10 must yield exactly 11 total attempts")

	for _, attempt := range execErr.Attempts {
		<-attempt.Done()
		for _, voteErr := range attempt.VotesAgainst() {
			assert.True(t, errors.Is(voteErr, redlock.ErrResourceLocked))
		}
	}
}

// =============================================================================
// Boundary scenario 3: unreachable server
// =============================================================================

func TestBoundary_UnreachableServer(t *testing.T) {
	mr1 := miniredis.RunT(t)
	mr2 := miniredis.RunT(t)
	mr3 := miniredis.RunT(t)

	client1 := redis.NewClient(&redis.Options{Addr: mr1.Addr()})
	client2 := redis.NewClient(&redis.Options{Addr: mr2.Addr()})
	client3 := redis.NewClient(&redis.Options{Addr: mr3.Addr()})
	t.Cleanup(func() { _ = client1.Close(); _ = client2.Close(); _ = client3.Close() })

	// 全部三台都不可达。
	mr1.Close()
	mr2.Close()
	mr3.Close()

	m, err := redlock.NewManager([]redis.UniversalClient{client1, client2, client3})
	require.NoError(t, err)

	_, err = m.Acquire(context.Background(), []string{"nowhere"}, 1000,
		redlock.WithRetryCount(2), redlock.WithRetryDelay(time.Millisecond), redlock.WithRetryJitter(0))
	require.Error(t, err)

	var execErr *redlock.ExecutionFailedError
	require.ErrorAs(t, err, &execErr)
	assert.Len(t, execErr.Attempts, 3, "retryCount=2 must yield exactly 3 total attempts")

	for _, attempt := range execErr.Attempts {
		<-attempt.Done()
		for _, voteErr := range attempt.VotesAgainst() {
			assert.True(t, errors.Is(voteErr, redlock.ErrTransport))
		}
	}
}

// =============================================================================
// Boundary scenario 4: auto-expiry
// =============================================================================

func TestBoundary_AutoExpiry(t *testing.T) {
	m, servers := newMiniManager(t, 1)
	ctx := context.Background()

	_, err := m.Acquire(ctx, []string{"expires-soon"}, 200)
	require.NoError(t, err)

	// miniredis 的 TTL 不随真实时间递减，用 FastForward 推进 300ms。
	servers[0].FastForward(300 * time.Millisecond)

	second, err := m.Acquire(ctx, []string{"expires-soon"}, 1000)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = second.Release(context.Background()) })
}

// =============================================================================
// Boundary scenario 5: overlapping multi-key acquisition
// =============================================================================

func TestBoundary_OverlappingMultiKey(t *testing.T) {
	m, servers := newMiniManager(t, 1)
	mr := servers[0]
	ctx := context.Background()

	ab, err := m.Acquire(ctx, []string{"a", "b"}, 5000)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = ab.Release(context.Background()) })

	_, err = m.Acquire(ctx, []string{"b", "c"}, 1000, redlock.WithRetryCount(0))
	require.Error(t, err)

	assert.False(t, mr.Exists("c"), "c must not be left locked on any server when the multi-key acquire fails")
}

// =============================================================================
// Round-trip / idempotence properties
// =============================================================================

func TestRoundTrip_AcquireThenReleaseRestoresKeyspace(t *testing.T) {
	m, servers := newMiniManager(t, 1)
	mr := servers[0]
	ctx := context.Background()

	lock, err := m.Acquire(ctx, []string{"roundtrip"}, 1000)
	require.NoError(t, err)

	_, err = lock.Release(ctx)
	require.NoError(t, err)
	assert.False(t, mr.Exists("roundtrip"))
}

func TestRelease_IdempotentSecondCallDeletesNothingAndDoesNotError(t *testing.T) {
	m, _ := newMiniManager(t, 1)
	ctx := context.Background()

	lock, err := m.Acquire(ctx, []string{"idempotent"}, 1000)
	require.NoError(t, err)

	_, err = m.Release(ctx, lock)
	require.NoError(t, err)

	result, err := m.Release(ctx, lock)
	require.NoError(t, err)
	assert.NotNil(t, result)
}
