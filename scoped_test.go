package redlock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/redlock"
)

// =============================================================================
// Boundary scenario 6: scoped auto-extension
// =============================================================================

func TestBoundary_ScopedAutoExtension(t *testing.T) {
	m, servers := newMiniManager(t, 1)
	mr := servers[0]
	ctx := context.Background()

	var observedValue string
	var extendedAtLeastOnce bool
	sameValueThroughout := true

	result, err := redlock.Using(ctx, m, []string{"x"}, 500,
		func(ctx context.Context, sig *redlock.Signal) (string, error) {
			observedValue, _ = mr.Get("x")
			lastTTL := mr.TTL("x")
			deadline := time.After(700 * time.Millisecond)
			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-deadline:
					return "done", nil
				case <-ticker.C:
					if sig.Aborted() {
						return "", sig.Err()
					}
					// miniredis 的 TTL 不随真实时间递减，这里按 tick 同步推进；
					// TTL 回升说明远端 key 被续期过。
					mr.FastForward(50 * time.Millisecond)
					v, _ := mr.Get("x")
					if v != observedValue {
						sameValueThroughout = false
					}
					ttl := mr.TTL("x")
					if ttl > lastTTL {
						extendedAtLeastOnce = true
					}
					lastTTL = ttl
				}
			}
		},
		redlock.WithAutoExtensionThreshold(200*time.Millisecond),
	)

	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.False(t, mr.Exists("x"), "key must be deleted on exit")
	assert.NotEmpty(t, observedValue, "lock value must be present when the routine starts")
	assert.True(t, sameValueThroughout, "lock value must remain the same lock value throughout")
	assert.True(t, extendedAtLeastOnce, "at least one extension must have fired during the 700ms routine")
}

func TestUsing_RejectsThresholdTooCloseToDuration(t *testing.T) {
	m, _ := newMiniManager(t, 1)

	_, err := redlock.Using(context.Background(), m, []string{"y"}, 500,
		func(ctx context.Context, sig *redlock.Signal) (int, error) { return 0, nil },
		redlock.WithAutoExtensionThreshold(450*time.Millisecond),
	)

	var invalidErr *redlock.InvalidArgumentError
	assert.ErrorAs(t, err, &invalidErr)
}

func TestUsing_ReleasesEvenWhenRoutineErrors(t *testing.T) {
	m, servers := newMiniManager(t, 1)
	mr := servers[0]

	boom := assert.AnError
	_, err := redlock.Using(context.Background(), m, []string{"z"}, 1000,
		func(ctx context.Context, sig *redlock.Signal) (struct{}, error) {
			return struct{}{}, boom
		},
	)

	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("z"))
}
