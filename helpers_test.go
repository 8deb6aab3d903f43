package redlock_test

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/redlock"
)

// fakeClockManager 打包一个由 clockwork.FakeClock 驱动的 Manager，用于需要
// 确定性地推进时间（漂移、过期、自动续期定时器）的测试。
type fakeClockManager struct {
	manager *redlock.Manager
	clock   *clockwork.FakeClock
	servers []*miniredis.Miniredis
}

func newFakeClockManager(t *testing.T, n int) *fakeClockManager {
	t.Helper()

	fake := clockwork.NewFakeClock()
	servers := make([]*miniredis.Miniredis, n)
	clients := make([]redis.UniversalClient, n)
	for i := 0; i < n; i++ {
		mr := miniredis.RunT(t)
		servers[i] = mr
		clients[i] = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = clients[i].Close() })
	}

	m, err := redlock.NewManager(clients, redlock.WithClock(fake))
	require.NoError(t, err)

	return &fakeClockManager{manager: m, clock: fake, servers: servers}
}
