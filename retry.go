package redlock

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
)

// runWithRetry 驱动 Vote Collector 完成一次完整的多轮尝试操作。
//
// 这段循环是 spec 意义上的核心算法内容，故意没有借助 teacher 自带的
// pkg/resilience/xretry（底层是 avast/retry-go/v5）：那一层的 Do 以
// "返回 error 即重试" 为契约，而这里的成败取决于 Vote Collector 的
// 阈值判定而非错误本身，且必须保留每一轮的 ExecutionStats 句柄、支持
// retryCount == -1 的无限重试哨兵——硬套通用重试库的控制流会让算法本身
// 变得不透明。详见 DESIGN.md。
func runWithRetry(ctx context.Context, clock clockwork.Clock, adapters []*serverAdapter, settings Settings, call adapterCall) (*ExecutionResult, error) {
	var attempts []*ExecutionStats

	for attemptIndex := 0; ; attemptIndex++ {
		stats, forDecided, fatal := collectVotes(ctx, adapters, clock, call)
		attempts = append(attempts, stats)

		if fatal != nil {
			return nil, fatal
		}
		if forDecided {
			return &ExecutionResult{Attempts: attempts, Start: stats.StartedAt()}, nil
		}

		if !moreAttemptsAllowed(settings.RetryCount, attemptIndex) {
			break
		}

		delay := jitteredDelay(settings.RetryDelay, settings.RetryJitter)
		if delay > 0 {
			timer := clock.NewTimer(delay)
			select {
			case <-timer.Chan():
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}
	}

	return nil, &ExecutionFailedError{Attempts: attempts}
}

// moreAttemptsAllowed 判断在完成第 attemptIndex 轮(从 0 开始)尝试后，是否
// 还应该发起下一轮。retryCount == -1 表示无限重试；否则总尝试次数上限为
// retryCount+1。
func moreAttemptsAllowed(retryCount, attemptIndex int) bool {
	if retryCount == -1 {
		return true
	}
	maxAttempts := retryCount + 1
	return attemptIndex+1 < maxAttempts
}

// jitteredDelay 计算 max(0, base + uniform(-jitter, +jitter))。
// 抖动使用 crypto/rand 采样，与 teacher 自带 xretry 退避策略的随机源保持
// 一致的风格。
func jitteredDelay(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		if base < 0 {
			return 0
		}
		return base
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return base
	}
	// [0,1) 均匀分布，再映射到 [-1,1)
	u := float64(binary.BigEndian.Uint64(buf[:])>>11) / float64(1<<53)
	factor := u*2 - 1

	offset := time.Duration(math.Round(factor * float64(jitter)))
	d := base + offset
	if d < 0 {
		return 0
	}
	return d
}
