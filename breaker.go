package redlock

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// serverBreaker 是每台服务器一个的传输层熔断器。
//
// 熔断只作用于适配器与远端之间的 RPC 调用本身：一旦触发，adapter 会把
// gobreaker 返回的错误当成普通的传输失败折叠进反对票，Lock Manager
// 感知不到熔断的存在，仍然只看到 For/Against 两种投票结果。
// 触发条件借鉴 xbreaker 的默认策略：连续失败达到阈值即打开。
type serverBreaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// breakerConsecutiveFailures 是触发熔断所需的连续失败次数。
const breakerConsecutiveFailures = 5

// breakerOpenTimeout 是熔断器从 Open 转入 HalfOpen 的等待时间。
const breakerOpenTimeout = 30 * time.Second

func newServerBreaker(id ServerID) *serverBreaker {
	settings := gobreaker.Settings{
		Name:    fmt.Sprintf("redlock.server[%d]", id),
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
	}
	return &serverBreaker{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// do 在熔断器保护下执行一次 RPC。context 取消会直接短路，不计入熔断统计。
func (b *serverBreaker) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}
