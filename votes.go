package redlock

import (
	"context"

	"github.com/jonboulle/clockwork"
)

// adapterCall 是 Vote Collector 对单台服务器发起的一次 RPC。
// ok 为 true 代表赞成票，此时 count 才有意义；err 只在 !ok 时被记录为反对
// 票的诊断信息。
type adapterCall func(ctx context.Context, a *serverAdapter) (ok bool, count int, err error)

type voteResult struct {
	server ServerID
	ok     bool
	count  int
	err    error
	panic  any // 非 nil 表示程序错误（未定义行为），必须中止整个操作
}

func safeInvoke(ctx context.Context, a *serverAdapter, call adapterCall) (result voteResult) {
	defer func() {
		if p := recover(); p != nil {
			result = voteResult{server: a.id, panic: p}
		}
	}()
	ok, count, err := call(ctx, a)
	return voteResult{server: a.id, ok: ok, count: count, err: err}
}

// collectVotes 执行一次尝试：并行向全部 adapters 发起 RPC，一旦赞成或反对
// 达到 quorum 立即返回决议，其余票据在后台 goroutine 中继续收集，直至
// N 票全部落定后关闭返回的 ExecutionStats 的 Done channel。
//
// 返回值：
//   - stats: 本轮尝试的统计句柄（立即可用，但可能尚未收满全部投票）
//   - forDecided: true 表示赞成票达成 quorum，false 表示反对票达成 quorum，
//     或全部 N 票落定后双方都未达到 quorum
//   - fatal: 非 nil 表示某个适配器发生了程序错误或 ctx 被取消，操作必须
//     立即中止，不再重试
func collectVotes(ctx context.Context, adapters []*serverAdapter, clock clockwork.Clock, call adapterCall) (stats *ExecutionStats, forDecided bool, fatal error) {
	n := len(adapters)
	quorum := n/2 + 1
	stats = newExecutionStats(n, quorum, clock.Now())

	results := make(chan voteResult, n)
	for _, a := range adapters {
		go func(a *serverAdapter) {
			results <- safeInvoke(ctx, a, call)
		}(a)
	}

	decision := make(chan bool, 1)
	fatalCh := make(chan error, 1)

	go func() {
		decided := false
		for i := 0; i < n; i++ {
			r := <-results
			if r.panic != nil {
				if !decided {
					decided = true
					fatalCh <- &FatalError{Server: r.server, Panic: r.panic}
				}
				continue
			}
			if r.ok {
				if reached := stats.recordFor(r.server, r.count); reached && !decided {
					decided = true
					decision <- true
				}
			} else {
				if reached := stats.recordAgainst(r.server, r.err); reached && !decided {
					decided = true
					decision <- false
				}
			}
		}
		stats.markDone()
		if !decided {
			// N 为偶数时票数可能对半，全部落定仍无一方达到 quorum，按未达成处理。
			decision <- false
		}
	}()

	select {
	case d := <-decision:
		return stats, d, nil
	case err := <-fatalCh:
		return stats, false, err
	case <-ctx.Done():
		return stats, false, ctx.Err()
	}
}
