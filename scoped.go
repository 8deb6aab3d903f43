package redlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Signal 是作用域持有期间传给用户例程的被动取消信号。
//
// 例程必须主动轮询 Aborted()/Done()（或把 Signal 传给内层能感知取消的
// 操作）；abort 本身不会强行终止例程。
type Signal struct {
	aborted   atomic.Bool
	mu        sync.Mutex
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

func newSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Aborted 返回自动续期是否已经放弃续期这把锁。
func (s *Signal) Aborted() bool { return s.aborted.Load() }

// Err 返回导致 abort 的错误；未 abort 时为 nil。
func (s *Signal) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done 返回一个在 abort 发生时关闭的 channel，便于 select。
func (s *Signal) Done() <-chan struct{} { return s.done }

func (s *Signal) abort(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	if s.aborted.CompareAndSwap(false, true) {
		s.closeOnce.Do(func() { close(s.done) })
	}
}

// scopedHolder 驱动 Using 的自动续期状态机: [acquired] -> [waiting] ->
// [extending] -> 成功则 requeue，失败且未过期则原地重试，失败且已过期则
// abort。
type scopedHolder struct {
	m          *Manager
	durationMS int64
	settings   Settings
	lock       atomic.Pointer[Lock]
	extensions atomic.Int64
}

func (h *scopedHolder) run(ctx context.Context, sig *Signal, done chan<- struct{}) {
	defer close(done)

	for {
		current := h.lock.Load()
		exp := current.Expiration()
		if exp == 0 {
			return
		}

		target := time.Unix(0, exp).Add(-h.settings.AutoExtensionThreshold)
		d := target.Sub(h.m.clock.Now())
		if d < 0 {
			d = 0
		}

		timer := h.m.clock.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		newLock, extErr := h.extendUntilSettled(ctx, current, sig)
		if extErr != nil {
			return // 已经 abort
		}
		if newLock == nil {
			return // 退出路径取消了 ctx，例程已经结束
		}
		h.lock.Store(newLock)
		h.extensions.Add(1)
	}
}

// extendUntilSettled 在锁未过期前对续期失败原地重试(tail-recursive per
// spec)，一旦当前时间越过锁的过期时间仍未成功，就记录错误并 abort。
func (h *scopedHolder) extendUntilSettled(ctx context.Context, current *Lock, sig *Signal) (*Lock, error) {
	for {
		newLock, err := h.m.Extend(ctx, current, h.durationMS, withResolvedSettings(h.settings))
		if err == nil {
			return newLock, nil
		}
		if ctx.Err() != nil {
			return nil, nil
		}
		if h.m.clock.Now().UnixNano() < current.Expiration() {
			continue
		}
		sig.abort(err)
		return nil, err
	}
}

// Using 获取一把跨 resources 的锁，在后台保持自动续期的同时运行 fn，
// 并保证在任何退出路径上都释放锁恰好一次。
//
// fn 接收 (ctx, signal)；signal 在自动续期彻底失败时被 abort，fn 应当
// 定期检查 signal.Aborted()（或把 signal 传给内层可感知取消的调用）。
//
// 由于 Go 方法不支持类型参数，这里遵循 teacher 自带
// xretry.DoWithResult[T] 的包级泛型函数写法。
func Using[T any](ctx context.Context, m *Manager, resources []string, durationMS int64, fn func(ctx context.Context, sig *Signal) (T, error), opts ...SettingsOption) (T, error) {
	var zero T

	settings := m.resolveSettings(opts...)
	if durationMS < 1 {
		return zero, newInvalidArgument("duration", "must be an integer >= 1ms")
	}
	if settings.AutoExtensionThreshold > time.Duration(durationMS-100)*time.Millisecond {
		return zero, newInvalidArgument("automaticExtensionThreshold", "must be <= duration-100ms")
	}

	lock, err := m.Acquire(ctx, resources, durationMS, withResolvedSettings(settings))
	if err != nil {
		return zero, err
	}

	holder := &scopedHolder{m: m, durationMS: durationMS, settings: settings}
	holder.lock.Store(lock)

	sig := newSignal()
	extCtx, extCancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go holder.run(extCtx, sig, done)

	defer func() {
		if p := recover(); p != nil {
			extCancel()
			<-done
			_, _ = m.Release(context.Background(), holder.lock.Load(), withResolvedSettings(settings))
			panic(p)
		}
	}()

	result, fnErr := fn(ctx, sig)

	extCancel()
	<-done

	finalLock := holder.lock.Load()
	_, relErr := m.Release(context.Background(), finalLock, withResolvedSettings(settings))
	if relErr != nil {
		if fnErr != nil {
			fnErr = errors.Join(fnErr, relErr)
		} else {
			fnErr = relErr
		}
	}
	return result, fnErr
}
