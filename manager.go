package redlock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Manager 是分布式锁的入口：拥有整套 Server Adapter，实现
// Acquire/Extend/Release 三个公开操作。构造后配置只读，可安全被多个
// goroutine 共享调用；单个 Lock 值本身则应由一个逻辑调用方独占操作
// (spec 的非目标之一是可重入/并发安全地共享同一把已获取的锁)。
type Manager struct {
	adapters        []*serverAdapter
	defaultSettings Settings
	clock           clockwork.Clock
	errors          *errorBroadcaster
}

// ManagerOption 配置 NewManager。
type ManagerOption func(*Manager)

// WithDefaultSettings 设置本 Manager 上所有调用的默认 Settings。
func WithDefaultSettings(s Settings) ManagerOption {
	return func(m *Manager) { m.defaultSettings = s }
}

// WithClock 注入自定义时钟，主要用于测试中以 clockwork.NewFakeClock()
// 驱动重试退避与自动续期定时器，避免真实 sleep。
func WithClock(clock clockwork.Clock) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewManager 创建一个跨 servers 的锁管理器。servers 不能为空，且其中不能
// 含有 nil 客户端。
func NewManager(servers []redis.UniversalClient, opts ...ManagerOption) (*Manager, error) {
	if len(servers) == 0 {
		return nil, newInvalidArgument("servers", "at least one server is required")
	}

	m := &Manager{
		defaultSettings: DefaultSettings(),
		clock:           clockwork.NewRealClock(),
		errors:          newErrorBroadcaster(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.adapters = make([]*serverAdapter, len(servers))
	for i, client := range servers {
		if client == nil {
			return nil, fmt.Errorf("%w: server at index %d is nil", ErrNilClient, i)
		}
		id := ServerID(i)
		m.adapters[i] = newServerAdapter(id, client, func(se ServerError) { m.errors.emit(se) })
	}

	return m, nil
}

// OnError 注册一个观察者，接收适配器层看到的每一次传输/冲突错误。
// 返回取消订阅函数。未注册任何监听器时，错误默认被静默丢弃。
func (m *Manager) OnError(l ErrorListener) (unsubscribe func()) {
	return m.errors.subscribe(l)
}

// Health 对全部配置的服务器执行一次 PING，返回一个 joined error 指出哪些
// 服务器不可达；全部可达时返回 nil。
func (m *Manager) Health(ctx context.Context) error {
	var errs []error
	for _, a := range m.adapters {
		if err := a.client.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("server %d: %w", a.id, err))
		}
	}
	return errors.Join(errs...)
}

// resolveSettings 以 Manager 的默认配置为基底，逐项应用 opts。
func (m *Manager) resolveSettings(opts ...SettingsOption) Settings {
	s := m.defaultSettings
	for _, opt := range opts {
		opt(&s)
	}
	s.normalizeDB()
	return s
}

// computeDriftMS 实现 spec 的漂移公式: round(driftFactor * duration) + 2。
func computeDriftMS(driftFactor float64, durationMS int64) int64 {
	return int64(math.Round(driftFactor*float64(durationMS))) + 2
}

func expirationFrom(start time.Time, durationMS, driftMS int64) time.Time {
	return start.Add(time.Duration(durationMS)*time.Millisecond - time.Duration(driftMS)*time.Millisecond)
}

// Acquire 尝试独占持有全部 resources 达 durationMS 毫秒。
// 成功时返回一把新的 Lock；失败时对已经在少数服务器上创建成功的 key
// 发起一次尽力而为的清理释放，然后把原始错误返回给调用方。
func (m *Manager) Acquire(ctx context.Context, resources []string, durationMS int64, opts ...SettingsOption) (*Lock, error) {
	if durationMS < 1 {
		return nil, newInvalidArgument("duration", "must be an integer >= 1ms")
	}
	if len(resources) == 0 {
		return nil, newInvalidArgument("resources", "at least one resource key is required")
	}

	settings := m.resolveSettings(opts...)
	value := newLockValue()
	duration := time.Duration(durationMS) * time.Millisecond

	result, err := runWithRetry(ctx, m.clock, m.adapters, settings, func(ctx context.Context, a *serverAdapter) (bool, int, error) {
		return a.acquireOne(ctx, settings.DB, value, duration, resources)
	})
	if err != nil {
		m.bestEffortRelease(resources, value, settings)
		return nil, err
	}

	driftMS := computeDriftMS(settings.DriftFactor, durationMS)
	expiration := expirationFrom(result.Start, durationMS, driftMS)

	lock := &Lock{
		resources: append([]string(nil), resources...),
		value:     value,
		attempts:  result.Attempts,
		manager:   m,
		settings:  settings,
	}
	lock.expiration.Store(expiration.UnixNano())
	return lock, nil
}

// bestEffortRelease 在 acquire 失败后清理可能已在少数服务器上落地的 key。
// 使用独立的清理 context（5 秒超时），不受调用方原始 ctx 取消/超时影响，
// 借鉴 teacher redis.go 里 Unlock 遇到 ctx 已失效时切换到独立清理上下文
// 的做法；任何错误都被静默吞掉。
func (m *Manager) bestEffortRelease(resources []string, value [16]byte, settings Settings) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cleanupSettings := settings
	cleanupSettings.RetryCount = 0

	_, _ = runWithRetry(cleanupCtx, m.clock, m.adapters, cleanupSettings, func(ctx context.Context, a *serverAdapter) (bool, int, error) {
		return a.releaseOne(ctx, cleanupSettings.DB, value, resources)
	})
}

// Extend 续期一把仍然有效的锁。若 lock 已经过期，返回
// ExecutionFailedError 且不改变 lock。成功时原 lock 被 tombstone，
// 返回共享同一批 resources/value 但拥有全新 attempts 与过期时间的新 Lock。
func (m *Manager) Extend(ctx context.Context, lock *Lock, durationMS int64, opts ...SettingsOption) (*Lock, error) {
	if lock == nil {
		return nil, ErrNilLock
	}
	if durationMS < 1 {
		return nil, newInvalidArgument("duration", "must be an integer >= 1ms")
	}

	exp := lock.Expiration()
	if exp == 0 || m.clock.Now().UnixNano() > exp {
		return nil, &ExecutionFailedError{Message: "cannot extend an already-expired lock"}
	}

	settings := m.resolveSettings(opts...)
	duration := time.Duration(durationMS) * time.Millisecond

	result, err := runWithRetry(ctx, m.clock, m.adapters, settings, func(ctx context.Context, a *serverAdapter) (bool, int, error) {
		return a.extendOne(ctx, settings.DB, lock.value, duration, lock.resources)
	})
	if err != nil {
		return nil, err
	}

	lock.tombstone()

	driftMS := computeDriftMS(settings.DriftFactor, durationMS)
	expiration := expirationFrom(result.Start, durationMS, driftMS)

	newLock := &Lock{
		resources: lock.resources,
		value:     lock.value,
		attempts:  result.Attempts,
		manager:   m,
		settings:  settings,
	}
	newLock.expiration.Store(expiration.UnixNano())
	return newLock, nil
}

// Release 释放一把锁。无论远端是否达成 quorum，lock 立刻被本地
// tombstone——调用方已经表达了放弃锁的意图，quorum 失败时更好的选择是
// 让远端 TTL 自然过期，而不是让调用方继续把它当作有效锁使用。
func (m *Manager) Release(ctx context.Context, lock *Lock, opts ...SettingsOption) (*ExecutionResult, error) {
	if lock == nil {
		return nil, ErrNilLock
	}
	lock.tombstone()

	settings := m.resolveSettings(opts...)
	result, err := runWithRetry(ctx, m.clock, m.adapters, settings, func(ctx context.Context, a *serverAdapter) (bool, int, error) {
		return a.releaseOne(ctx, settings.DB, lock.value, lock.resources)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
