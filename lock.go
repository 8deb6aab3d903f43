package redlock

import (
	"context"
	"encoding/hex"
	"sync/atomic"

	"github.com/google/uuid"
)

// newLockValue 生成一个 128 位加密安全的随机锁值。
//
// 熵源使用 google/uuid（内部基于 crypto/rand）而不是直接调用
// crypto/rand.Read，复用 xcron/locker_redis.go 里已经验证过的锁令牌生成
// 方式；但这里取的是 UUID 的原始 16 字节，而不是带连字符的字符串形式，
// 这样 Lock.Value() 输出的正好是 spec 要求的 32 位十六进制串。
func newLockValue() [16]byte {
	return uuid.New()
}

func lockValueHex(v [16]byte) string {
	return hex.EncodeToString(v[:])
}

// Lock 表示一次成功的多服务器获取（或续期）。
//
// 身份字段（resources、value、manager）不可变；expiration 是唯一的可变
// 字段，被 release/extend 写入、被 Using 的后台续期定时器读取，因此用
// atomic 承载以满足跨 goroutine 的发布/观察语义。
type Lock struct {
	resources  []string
	value      [16]byte
	attempts   []*ExecutionStats
	manager    *Manager
	settings   Settings // 生产本锁那次调用所解析出的完整配置，供 Extend/Release 的 sugar 方法复用
	expiration atomic.Int64
}

// Resources 返回本次获取覆盖的资源 key 列表副本。
func (l *Lock) Resources() []string {
	out := make([]string, len(l.resources))
	copy(out, l.resources)
	return out
}

// Value 返回 32 位十六进制形式的锁值。
func (l *Lock) Value() string { return lockValueHex(l.value) }

// Attempts 返回获取（或续期）本锁过程中的每轮尝试统计。
func (l *Lock) Attempts() []*ExecutionStats { return l.attempts }

// Expiration 返回当前有效过期时间戳（UnixNano）；0 表示已被 tombstone。
func (l *Lock) Expiration() int64 { return l.expiration.Load() }

func (l *Lock) tombstone() { l.expiration.Store(0) }

// Release 是 Manager.Release 的 sugar 方法：默认复用生产本锁那次调用所解析
// 出的配置（尤其是 DB），调用方传入的 opts 在此基础上继续覆盖。
func (l *Lock) Release(ctx context.Context, opts ...SettingsOption) (*ExecutionResult, error) {
	if l == nil {
		return nil, ErrNilLock
	}
	if l.manager == nil {
		return nil, ErrNoManager
	}
	return l.manager.Release(ctx, l, l.settingsOptions(opts)...)
}

// Extend 是 Manager.Extend 的 sugar 方法：默认复用生产本锁那次调用所解析出
// 的配置（尤其是 DB），调用方传入的 opts 在此基础上继续覆盖。
func (l *Lock) Extend(ctx context.Context, durationMS int64, opts ...SettingsOption) (*Lock, error) {
	if l == nil {
		return nil, ErrNilLock
	}
	if l.manager == nil {
		return nil, ErrNoManager
	}
	return l.manager.Extend(ctx, l, durationMS, l.settingsOptions(opts)...)
}

// settingsOptions 把本锁携带的已解析配置作为基底，追加调用方显式提供的
// opts，使显式选项能继续在其之上覆盖单个字段。
func (l *Lock) settingsOptions(opts []SettingsOption) []SettingsOption {
	combined := make([]SettingsOption, 0, len(opts)+1)
	combined = append(combined, withResolvedSettings(l.settings))
	combined = append(combined, opts...)
	return combined
}
