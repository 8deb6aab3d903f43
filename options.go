package redlock

import "time"

// Settings 是一次 acquire/extend/release/Using 调用的可调参数集合。
// 通过 DefaultSettings 取得默认值，再用 SettingsOption 逐项覆盖。
type Settings struct {
	// DriftFactor 是从有效过期时间中扣除的时长占 duration 的比例，
	// 用于补偿服务器 TTL 精度和时钟漂移。默认 0.01。
	DriftFactor float64

	// RetryCount 是首次尝试之外允许的最大额外尝试次数。
	// 默认 10；哨兵值 -1 表示不限重试次数。
	RetryCount int

	// RetryDelay 是两次尝试之间的基础延迟。默认 200ms。
	RetryDelay time.Duration

	// RetryJitter 是叠加在 RetryDelay 上的对称抖动幅度。默认 100ms。
	RetryJitter time.Duration

	// AutoExtensionThreshold 是 Using 在锁到期前多久调度一次续期。默认 500ms。
	AutoExtensionThreshold time.Duration

	// DB 是服务端数据库索引，取值范围 0-15。超出范围的值会被静默纠正为 0，
	// 以兼容不支持 SELECT 的部署（如集群模式）。默认 0。
	DB int
}

// DefaultSettings 返回默认配置的副本。
func DefaultSettings() Settings {
	return Settings{
		DriftFactor:            0.01,
		RetryCount:             10,
		RetryDelay:             200 * time.Millisecond,
		RetryJitter:            100 * time.Millisecond,
		AutoExtensionThreshold: 500 * time.Millisecond,
		DB:                     0,
	}
}

// normalizeDB 将越界的 DB 静默纠正为 0。
func (s *Settings) normalizeDB() {
	if s.DB < 0 || s.DB > 15 {
		s.DB = 0
	}
}

// SettingsOption 是覆盖单个 Settings 字段的配置函数。
type SettingsOption func(*Settings)

// WithDriftFactor 设置时钟漂移补偿因子。
func WithDriftFactor(f float64) SettingsOption {
	return func(s *Settings) { s.DriftFactor = f }
}

// WithRetryCount 设置最大额外重试次数；-1 表示不限重试次数。
// 小于 -1 的值会被静默忽略，保留当前值。
func WithRetryCount(n int) SettingsOption {
	return func(s *Settings) {
		if n >= -1 {
			s.RetryCount = n
		}
	}
}

// WithRetryDelay 设置两次尝试之间的基础延迟。
func WithRetryDelay(d time.Duration) SettingsOption {
	return func(s *Settings) {
		if d >= 0 {
			s.RetryDelay = d
		}
	}
}

// WithRetryJitter 设置对称抖动幅度。
func WithRetryJitter(d time.Duration) SettingsOption {
	return func(s *Settings) {
		if d >= 0 {
			s.RetryJitter = d
		}
	}
}

// WithAutoExtensionThreshold 设置 Using 提前续期的时间窗口。
func WithAutoExtensionThreshold(d time.Duration) SettingsOption {
	return func(s *Settings) { s.AutoExtensionThreshold = d }
}

// WithDB 设置服务端数据库索引。越界值在实际使用前会被纠正为 0。
func WithDB(n int) SettingsOption {
	return func(s *Settings) { s.DB = n }
}

// withResolvedSettings 是一个内部 SettingsOption，用于把已经解析好的完整
// Settings 原样传递下去（Using 内部续期/释放复用同一份配置时使用）。
func withResolvedSettings(resolved Settings) SettingsOption {
	return func(s *Settings) { *s = resolved }
}
