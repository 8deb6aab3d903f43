package redlock

import (
	"errors"
	"fmt"
)

// 预定义错误族。
// 使用 errors.Is 进行分类匹配，例如：
//
//	if errors.Is(err, redlock.ErrResourceLocked) {
//	    // 资源已被占用
//	}
var (
	// ErrResourceLocked 表示某台服务器上部分请求的 key 已被占用。
	// 作为一次反对票被记录，同时保留在对应 ExecutionStats.VotesAgainst 中。
	ErrResourceLocked = errors.New("redlock: resource already locked")

	// ErrTransport 表示适配器层的失败（连接断开、超时、非整数回复等）。
	// 同样作为一次反对票被记录。
	ErrTransport = errors.New("redlock: transport failure")

	// ErrNilLock 表示传入的 Lock 为 nil。
	ErrNilLock = errors.New("redlock: lock is nil")

	// ErrNoManager 表示 Lock 没有绑定 Manager，无法使用其上的 sugar 方法。
	ErrNoManager = errors.New("redlock: lock has no manager reference")

	// ErrNilClient 表示传入的 Redis 客户端为空。
	ErrNilClient = errors.New("redlock: server client is nil")
)

// InvalidArgumentError 表示同步校验失败，从不重试。
type InvalidArgumentError struct {
	Field   string
	Message string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("redlock: invalid argument %q: %s", e.Field, e.Message)
}

func newInvalidArgument(field, message string) *InvalidArgumentError {
	return &InvalidArgumentError{Field: field, Message: message}
}

// ExecutionFailedError 表示多轮尝试后仍未达成 quorum 的终态失败。
// 携带完整的每轮尝试统计，便于调用方诊断具体哪些服务器投了反对票。
type ExecutionFailedError struct {
	Message  string
	Attempts []*ExecutionStats
}

func (e *ExecutionFailedError) Error() string {
	if e.Message != "" {
		return "redlock: execution failed: " + e.Message
	}
	return fmt.Sprintf("redlock: execution failed after %d attempt(s)", len(e.Attempts))
}

// FatalError 表示适配器返回了未定义行为下的程序错误（而不是一次反对票）。
// Vote Collector 遇到此类错误会立即中止整个操作，不再重试。
type FatalError struct {
	Server ServerID
	Panic  any
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("redlock: adapter for server %d panicked: %v", e.Server, e.Panic)
}
