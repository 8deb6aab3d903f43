package redlock

import (
	"context"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
)

// 三个远端原子脚本，按 spec 的 KEYS/ARGV 约定编写。全部以一次 pcall SELECT
// 开头，容忍不支持按库选择的部署（如集群模式）——SELECT 失败被静默吞掉。
//
// go-redis 的 Script.Run 自身实现了懒加载、幂等的脚本注入：先尝试 EVALSHA，
// 命中 NOSCRIPT 时自动退化为 EVAL 并让服务器缓存 SHA，调用方无需单独的
// SCRIPT LOAD 步骤。
var (
	acquireScript = redis.NewScript(`
		redis.pcall('SELECT', ARGV[1])
		for i, key in ipairs(KEYS) do
			if redis.call('EXISTS', key) == 1 then
				return 0
			end
		end
		for i, key in ipairs(KEYS) do
			redis.call('SET', key, ARGV[2], 'PX', ARGV[3])
		end
		return #KEYS
	`)

	extendScript = redis.NewScript(`
		redis.pcall('SELECT', ARGV[1])
		for i, key in ipairs(KEYS) do
			if redis.call('GET', key) ~= ARGV[2] then
				return 0
			end
		end
		for i, key in ipairs(KEYS) do
			redis.call('SET', key, ARGV[2], 'PX', ARGV[3])
		end
		return #KEYS
	`)

	releaseScript = redis.NewScript(`
		redis.pcall('SELECT', ARGV[1])
		local count = 0
		for i, key in ipairs(KEYS) do
			if redis.call('GET', key) == ARGV[2] then
				redis.call('DEL', key)
				count = count + 1
			end
		end
		return count
	`)
)

// serverAdapter 在一台服务器上执行 acquire/extend/release 三个原子命令。
// 所有失败（连接断开、超时、非整数回复、熔断打开）都被转换为一次反对票，
// 从不向 Vote Collector 抛出普通错误——唯一的例外是编程错误：
// newServerAdapter 在 client 为 nil 时直接 panic（NewManager 会先以
// ErrNilClient 拒绝 nil 客户端）；调用过程中的 panic 属于未定义行为，
// 由 Vote Collector 的 panic 恢复逻辑转为 FatalError。
type serverAdapter struct {
	id      ServerID
	client  redis.UniversalClient
	breaker *serverBreaker
	emit    func(ServerError)
}

func newServerAdapter(id ServerID, client redis.UniversalClient, emit func(ServerError)) *serverAdapter {
	if client == nil {
		panic("redlock: serverAdapter created without a client")
	}
	return &serverAdapter{
		id:      id,
		client:  client,
		breaker: newServerBreaker(id),
		emit:    emit,
	}
}

// acquireOne 执行一次 acquire 脚本。ok 为 true 当且仅当返回值等于请求的 key 数；
// 脚本正常执行但计数不足时记为一张 ResourceLocked 反对票，而不是传输失败。
func (a *serverAdapter) acquireOne(ctx context.Context, db int, value [16]byte, duration time.Duration, keys []string) (ok bool, count int, err error) {
	n, err := a.runScript(ctx, "acquire", acquireScript, db, value, duration, keys)
	if err != nil {
		return false, 0, err
	}
	if n != len(keys) {
		return false, n, ErrResourceLocked
	}
	return true, n, nil
}

// extendOne 执行一次 extend 脚本。ok 为 true 当且仅当所有 key 的当前值都匹配；
// 值不匹配（锁已经易主或过期被回收）同样记为一张 ResourceLocked 反对票。
func (a *serverAdapter) extendOne(ctx context.Context, db int, value [16]byte, duration time.Duration, keys []string) (ok bool, count int, err error) {
	n, err := a.runScript(ctx, "extend", extendScript, db, value, duration, keys)
	if err != nil {
		return false, 0, err
	}
	if n != len(keys) {
		return false, n, ErrResourceLocked
	}
	return true, n, nil
}

// releaseOne 执行一次 release 脚本。只要 RPC 本身没有失败就视为成功投票，
// 删除计数可以合法为 0（例如重复释放），这不算失败。
func (a *serverAdapter) releaseOne(ctx context.Context, db int, value [16]byte, keys []string) (ok bool, count int, err error) {
	n, err := a.runScript(ctx, "release", releaseScript, db, value, 0, keys)
	if err != nil {
		return false, 0, err
	}
	return true, n, nil
}

// runScript 在熔断器保护下执行给定脚本并把结果规整为 int。
// duration 对 release 无意义，调用方传 0。
//
// 熔断器内层再套一层 avast/retry-go/v5 的小额重试（至多 2 次，10ms 固定
// 间隔），只吸收单次 RPC 级别的瞬时抖动（比如连接被服务端主动断开后的
// 一次重连）；熔断器打开时 Execute 根本不会进入这个闭包，重试预算无从
// 谈起。这与 Retry Engine 那种跨全部服务器、按 quorum 判定成败的重试是
// 两个不同量级的概念，前者是链路层的自愈，后者才是算法本身，因此故意
// 分别用两套机制承载。
func (a *serverAdapter) runScript(ctx context.Context, op string, script *redis.Script, db int, value [16]byte, duration time.Duration, keys []string) (int, error) {
	var n int
	valueHex := lockValueHex(value)

	err := a.breaker.do(ctx, func() error {
		return retry.New(
			retry.Context(ctx),
			retry.Attempts(2),
			retry.DelayType(retry.FixedDelay),
			retry.Delay(10*time.Millisecond),
			retry.RetryIf(func(err error) bool {
				return retry.IsRecoverable(err) && ctx.Err() == nil
			}),
			retry.LastErrorOnly(true),
		).Do(func() error {
			var argv []any
			if op == "release" {
				argv = []any{db, valueHex}
			} else {
				argv = []any{db, valueHex, duration.Milliseconds()}
			}

			res, runErr := script.Run(ctx, a.client, keys, argv...).Result()
			if runErr != nil {
				return runErr
			}

			v, ok := asInt(res)
			if !ok {
				return retry.Unrecoverable(fmt.Errorf("redlock: unexpected script reply type %T", res))
			}
			n = v
			return nil
		})
	})

	if err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrTransport, err)
		a.emit(ServerError{Server: a.id, Op: op, Err: wrapped})
		return 0, wrapped
	}
	return n, nil
}

// asInt 规整 go-redis 脚本整数回复的实际底层类型。
func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int64:
		return int(t), true
	case int:
		return t, true
	default:
		return 0, false
	}
}
