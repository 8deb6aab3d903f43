// Package redlock 实现 Redlock 算法：跨 N 台相互独立的 Redis 兼容服务器的
// 分布式互斥锁客户端。
//
// # 设计理念
//
// 调用方命名一个或多个资源 key，要求在一段有界的时长内独占持有全部资源。
// Manager 向每台配置的服务器并发发起一次原子脚本化的 acquire，只有在
// 严格多数（quorum）在重试预算内应答成功时，才会返回一个锁令牌。持有者
// 可以续期、提前释放，或使用 [Using] 让一个内层例程在运行期间借助后台
// 自动续期始终持有这把锁。
//
// # 核心概念
//
//   - Manager: 持有服务器池，通过 Acquire/Extend/Release 生产 [Lock]
//   - Lock: 一次成功的持有；身份不可变，过期时间可变
//   - Settings: 单次调用可调参数（漂移因子、重试预算、抖动、DB 索引）
//   - Using: acquire + 自动续期 + 保证释放，包裹一段例程
//
// # Non-goals
//
// 不提供公平排队、不支持可重入、进程重启后不持久化锁身份、不做跨资源的
// 死锁检测。完整取舍说明见 DESIGN.md。
package redlock
