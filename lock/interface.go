package lock

import (
	"context"
	"fmt"
	"time"
)

// DistributedLock 分布式锁接口
// 单实例部署时使用 NopLock（进程内互斥由 ledger 包保证），
// 多实例部署时必须启用 Redis 实现，将策略级与再平衡级互斥提升为跨进程互斥。
type DistributedLock interface {
	// Lock 获取锁，阻塞直到成功或 ctx 超时
	Lock(ctx context.Context, key string, ttl time.Duration) error

	// TryLock 尝试获取锁，立即返回
	// 返回 true 表示成功获取锁，false 表示锁已被占用
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock 释放锁
	Unlock(ctx context.Context, key string) error

	// Extend 延长锁的过期时间
	Extend(ctx context.Context, key string, ttl time.Duration) error

	// Close 关闭连接
	Close() error
}

// StrategyKey 策略级互斥的锁 key
func StrategyKey(strategyName string) string {
	return fmt.Sprintf("strategy:%s", strategyName)
}

// RebalanceKey 再平衡单飞锁 key
func RebalanceKey() string {
	return "rebalance"
}

// NopLock 空实现（单实例模式）
type NopLock struct{}

func NewNopLock() *NopLock {
	return &NopLock{}
}

func (n *NopLock) Lock(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (n *NopLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (n *NopLock) Unlock(ctx context.Context, key string) error {
	return nil
}

func (n *NopLock) Extend(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (n *NopLock) Close() error {
	return nil
}
