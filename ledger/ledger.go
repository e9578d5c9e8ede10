package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"stratpool/lock"
	"stratpool/logger"
	"stratpool/metrics"
)

var (
	// ErrUnknownStrategy 策略未注册
	ErrUnknownStrategy = errors.New("unknown strategy")
	// ErrConcurrentMutation 互斥范围竞争超出重试预算
	ErrConcurrentMutation = errors.New("concurrent mutation conflict")
	// ErrAlreadyLocked 锁状态机非法迁移：重复加锁
	ErrAlreadyLocked = errors.New("strategy already locked")
	// ErrNotLocked 锁状态机非法迁移：未加锁却要解锁
	ErrNotLocked = errors.New("strategy not locked")
)

// 分布式锁竞争的重试预算
const (
	dlockRetries    = 3
	dlockRetryDelay = 200 * time.Millisecond
)

// strategyEntry 单个策略的互斥与锁状态
type strategyEntry struct {
	mu     sync.Mutex  // 串行化该策略的 buy/sell/状态流转
	locked atomic.Bool // UNLOCKED ⇄ LOCKED 状态机，读取无锁
}

// Ledger 持仓锁账本
// 维护每个策略的 UNLOCKED ⇄ LOCKED 状态机（仅由成交事件驱动迁移），
// 同时承担并发模型中的互斥范围：
//   - 同一策略的变更操作串行化（进程内 mutex + 可选 Redis 锁）
//   - 再平衡持有全策略范围且单飞
//
// 锁状态读取是无锁快照，允许轻微滞后，绝不阻塞写入方。
type Ledger struct {
	mu         sync.RWMutex
	strategies map[string]*strategyEntry

	dlock    lock.DistributedLock
	dlockTTL time.Duration
	pm       *metrics.PrometheusMetrics

	rebalanceMu   sync.Mutex
	rebalanceBusy atomic.Bool
}

// New 创建持仓锁账本
func New(dlock lock.DistributedLock, dlockTTL time.Duration) *Ledger {
	if dlock == nil {
		dlock = lock.NewNopLock()
	}
	if dlockTTL <= 0 {
		dlockTTL = 30 * time.Second
	}
	return &Ledger{
		strategies: make(map[string]*strategyEntry),
		dlock:      dlock,
		dlockTTL:   dlockTTL,
		pm:         metrics.GetPrometheusMetrics(),
	}
}

// Register 注册策略（初始化时调用，未注册的策略名会被尽早拒绝）
func (l *Ledger) Register(names ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range names {
		if _, ok := l.strategies[name]; !ok {
			l.strategies[name] = &strategyEntry{}
		}
	}
}

// Known 策略是否已注册
func (l *Ledger) Known(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.strategies[name]
	return ok
}

// Names 返回已注册策略名（排序后）
func (l *Ledger) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.strategies))
	for name := range l.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *Ledger) entry(name string) *strategyEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.strategies[name]
}

// IsLocked 读取锁状态（无锁快照，可能轻微滞后）
func (l *Ledger) IsLocked(name string) bool {
	e := l.entry(name)
	if e == nil {
		return false
	}
	return e.locked.Load()
}

// Lock 标记策略为 LOCKED
// 只允许作为成交事件的副作用调用（持仓从 0 变为非 0 时），重复加锁视为状态机错误。
func (l *Ledger) Lock(name string) error {
	e := l.entry(name)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	if !e.locked.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrAlreadyLocked, name)
	}
	return nil
}

// Unlock 标记策略为 UNLOCKED
// 只允许作为成交事件的副作用调用（持仓归零时），未加锁时解锁视为状态机错误。
func (l *Ledger) Unlock(name string) error {
	e := l.entry(name)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	if !e.locked.CompareAndSwap(true, false) {
		return fmt.Errorf("%w: %s", ErrNotLocked, name)
	}
	return nil
}

// Restore 启动时从持久化状态恢复锁状态（不经过状态机校验）
func (l *Ledger) Restore(name string, locked bool) {
	e := l.entry(name)
	if e != nil {
		e.locked.Store(locked)
	}
}

// Snapshot 返回所有策略的锁状态快照
func (l *Ledger) Snapshot() map[string]bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := make(map[string]bool, len(l.strategies))
	for name, e := range l.strategies {
		snap[name] = e.locked.Load()
	}
	return snap
}

// AcquireStrategy 获取单策略变更互斥范围
// 返回释放函数。同一策略的并发变更被串行化；启用分布式锁时，
// 跨进程竞争超出重试预算返回 ErrConcurrentMutation。
func (l *Ledger) AcquireStrategy(ctx context.Context, name string) (func(), error) {
	e := l.entry(name)
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}

	// 进程内串行化
	e.mu.Lock()

	// 跨进程互斥（NopLock 时恒成功）
	key := lock.StrategyKey(name)
	if err := l.acquireDistributed(ctx, key); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	return func() {
		if err := l.dlock.Unlock(context.Background(), key); err != nil {
			logger.Warn("⚠️ 释放策略锁失败 %s: %v", name, err)
		}
		e.mu.Unlock()
	}, nil
}

// AcquireRebalance 获取再平衡互斥范围
// 单飞：已有再平衡在进行时立即失败。持有期间锁定全部参与策略的互斥，
// 保证权重计算与批量写入之间没有任何 buy/sell 能翻转锁状态。
func (l *Ledger) AcquireRebalance(ctx context.Context, names []string) (func(), error) {
	if !l.rebalanceBusy.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: rebalance already in flight", ErrConcurrentMutation)
	}
	l.rebalanceMu.Lock()

	// 固定顺序获取，避免与并发的单策略操作死锁
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	entries := make([]*strategyEntry, 0, len(sorted))
	release := func(n int) {
		for i := n - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
		l.rebalanceMu.Unlock()
		l.rebalanceBusy.Store(false)
	}

	for _, name := range sorted {
		e := l.entry(name)
		if e == nil {
			release(len(entries))
			return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
		}
		e.mu.Lock()
		entries = append(entries, e)
	}

	key := lock.RebalanceKey()
	if err := l.acquireDistributed(ctx, key); err != nil {
		release(len(entries))
		return nil, err
	}

	return func() {
		if err := l.dlock.Unlock(context.Background(), key); err != nil {
			logger.Warn("⚠️ 释放再平衡锁失败: %v", err)
		}
		release(len(entries))
	}, nil
}

// acquireDistributed 带重试预算的分布式锁获取
func (l *Ledger) acquireDistributed(ctx context.Context, key string) error {
	for i := 0; i < dlockRetries; i++ {
		ok, err := l.dlock.TryLock(ctx, key, l.dlockTTL)
		if err != nil {
			l.pm.RecordLockAcquire(key, "failed")
			return fmt.Errorf("acquire distributed lock %s: %w", key, err)
		}
		if ok {
			l.pm.RecordLockAcquire(key, "success")
			return nil
		}
		l.pm.RecordLockConflict(key)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dlockRetryDelay):
		}
	}
	l.pm.RecordLockAcquire(key, "failed")
	return fmt.Errorf("%w: %s", ErrConcurrentMutation, key)
}
