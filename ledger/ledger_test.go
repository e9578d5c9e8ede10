package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stratpool/lock"
)

func newTestLedger(names ...string) *Ledger {
	l := New(nil, 0)
	l.Register(names...)
	return l
}

func TestLockStateMachine(t *testing.T) {
	l := newTestLedger("momentum", "meanrev")

	if l.IsLocked("momentum") {
		t.Error("新注册策略应为 UNLOCKED")
	}

	if err := l.Lock("momentum"); err != nil {
		t.Fatalf("首次加锁失败: %v", err)
	}
	if !l.IsLocked("momentum") {
		t.Error("加锁后应为 LOCKED")
	}

	if err := l.Lock("momentum"); !errors.Is(err, ErrAlreadyLocked) {
		t.Errorf("重复加锁应返回 ErrAlreadyLocked, 实际: %v", err)
	}

	if err := l.Unlock("momentum"); err != nil {
		t.Fatalf("解锁失败: %v", err)
	}
	if l.IsLocked("momentum") {
		t.Error("解锁后应为 UNLOCKED")
	}

	if err := l.Unlock("momentum"); !errors.Is(err, ErrNotLocked) {
		t.Errorf("未加锁解锁应返回 ErrNotLocked, 实际: %v", err)
	}

	if err := l.Lock("ghost"); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("未注册策略应返回 ErrUnknownStrategy, 实际: %v", err)
	}
}

func TestRestoreAndSnapshot(t *testing.T) {
	l := newTestLedger("a", "b", "c")
	l.Restore("b", true)

	snap := l.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("快照应包含 3 个策略, 实际 %d", len(snap))
	}
	if snap["a"] || !snap["b"] || snap["c"] {
		t.Errorf("快照锁状态不正确: %v", snap)
	}

	names := l.Names()
	if len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("Names 应返回排序后的策略名, 实际: %v", names)
	}
}

func TestAcquireStrategySerializes(t *testing.T) {
	l := newTestLedger("momentum")

	var counter, max, cur int
	var statMu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.AcquireStrategy(context.Background(), "momentum")
			if err != nil {
				t.Errorf("获取策略互斥失败: %v", err)
				return
			}
			defer release()

			statMu.Lock()
			cur++
			if cur > max {
				max = cur
			}
			statMu.Unlock()

			counter++
			time.Sleep(time.Millisecond)

			statMu.Lock()
			cur--
			statMu.Unlock()
		}()
	}
	wg.Wait()

	if counter != 20 {
		t.Errorf("串行计数应为 20, 实际 %d", counter)
	}
	if max != 1 {
		t.Errorf("同一策略的临界区并发度应为 1, 实际 %d", max)
	}
}

func TestAcquireRebalanceSingleFlight(t *testing.T) {
	l := newTestLedger("a", "b")

	release, err := l.AcquireRebalance(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("首次获取再平衡范围失败: %v", err)
	}

	if _, err := l.AcquireRebalance(context.Background(), []string{"a", "b"}); !errors.Is(err, ErrConcurrentMutation) {
		t.Errorf("再平衡进行中应返回 ErrConcurrentMutation, 实际: %v", err)
	}

	release()

	release2, err := l.AcquireRebalance(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("释放后再次获取应成功: %v", err)
	}
	release2()
}

func TestRebalanceBlocksStrategyMutation(t *testing.T) {
	l := newTestLedger("a", "b")

	release, err := l.AcquireRebalance(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("获取再平衡范围失败: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		r, err := l.AcquireStrategy(context.Background(), "a")
		if err != nil {
			t.Errorf("获取策略互斥失败: %v", err)
			close(acquired)
			return
		}
		r()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("再平衡持有期间策略互斥不应被获取")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("再平衡释放后策略互斥应可获取")
	}
}

func TestReadsNeverBlock(t *testing.T) {
	l := newTestLedger("a")
	if err := l.Lock("a"); err != nil {
		t.Fatal(err)
	}

	release, err := l.AcquireStrategy(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	done := make(chan bool)
	go func() {
		done <- l.IsLocked("a")
	}()

	select {
	case locked := <-done:
		if !locked {
			t.Error("锁状态读取应返回 LOCKED")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("锁状态读取不应被互斥范围阻塞")
	}
}

// busyLock 恒被占用的分布式锁
type busyLock struct {
	lock.NopLock
}

func (b *busyLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, nil
}

// counterValue 从默认注册表读取计数器当前值
func counterValue(t *testing.T, name, labelName, labelValue string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("采集指标失败: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, lbl := range m.GetLabel() {
				if lbl.GetName() == labelName && lbl.GetValue() == labelValue {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestAcquireStrategyRecordsLockConflicts(t *testing.T) {
	l := New(&busyLock{}, time.Second)
	l.Register("A")

	key := lock.StrategyKey("A")
	conflictsBefore := counterValue(t, "stratpool_lock_conflict_total", "key", key)
	failedBefore := counterValue(t, "stratpool_lock_acquire_total", "status", "failed")

	if _, err := l.AcquireStrategy(context.Background(), "A"); !errors.Is(err, ErrConcurrentMutation) {
		t.Fatalf("锁恒被占用时应返回 ErrConcurrentMutation, 实际: %v", err)
	}

	conflicts := counterValue(t, "stratpool_lock_conflict_total", "key", key) - conflictsBefore
	if conflicts != float64(dlockRetries) {
		t.Errorf("每次重试都应记录一次锁冲突, 期望 %d, 实际 %.0f", dlockRetries, conflicts)
	}
	failed := counterValue(t, "stratpool_lock_acquire_total", "status", "failed") - failedBefore
	if failed != 1 {
		t.Errorf("重试预算耗尽应记录一次获取失败, 实际 %.0f", failed)
	}
}

func TestAcquireStrategyRecordsLockSuccess(t *testing.T) {
	l := newTestLedger("A")

	key := lock.StrategyKey("A")
	before := counterValue(t, "stratpool_lock_acquire_total", "key", key)

	release, err := l.AcquireStrategy(context.Background(), "A")
	if err != nil {
		t.Fatalf("获取互斥范围失败: %v", err)
	}
	release()

	after := counterValue(t, "stratpool_lock_acquire_total", "key", key)
	if after-before != 1 {
		t.Errorf("成功获取应记录一次, 实际 %.0f", after-before)
	}
}
