package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stratpool/config"
	"stratpool/database"
	"stratpool/event"
	"stratpool/ledger"
)

func newTestAllocator(t *testing.T, strategies ...string) (*Allocator, database.Database, *ledger.Ledger) {
	t.Helper()

	db, err := database.NewGormDatabase(&database.DBConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("创建测试数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ldg := ledger.New(nil, 0)
	ldg.Register(strategies...)

	cfg := &config.Config{}
	cfg.Portfolio.Allocation.MinAllocationPct = 0.10
	cfg.Portfolio.Allocation.MaxAllocationPct = 0.50
	cfg.Portfolio.Allocation.LookbackDays = 90

	bus := event.NewEventBus(100)
	t.Cleanup(bus.Close)

	return NewAllocator(db, ldg, bus, config.NewHotReloader(cfg)), db, ldg
}

func TestInitializeEqualWeight(t *testing.T) {
	a, db, _ := newTestAllocator(t, "A", "B")
	ctx := context.Background()

	result, err := a.Initialize(ctx, 100000, MethodEqualWeight)
	if err != nil {
		t.Fatalf("初始分配失败: %v", err)
	}

	for _, name := range []string{"A", "B"} {
		alloc := result.Allocations[name]
		if alloc == nil || alloc.Allocated != 50000 {
			t.Errorf("策略 %s 应分配 50000, 实际: %+v", name, alloc)
		}

		state, err := db.GetPortfolioState(ctx, name)
		if err != nil || state == nil {
			t.Fatalf("查询组合状态失败 %s: %v", name, err)
		}
		if state.Cash != 50000 || state.AllocatedCapital != 50000 || state.InitialCash != 50000 {
			t.Errorf("策略 %s 初始状态不正确: cash=%.2f allocated=%.2f initial=%.2f",
				name, state.Cash, state.AllocatedCapital, state.InitialCash)
		}
	}

	histories, err := db.ListAllocationHistory(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(histories) != 1 {
		t.Errorf("初始化应写入一条历史记录, 实际 %d 条", len(histories))
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	a, db, _ := newTestAllocator(t, "A", "B")
	ctx := context.Background()

	if _, err := a.Initialize(ctx, 100000, MethodEqualWeight); err != nil {
		t.Fatal(err)
	}

	// 修改状态后重复初始化不应覆盖
	state, _ := db.GetPortfolioState(ctx, "A")
	state.Cash = 12345
	if err := db.SavePortfolioState(ctx, state); err != nil {
		t.Fatal(err)
	}

	if _, err := a.Initialize(ctx, 100000, MethodEqualWeight); err != nil {
		t.Fatal(err)
	}

	state, _ = db.GetPortfolioState(ctx, "A")
	if state.Cash != 12345 {
		t.Errorf("重复初始化不应覆盖已有状态, cash=%.2f", state.Cash)
	}
}

func TestRebalanceKeepsLockedAllocation(t *testing.T) {
	a, db, ldg := newTestAllocator(t, "A", "B")
	ctx := context.Background()

	if _, err := a.Initialize(ctx, 100000, MethodEqualWeight); err != nil {
		t.Fatal(err)
	}
	ldg.Restore("A", true)

	result, err := a.Rebalance(ctx, 100000, MethodRiskAdjusted)
	if err != nil {
		t.Fatalf("再平衡失败: %v", err)
	}

	if a := result.Allocations["A"]; !a.Locked || a.Change != 0 || a.Allocated != 50000 {
		t.Errorf("锁定策略的分配不应变化: %+v", a)
	}
	// 唯一未锁定策略获得全部剩余资金（恰好等于 50% 上限）
	if b := result.Allocations["B"]; b.Locked || b.Allocated != 50000 {
		t.Errorf("策略 B 应获得剩余 50000: %+v", b)
	}

	stateA, _ := db.GetPortfolioState(ctx, "A")
	if stateA.AllocatedCapital != 50000 {
		t.Errorf("锁定策略的持久化分配不应变化: %.2f", stateA.AllocatedCapital)
	}
}

func TestRebalanceSumEqualsTotalCapital(t *testing.T) {
	a, db, _ := newTestAllocator(t, "A", "B", "C")
	ctx := context.Background()

	if _, err := a.Initialize(ctx, 90000, MethodEqualWeight); err != nil {
		t.Fatal(err)
	}

	result, err := a.Rebalance(ctx, 120000, MethodRiskAdjusted)
	if err != nil {
		t.Fatalf("再平衡失败: %v", err)
	}

	sum := 0.0
	for _, alloc := range result.Allocations {
		sum += alloc.Allocated
	}
	if math.Abs(sum-120000) > 1e-6 {
		t.Errorf("分配总和应等于总资金 120000, 实际: %.2f", sum)
	}

	// 未持仓策略的现金重置为新分配额度
	for _, name := range []string{"A", "B", "C"} {
		state, _ := db.GetPortfolioState(ctx, name)
		if state.Cash != state.AllocatedCapital {
			t.Errorf("未持仓策略 %s 的现金应重置为分配额度: cash=%.2f allocated=%.2f",
				name, state.Cash, state.AllocatedCapital)
		}
	}
}

func TestRebalanceAllLockedIsIdempotent(t *testing.T) {
	a, db, ldg := newTestAllocator(t, "A", "B")
	ctx := context.Background()

	if _, err := a.Initialize(ctx, 100000, MethodEqualWeight); err != nil {
		t.Fatal(err)
	}
	ldg.Restore("A", true)
	ldg.Restore("B", true)

	result, err := a.Rebalance(ctx, 100000, MethodRiskAdjusted)
	if err != nil {
		t.Fatalf("全锁定再平衡失败: %v", err)
	}

	for name, alloc := range result.Allocations {
		if alloc.Change != 0 {
			t.Errorf("全锁定时策略 %s 的变化应为 0: %+v", name, alloc)
		}
	}

	// 仍需写入历史记录
	histories, err := db.ListAllocationHistory(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(histories) != 2 {
		t.Errorf("应有初始化 + 全锁定共 2 条历史, 实际 %d 条", len(histories))
	}

	var details map[string]*StrategyAllocation
	if err := json.Unmarshal([]byte(histories[0].Allocations), &details); err != nil {
		t.Fatalf("历史记录明细应为合法 JSON: %v", err)
	}
}

func TestRebalanceInfeasibleWhenLockedExceedsTotal(t *testing.T) {
	a, _, ldg := newTestAllocator(t, "A", "B")
	ctx := context.Background()

	if _, err := a.Initialize(ctx, 100000, MethodEqualWeight); err != nil {
		t.Fatal(err)
	}
	ldg.Restore("A", true)

	// 总资金缩水到锁定资金以下
	if _, err := a.Rebalance(ctx, 40000, MethodRiskAdjusted); !errors.Is(err, ErrAllocationInfeasible) {
		t.Errorf("锁定资金超过总资金应返回 ErrAllocationInfeasible, 实际: %v", err)
	}
}

func TestRebalanceInfeasibleWhenFloorExceedsPool(t *testing.T) {
	a, db, ldg := newTestAllocator(t, "A", "B", "C")
	ctx := context.Background()

	if _, err := a.Initialize(ctx, 90000, MethodEqualWeight); err != nil {
		t.Fatal(err)
	}

	// A 锁定占用 85000, 剩余 5000 不足以满足 B、C 各 10% 的下限
	state, _ := db.GetPortfolioState(ctx, "A")
	state.AllocatedCapital = 85000
	if err := db.SavePortfolioState(ctx, state); err != nil {
		t.Fatal(err)
	}
	ldg.Restore("A", true)

	if _, err := a.Rebalance(ctx, 100000, MethodRiskAdjusted); !errors.Is(err, ErrAllocationInfeasible) {
		t.Errorf("下限不可满足时应返回 ErrAllocationInfeasible, 实际: %v", err)
	}
}

func TestApplyBoundsClampAndRenormalize(t *testing.T) {
	a, _, _ := newTestAllocator(t, "A")

	// 权重严重失衡：A 超过 50% 上限，被钳制后剩余按比例分给 B、C
	weights := map[string]float64{"A": 0.8, "B": 0.15, "C": 0.05}
	targets, err := a.applyBounds(weights, 100000, 100000)
	if err != nil {
		t.Fatalf("边界约束失败: %v", err)
	}

	if targets["A"] != 50000 {
		t.Errorf("策略 A 应被钳制到上限 50000, 实际: %.2f", targets["A"])
	}
	if targets["C"] != 10000 {
		t.Errorf("策略 C 应被钳制到下限 10000, 实际: %.2f", targets["C"])
	}
	// 钳制固定 A、C 后剩余资金归 B
	if math.Abs(targets["B"]-40000) > 1e-6 {
		t.Errorf("策略 B 应获得剩余 40000, 实际: %.2f", targets["B"])
	}

	sum := 0.0
	for name, target := range targets {
		if target < 10000-1e-6 || target > 50000+1e-6 {
			t.Errorf("策略 %s 分配 %.2f 超出边界", name, target)
		}
		sum += target
	}
	if math.Abs(sum-100000) > 1e-6 {
		t.Errorf("钳制后总和应为 100000, 实际: %.2f", sum)
	}
}

func TestApplyBoundsUsesReloadedConfig(t *testing.T) {
	a, _, _ := newTestAllocator(t, "A")

	weights := map[string]float64{"A": 0.4, "B": 0.3, "C": 0.2, "D": 0.1}
	targets, err := a.applyBounds(weights, 100000, 100000)
	if err != nil {
		t.Fatalf("边界约束失败: %v", err)
	}
	if targets["A"] != 40000 {
		t.Fatalf("热更新前策略 A 应分得 40000, 实际: %.2f", targets["A"])
	}

	// 热更新上限到 30%，新边界必须立即生效
	newCfg := &config.Config{}
	newCfg.Portfolio.Allocation.MinAllocationPct = 0.10
	newCfg.Portfolio.Allocation.MaxAllocationPct = 0.30
	newCfg.Portfolio.Allocation.LookbackDays = 90
	a.reloader.Update(newCfg)

	targets, err = a.applyBounds(weights, 100000, 100000)
	if err != nil {
		t.Fatalf("热更新后边界约束失败: %v", err)
	}
	if targets["A"] != 30000 {
		t.Errorf("热更新后的上限 0.30 未生效: A 分得 %.2f", targets["A"])
	}

	sum := 0.0
	for name, target := range targets {
		if target < 10000-1e-6 || target > 30000+1e-6 {
			t.Errorf("策略 %s 分配 %.2f 超出新边界", name, target)
		}
		sum += target
	}
	if math.Abs(sum-100000) > 1e-6 {
		t.Errorf("钳制后总和应为 100000, 实际: %.2f", sum)
	}
}

func TestPerformanceNeutralScoreWithFewOrders(t *testing.T) {
	_, db, _ := newTestAllocator(t, "A")
	ctx := context.Background()

	perf, err := CalculatePerformance(ctx, db, "A", 90)
	if err != nil {
		t.Fatal(err)
	}
	if perf.Score != 1.0 {
		t.Errorf("无订单时应返回中性评分 1.0, 实际: %.3f", perf.Score)
	}

	// 单笔订单仍不足
	if err := db.SaveOrder(ctx, &database.Order{
		StrategyName: "A", Symbol: "SPY", Side: database.OrderSideBuy,
		Quantity: 100, Price: 100, OrderValue: 10000,
		Status: database.OrderStatusExecuted, TradingMode: database.TradingModePaper,
	}); err != nil {
		t.Fatal(err)
	}

	perf, err = CalculatePerformance(ctx, db, "A", 90)
	if err != nil {
		t.Fatal(err)
	}
	if perf.Score != 1.0 {
		t.Errorf("单笔订单应返回中性评分 1.0, 实际: %.3f", perf.Score)
	}
}

func TestPerformanceProfitableRoundTrip(t *testing.T) {
	_, db, _ := newTestAllocator(t, "A")
	ctx := context.Background()

	base := time.Now().UTC().Add(-48 * time.Hour)
	orders := []*database.Order{
		{StrategyName: "A", Symbol: "SPY", Side: database.OrderSideBuy,
			Quantity: 100, Price: 100, OrderValue: 10000,
			Status: database.OrderStatusExecuted, TradingMode: database.TradingModePaper,
			CreatedAt: base},
		{StrategyName: "A", Symbol: "SPY", Side: database.OrderSideSell,
			Quantity: 100, Price: 110, OrderValue: 11000,
			Status: database.OrderStatusExecuted, TradingMode: database.TradingModePaper,
			CreatedAt: base.Add(24 * time.Hour)},
	}
	for _, o := range orders {
		if err := db.SaveOrder(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	perf, err := CalculatePerformance(ctx, db, "A", 90)
	if err != nil {
		t.Fatal(err)
	}

	// 资金曲线: [-10000, 1000] → 累计盈亏 1000, 收益率 10%
	if math.Abs(perf.TotalReturn-1000) > 1e-6 {
		t.Errorf("累计盈亏应为 1000, 实际: %.2f", perf.TotalReturn)
	}
	if math.Abs(perf.ReturnsPct-0.10) > 1e-6 {
		t.Errorf("收益率应为 10%%, 实际: %.4f", perf.ReturnsPct)
	}
	if perf.Score <= 1.0 {
		t.Errorf("盈利往返的评分应高于中性 1.0, 实际: %.3f", perf.Score)
	}
}

func TestSharpeRatio(t *testing.T) {
	if got := sharpeRatio(nil); got != 0 {
		t.Errorf("空序列夏普应为 0, 实际: %.4f", got)
	}
	if got := sharpeRatio([]float64{0.01}); got != 0 {
		t.Errorf("单点序列夏普应为 0, 实际: %.4f", got)
	}
	if got := sharpeRatio([]float64{0.01, 0.01, 0.01}); got != 0 {
		t.Errorf("零波动序列夏普应为 0, 实际: %.4f", got)
	}
	if got := sharpeRatio([]float64{0.01, 0.02, 0.015, 0.005}); got <= 0 {
		t.Errorf("正收益序列夏普应为正, 实际: %.4f", got)
	}
}

func TestMaxDrawdown(t *testing.T) {
	// 峰值 1000 跌至 600 → 回撤 40%
	equity := []float64{500, 1000, 800, 600, 900}
	if got := maxDrawdown(equity); math.Abs(got-0.4) > 1e-9 {
		t.Errorf("最大回撤应为 0.4, 实际: %.4f", got)
	}

	// 单调上升无回撤
	if got := maxDrawdown([]float64{100, 200, 300}); got != 0 {
		t.Errorf("单调上升回撤应为 0, 实际: %.4f", got)
	}
}

// rebalanceStatusCount 从默认注册表读取再平衡计数器
func rebalanceStatusCount(t *testing.T, method, status string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("采集指标失败: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != "stratpool_rebalance_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			matched := 0
			for _, lbl := range m.GetLabel() {
				if (lbl.GetName() == "method" && lbl.GetValue() == method) ||
					(lbl.GetName() == "status" && lbl.GetValue() == status) {
					matched++
				}
			}
			if matched == 2 {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestRebalanceStatusDistinguishesConflictFromError(t *testing.T) {
	a, _, ldg := newTestAllocator(t, "A", "B")
	ctx := context.Background()

	if _, err := a.Initialize(ctx, 100000, MethodEqualWeight); err != nil {
		t.Fatalf("初始分配失败: %v", err)
	}

	// 并发再平衡（单飞）→ conflict
	conflictBefore := rebalanceStatusCount(t, MethodEqualWeight, "conflict")
	release, err := ldg.AcquireRebalance(ctx, ldg.Names())
	if err != nil {
		t.Fatalf("获取再平衡范围失败: %v", err)
	}
	_, err = a.Rebalance(ctx, 100000, MethodEqualWeight)
	release()
	if !errors.Is(err, ledger.ErrConcurrentMutation) {
		t.Fatalf("再平衡进行中应返回 ErrConcurrentMutation, 实际: %v", err)
	}
	if delta := rebalanceStatusCount(t, MethodEqualWeight, "conflict") - conflictBefore; delta != 1 {
		t.Errorf("互斥范围竞争应记为 conflict, 增量: %.0f", delta)
	}

	// 锁定资金超过总资金 → infeasible，不污染 conflict 计数
	state, _ := a.db.GetPortfolioState(ctx, "A")
	state.PositionLocked = true
	if err := a.db.SavePortfolioState(ctx, state); err != nil {
		t.Fatal(err)
	}
	ldg.Restore("A", true)

	conflictBefore = rebalanceStatusCount(t, MethodEqualWeight, "conflict")
	infeasibleBefore := rebalanceStatusCount(t, MethodEqualWeight, "infeasible")
	if _, err := a.Rebalance(ctx, 40000, MethodEqualWeight); !errors.Is(err, ErrAllocationInfeasible) {
		t.Fatalf("锁定资金超过总资金应返回 ErrAllocationInfeasible, 实际: %v", err)
	}
	if delta := rebalanceStatusCount(t, MethodEqualWeight, "infeasible") - infeasibleBefore; delta != 1 {
		t.Errorf("不可行分配应记为 infeasible, 增量: %.0f", delta)
	}
	if delta := rebalanceStatusCount(t, MethodEqualWeight, "conflict") - conflictBefore; delta != 0 {
		t.Errorf("不可行分配不应污染 conflict 计数, 增量: %.0f", delta)
	}
}
