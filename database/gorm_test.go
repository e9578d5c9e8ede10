package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *GormDatabase {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test_stratpool.db")
	db, err := NewGormDatabase(&DBConfig{Type: "sqlite", DSN: dbPath})
	if err != nil {
		t.Fatalf("创建测试数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPortfolioStateCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	state := &PortfolioState{
		StrategyName:     "IncredibleLeverage_SPXL",
		Cash:             50000,
		AllocatedCapital: 50000,
		InitialCash:      50000,
		TotalValue:       50000,
	}
	if err := db.SavePortfolioState(ctx, state); err != nil {
		t.Fatalf("保存组合状态失败: %v", err)
	}

	got, err := db.GetPortfolioState(ctx, "IncredibleLeverage_SPXL")
	if err != nil {
		t.Fatalf("查询组合状态失败: %v", err)
	}
	if got == nil || got.AllocatedCapital != 50000 {
		t.Fatalf("组合状态不正确: %+v", got)
	}

	// 更新
	got.Cash = 100
	got.Invested = true
	got.PositionLocked = true
	if err := db.SavePortfolioState(ctx, got); err != nil {
		t.Fatalf("更新组合状态失败: %v", err)
	}

	got2, _ := db.GetPortfolioState(ctx, "IncredibleLeverage_SPXL")
	if got2.Cash != 100 || !got2.PositionLocked {
		t.Errorf("更新未生效: %+v", got2)
	}

	// 未知策略返回 nil 而不是错误
	missing, err := db.GetPortfolioState(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("未知策略应返回 nil, nil: %v %v", missing, err)
	}
}

func TestPositionLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	pos := &Position{
		StrategyName: "A",
		Symbol:       "SPY",
		Quantity:     111,
		AvgPrice:     450,
		CurrentPrice: 450,
		MarketValue:  111 * 450,
	}
	if err := db.SavePosition(ctx, pos); err != nil {
		t.Fatalf("保存持仓失败: %v", err)
	}

	got, err := db.GetPosition(ctx, "A", "SPY")
	if err != nil || got == nil {
		t.Fatalf("查询持仓失败: %v %v", got, err)
	}
	if got.Quantity != 111 {
		t.Errorf("持仓数量错误: %.0f", got.Quantity)
	}

	if err := db.DeletePosition(ctx, "A", "SPY"); err != nil {
		t.Fatalf("删除持仓失败: %v", err)
	}
	got, _ = db.GetPosition(ctx, "A", "SPY")
	if got != nil {
		t.Error("删除后持仓仍然存在")
	}
}

func TestOrderFilterQuery(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	orders := []*Order{
		{StrategyName: "A", Symbol: "SPY", Side: OrderSideBuy, Quantity: 10, Price: 450, OrderValue: 4500, Status: OrderStatusExecuted, TradingMode: TradingModePaper},
		{StrategyName: "A", Symbol: "SPY", Side: OrderSideSell, Quantity: 10, Price: 460, OrderValue: 4600, Status: OrderStatusExecuted, TradingMode: TradingModePaper},
		{StrategyName: "B", Symbol: "SPXL", Side: OrderSideBuy, Quantity: 5, Price: 100, OrderValue: 500, Status: OrderStatusPending, TradingMode: TradingModeLive},
	}
	for _, o := range orders {
		if err := db.SaveOrder(ctx, o); err != nil {
			t.Fatalf("保存订单失败: %v", err)
		}
	}

	// 按策略过滤
	got, err := db.ListOrders(ctx, &OrderFilter{StrategyName: "A"})
	if err != nil || len(got) != 2 {
		t.Fatalf("按策略过滤错误: %d %v", len(got), err)
	}

	// 按状态过滤
	got, _ = db.ListOrders(ctx, &OrderFilter{Status: OrderStatusPending})
	if len(got) != 1 || got[0].StrategyName != "B" {
		t.Errorf("按状态过滤错误: %+v", got)
	}

	// 时间窗口过滤
	future := time.Now().Add(time.Hour)
	got, _ = db.ListOrders(ctx, &OrderFilter{StartTime: &future})
	if len(got) != 0 {
		t.Errorf("时间过滤应为空: %d", len(got))
	}
}

func TestAllocationHistoryAppendOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h := &AllocationHistory{
			TotalCapital: 100000,
			Allocations:  `{"A":{"allocated":50000}}`,
			Reason:       "Scheduled rebalance using risk_adjusted",
			Timestamp:    time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := db.SaveAllocationHistory(ctx, h); err != nil {
			t.Fatalf("追加分配历史失败: %v", err)
		}
	}

	histories, err := db.ListAllocationHistory(ctx, 2)
	if err != nil {
		t.Fatalf("查询分配历史失败: %v", err)
	}
	if len(histories) != 2 {
		t.Errorf("limit 未生效: %d", len(histories))
	}
	// 倒序返回
	if len(histories) == 2 && histories[0].Timestamp.Before(histories[1].Timestamp) {
		t.Error("分配历史应按时间倒序")
	}
}

func TestTxRollback(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx)
	if err != nil {
		t.Fatalf("开启事务失败: %v", err)
	}

	state := &PortfolioState{StrategyName: "TX_A", Cash: 1000, AllocatedCapital: 1000}
	if err := tx.SavePortfolioState(ctx, state); err != nil {
		t.Fatalf("事务内写入失败: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("回滚失败: %v", err)
	}

	got, _ := db.GetPortfolioState(ctx, "TX_A")
	if got != nil {
		t.Error("回滚后数据不应可见")
	}

	// 提交路径
	tx2, _ := db.BeginTx(ctx)
	if err := tx2.SavePortfolioState(ctx, &PortfolioState{StrategyName: "TX_B", Cash: 1, AllocatedCapital: 1}); err != nil {
		t.Fatalf("事务内写入失败: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("提交失败: %v", err)
	}
	got, _ = db.GetPortfolioState(ctx, "TX_B")
	if got == nil {
		t.Error("提交后数据应可见")
	}
}
