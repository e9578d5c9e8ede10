package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"stratpool/allocation"
	"stratpool/broker"
	"stratpool/config"
	"stratpool/database"
	"stratpool/event"
	"stratpool/execution"
	"stratpool/ledger"
)

func setupTestRouter(t *testing.T, strategies ...string) (*gin.Engine, database.Database) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewGormDatabase(&database.DBConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("创建测试数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Portfolio.TotalCapital = 100000
	cfg.Portfolio.Strategies = strategies
	cfg.Portfolio.Allocation.Method = allocation.MethodEqualWeight
	cfg.Portfolio.Allocation.MinAllocationPct = 0.10
	cfg.Portfolio.Allocation.MaxAllocationPct = 0.50
	cfg.Portfolio.Allocation.LookbackDays = 90
	cfg.Trading.Mode = database.TradingModePaper

	ldg := ledger.New(nil, 0)
	ldg.Register(strategies...)

	bus := event.NewEventBus(100)
	t.Cleanup(bus.Close)

	reloader := config.NewHotReloader(cfg)
	SetConfigProvider(reloader)
	SetDatabaseProvider(db)
	SetLedgerProvider(ldg)
	SetAllocatorProvider(allocation.NewAllocator(db, ldg, bus, reloader))
	SetEngineProvider(execution.NewEngine(db, ldg, broker.NewPaperBroker(), bus, cfg))

	r := gin.New()
	SetupRoutes(r)
	return r, db
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("编码请求体失败: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInitializeAndCurrentAllocation(t *testing.T) {
	r, _ := setupTestRouter(t, "A", "B")

	w := doJSON(t, r, http.MethodPost, "/api/v1/portfolio/initialize", gin.H{})
	if w.Code != http.StatusOK {
		t.Fatalf("初始化应返回 200, 实际: %d (%s)", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/portfolio/allocation/current", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("查询当前分配应返回 200, 实际: %d", w.Code)
	}

	var resp struct {
		TotalCapital float64 `json:"total_capital"`
		Allocations  map[string]struct {
			AllocatedCapital float64 `json:"allocated_capital"`
		} `json:"allocations"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.TotalCapital != 100000 {
		t.Errorf("总资金应为 100000, 实际: %.2f", resp.TotalCapital)
	}
	for _, name := range []string{"A", "B"} {
		if resp.Allocations[name].AllocatedCapital != 50000 {
			t.Errorf("策略 %s 应分配 50000, 实际: %.2f", name, resp.Allocations[name].AllocatedCapital)
		}
	}
}

func TestBuyAllAndOrderQueries(t *testing.T) {
	r, _ := setupTestRouter(t, "A", "B")
	doJSON(t, r, http.MethodPost, "/api/v1/portfolio/initialize", gin.H{})

	w := doJSON(t, r, http.MethodPost, "/api/v1/orders/buy_all", gin.H{
		"strategy_name": "A",
		"symbol":        "AAPL",
		"price":         450.0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("买入应返回 200, 实际: %d (%s)", w.Code, w.Body.String())
	}

	var order database.Order
	if err := json.Unmarshal(w.Body.Bytes(), &order); err != nil {
		t.Fatalf("解析订单失败: %v", err)
	}
	if order.Quantity != 111 || order.Status != database.OrderStatusExecuted {
		t.Errorf("PAPER 买入应立即成交 111 股, 实际: qty=%.0f status=%s", order.Quantity, order.Status)
	}

	// 持仓锁定状态可读
	w = doJSON(t, r, http.MethodGet, "/api/v1/portfolio/A/invested", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("查询持仓状态应返回 200, 实际: %d", w.Code)
	}
	var invested struct {
		Invested bool `json:"invested"`
	}
	json.Unmarshal(w.Body.Bytes(), &invested)
	if !invested.Invested {
		t.Error("买入后策略应处于持仓锁定状态")
	}

	// 订单查询
	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", order.ID), nil)
	if w.Code != http.StatusOK {
		t.Errorf("查询订单应返回 200, 实际: %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/api/v1/orders?strategy=A&status=EXECUTED", nil)
	if w.Code != http.StatusOK {
		t.Errorf("订单列表应返回 200, 实际: %d", w.Code)
	}
	var list struct {
		Orders []*database.Order `json:"orders"`
	}
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Orders) != 1 {
		t.Errorf("应返回 1 条订单, 实际: %d", len(list.Orders))
	}
}

func TestErrorStatusMapping(t *testing.T) {
	r, db := setupTestRouter(t, "A", "B")
	doJSON(t, r, http.MethodPost, "/api/v1/portfolio/initialize", gin.H{})

	// 未知策略 → 404
	w := doJSON(t, r, http.MethodPost, "/api/v1/orders/buy_all", gin.H{
		"strategy_name": "ghost",
		"symbol":        "AAPL",
		"price":         450.0,
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("未知策略应返回 404, 实际: %d", w.Code)
	}

	// 非法价格 → 400
	w = doJSON(t, r, http.MethodPost, "/api/v1/orders/buy_all", gin.H{
		"strategy_name": "A",
		"symbol":        "AAPL",
		"price":         -1.0,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("非法价格应返回 400, 实际: %d", w.Code)
	}

	// 无持仓卖出 → 400
	w = doJSON(t, r, http.MethodPost, "/api/v1/orders/sell_all", gin.H{
		"strategy_name": "A",
		"symbol":        "AAPL",
		"price":         450.0,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("无持仓卖出应返回 400, 实际: %d", w.Code)
	}

	// 订单不存在 → 404
	w = doJSON(t, r, http.MethodGet, "/api/v1/orders/99999", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("订单不存在应返回 404, 实际: %d", w.Code)
	}

	// 锁定资金超过总资金的再平衡 → 400
	ctx := context.Background()
	state, _ := db.GetPortfolioState(ctx, "A")
	state.PositionLocked = true
	db.SavePortfolioState(ctx, state)
	ledgerProvider.Restore("A", true)

	w = doJSON(t, r, http.MethodPost, "/api/v1/portfolio/rebalance", gin.H{
		"total_capital": 40000.0,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("不可行分配应返回 400, 实际: %d (%s)", w.Code, w.Body.String())
	}
}

func TestAllocationHistoryEndpoint(t *testing.T) {
	r, _ := setupTestRouter(t, "A", "B")
	doJSON(t, r, http.MethodPost, "/api/v1/portfolio/initialize", gin.H{})
	doJSON(t, r, http.MethodPost, "/api/v1/portfolio/rebalance", gin.H{})

	w := doJSON(t, r, http.MethodGet, "/api/v1/portfolio/allocation/history?limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("查询分配历史应返回 200, 实际: %d", w.Code)
	}
	var resp struct {
		History []*database.AllocationHistory `json:"history"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(resp.History) != 2 {
		t.Errorf("初始化 + 再平衡应产生 2 条历史, 实际: %d", len(resp.History))
	}
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := setupTestRouter(t, "A")

	w := doJSON(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("健康检查应返回 200, 实际: %d", w.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "ok" {
		t.Errorf("健康状态应为 ok, 实际: %s", resp.Status)
	}
}

func TestGetPortfolioState(t *testing.T) {
	r, _ := setupTestRouter(t, "A", "B")

	// 未初始化 → 404
	w := doJSON(t, r, http.MethodGet, "/api/v1/portfolio/A", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("未初始化策略应返回 404, 实际: %d", w.Code)
	}

	doJSON(t, r, http.MethodPost, "/api/v1/portfolio/initialize", gin.H{})

	w = doJSON(t, r, http.MethodGet, "/api/v1/portfolio/A", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("查询组合状态应返回 200, 实际: %d", w.Code)
	}
	var resp struct {
		State *database.PortfolioState `json:"state"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.State == nil || resp.State.AllocatedCapital != 50000 {
		t.Errorf("策略 A 应分配 50000, 实际: %+v", resp.State)
	}

	// 未注册策略 → 404
	w = doJSON(t, r, http.MethodGet, "/api/v1/portfolio/ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("未注册策略应返回 404, 实际: %d", w.Code)
	}
}
