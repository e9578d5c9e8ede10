package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"stratpool/allocation"
	"stratpool/broker"
	"stratpool/config"
	"stratpool/database"
	"stratpool/execution"
	"stratpool/ledger"
	"stratpool/utils"
)

var (
	// 全局依赖（从 main.go 注入）
	cfgProvider       *config.HotReloader
	dbProvider        database.Database
	ledgerProvider    *ledger.Ledger
	allocatorProvider *allocation.Allocator
	engineProvider    *execution.Engine
)

// SetConfigProvider 设置配置提供者（热更新快照）
func SetConfigProvider(reloader *config.HotReloader) {
	cfgProvider = reloader
}

// SetDatabaseProvider 设置数据库提供者
func SetDatabaseProvider(db database.Database) {
	dbProvider = db
}

// SetLedgerProvider 设置锁定台账提供者
func SetLedgerProvider(ldg *ledger.Ledger) {
	ledgerProvider = ldg
}

// SetAllocatorProvider 设置资金分配器提供者
func SetAllocatorProvider(a *allocation.Allocator) {
	allocatorProvider = a
}

// SetEngineProvider 设置订单执行引擎提供者
func SetEngineProvider(e *execution.Engine) {
	engineProvider = e
}

// respondError 按业务错误映射 HTTP 状态码
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrUnknownStrategy),
		errors.Is(err, execution.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, execution.ErrInvalidPrice),
		errors.Is(err, execution.ErrInsufficientCapital),
		errors.Is(err, execution.ErrNoOpenPosition),
		errors.Is(err, allocation.ErrAllocationInfeasible):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrConcurrentMutation):
		status = http.StatusConflict
	case errors.Is(err, broker.ErrBrokerRejected):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// InitializeRequest 初始化请求
type InitializeRequest struct {
	TotalCapital float64 `json:"total_capital"`
	Method       string  `json:"method"`
}

// initializePortfolio 初始化各策略资金分配
// POST /api/v1/portfolio/initialize
func initializePortfolio(c *gin.Context) {
	var req InitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
		return
	}

	cfg := cfgProvider.Current()
	total := req.TotalCapital
	if total <= 0 {
		total = cfg.Portfolio.TotalCapital
	}
	method := req.Method
	if method == "" {
		method = cfg.Portfolio.Allocation.Method
	}

	result, err := allocatorProvider.Initialize(c.Request.Context(), total, method)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RebalanceRequest 再平衡请求
type RebalanceRequest struct {
	TotalCapital float64 `json:"total_capital"`
	Method       string  `json:"method"`
}

// rebalancePortfolio 触发一次再平衡
// POST /api/v1/portfolio/rebalance
func rebalancePortfolio(c *gin.Context) {
	var req RebalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
		return
	}

	cfg := cfgProvider.Current()
	total := req.TotalCapital
	if total <= 0 {
		total = cfg.Portfolio.TotalCapital
	}
	method := req.Method
	if method == "" {
		method = cfg.Portfolio.Allocation.Method
	}

	result, err := allocatorProvider.Rebalance(c.Request.Context(), total, method)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getCurrentAllocation 获取当前各策略资金分配
// GET /api/v1/portfolio/allocation/current
func getCurrentAllocation(c *gin.Context) {
	states, err := dbProvider.ListPortfolioStates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	allocations := make(map[string]gin.H, len(states))
	total := 0.0
	for _, s := range states {
		allocations[s.StrategyName] = gin.H{
			"allocated_capital": s.AllocatedCapital,
			"cash":              s.Cash,
			"total_value":       s.TotalValue,
			"invested":          s.Invested,
			"position_locked":   s.PositionLocked,
		}
		total += s.AllocatedCapital
	}
	c.JSON(http.StatusOK, gin.H{
		"total_capital": total,
		"allocations":   allocations,
	})
}

// getAllocationHistory 获取分配历史（只追加，按时间倒序）
// GET /api/v1/portfolio/allocation/history
func getAllocationHistory(c *gin.Context) {
	limit := 50
	if l, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && l > 0 {
		limit = l
	}

	history, err := dbProvider.ListAllocationHistory(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

// listPortfolioStates 获取所有策略组合状态
// GET /api/v1/portfolio
func listPortfolioStates(c *gin.Context) {
	states, err := dbProvider.ListPortfolioStates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolios": states})
}

// getPortfolioState 获取单个策略组合状态
// GET /api/v1/portfolio/:strategy
func getPortfolioState(c *gin.Context) {
	name := c.Param("strategy")
	if !ledgerProvider.Known(name) {
		respondError(c, ledger.ErrUnknownStrategy)
		return
	}

	state, err := dbProvider.GetPortfolioState(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	if state == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "策略尚未初始化: " + name})
		return
	}

	positions, err := dbProvider.ListPositions(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":     state,
		"positions": positions,
	})
}

// getInvested 查询策略是否持仓锁定（无锁快照读）
// GET /api/v1/portfolio/:strategy/invested
func getInvested(c *gin.Context) {
	name := c.Param("strategy")
	invested, err := engineProvider.IsInvested(name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"strategy_name": name,
		"invested":      invested,
	})
}

// OrderRequest 下单请求
type OrderRequest struct {
	StrategyName string  `json:"strategy_name" binding:"required"`
	Symbol       string  `json:"symbol" binding:"required"`
	Price        float64 `json:"price"`
}

// buyAll 全仓买入
// POST /api/v1/orders/buy_all
func buyAll(c *gin.Context) {
	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
		return
	}

	order, err := engineProvider.BuyAll(c.Request.Context(), req.StrategyName, req.Symbol, req.Price)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// sellAll 全仓卖出
// POST /api/v1/orders/sell_all
func sellAll(c *gin.Context) {
	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
		return
	}

	order, err := engineProvider.SellAll(c.Request.Context(), req.StrategyName, req.Symbol, req.Price)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// UpdateOrderStatusRequest 订单状态回报
type UpdateOrderStatusRequest struct {
	Status         string  `json:"status" binding:"required"`
	ExecutionPrice float64 `json:"execution_price"`
	ErrorMessage   string  `json:"error_message"`
}

// updateOrderStatus 回报订单终态（EXECUTED / FAILED）
// PUT /api/v1/orders/:id/status
func updateOrderStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的订单ID"})
		return
	}

	var req UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
		return
	}

	order, err := engineProvider.UpdateOrderStatus(c.Request.Context(), id, req.Status, req.ExecutionPrice, req.ErrorMessage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// listOrders 查询订单列表
// GET /api/v1/orders
func listOrders(c *gin.Context) {
	filter := &database.OrderFilter{
		StrategyName: c.Query("strategy"),
		Symbol:       c.Query("symbol"),
		Status:       c.Query("status"),
		Limit:        100,
	}
	if l, err := strconv.Atoi(c.DefaultQuery("limit", "100")); err == nil && l > 0 {
		filter.Limit = l
	}
	if o, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && o >= 0 {
		filter.Offset = o
	}

	orders, err := dbProvider.ListOrders(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder 查询单个订单
// GET /api/v1/orders/:id
func getOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的订单ID"})
		return
	}

	order, err := dbProvider.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if order == nil {
		respondError(c, execution.ErrOrderNotFound)
		return
	}
	c.JSON(http.StatusOK, order)
}

// healthCheck 健康检查
// GET /health
func healthCheck(c *gin.Context) {
	if err := dbProvider.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"trading_mode": cfgProvider.Current().Trading.Mode,
		"time":         utils.NowConfiguredTimezone().Format("2006-01-02 15:04:05"),
	})
}
