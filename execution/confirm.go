package execution

import (
	"context"
	"sync"
	"time"

	"stratpool/broker"
	"stratpool/database"
	"stratpool/logger"
	"stratpool/metrics"
)

// Confirmer PENDING 订单确认轮询器
// LIVE 模式下定期查询券商侧订单状态，把 PENDING 订单推进到
// EXECUTED / FAILED 终态。PAPER 订单不会进入 PENDING，轮询自然空转。
type Confirmer struct {
	engine   *Engine
	db       database.Database
	broker   broker.Broker
	interval time.Duration

	mu          sync.Mutex
	lastRunTime time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConfirmer 创建订单确认轮询器
func NewConfirmer(engine *Engine, db database.Database, brk broker.Broker, interval time.Duration) *Confirmer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Confirmer{
		engine:   engine,
		db:       db,
		broker:   brk,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 启动轮询
func (c *Confirmer) Start() {
	c.wg.Add(1)
	go c.loop()
	logger.Info("👀 订单确认轮询已启动, 间隔 %s", c.interval)
}

// Stop 停止轮询
func (c *Confirmer) Stop() {
	c.cancel()
	c.wg.Wait()
	logger.Info("⏹️ 订单确认轮询已停止")
}

func (c *Confirmer) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.ConfirmPending()
		}
	}
}

// ConfirmPending 扫描并推进所有 PENDING 订单
// 带最小间隔保护，外部触发与定时触发不会叠加执行。
func (c *Confirmer) ConfirmPending() {
	c.mu.Lock()
	if time.Since(c.lastRunTime) < c.interval/2 {
		c.mu.Unlock()
		return
	}
	c.lastRunTime = time.Now()
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	pending, err := c.db.ListOrders(ctx, &database.OrderFilter{
		Status:    database.OrderStatusPending,
		Ascending: true,
	})
	if err != nil {
		logger.Error("❌ 查询待确认订单失败: %v", err)
		return
	}
	metrics.GetPrometheusMetrics().SetPendingOrdersCount(len(pending))
	if len(pending) == 0 {
		return
	}

	logger.Debug("👀 待确认订单: %d 笔", len(pending))
	for _, order := range pending {
		if order.BrokerOrderID == "" {
			// 尚未拿到券商订单号（提交中断），留待人工处理
			logger.Warn("⚠️ 订单 %d 没有券商订单号，跳过确认", order.ID)
			continue
		}

		result, err := c.broker.GetOrderState(ctx, order.BrokerOrderID)
		if err != nil {
			logger.Warn("⚠️ 查询券商订单状态失败 %s: %v", order.BrokerOrderID, err)
			continue
		}

		switch result.State {
		case broker.StateFilled:
			if _, err := c.engine.UpdateOrderStatus(ctx, order.ID, database.OrderStatusExecuted, result.FilledPrice, ""); err != nil {
				logger.Error("❌ 确认订单成交失败 %d: %v", order.ID, err)
			}
		case broker.StateRejected:
			if _, err := c.engine.UpdateOrderStatus(ctx, order.ID, database.OrderStatusFailed, 0, "rejected by broker"); err != nil {
				logger.Error("❌ 标记订单失败出错 %d: %v", order.ID, err)
			}
		default:
			// 仍在等待成交
		}
	}
}
