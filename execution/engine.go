package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"stratpool/broker"
	"stratpool/config"
	"stratpool/database"
	"stratpool/event"
	"stratpool/ledger"
	"stratpool/logger"
	"stratpool/metrics"
	"stratpool/utils"
)

var (
	// ErrInvalidPrice 价格必须为正
	ErrInvalidPrice = errors.New("invalid price")
	// ErrInsufficientCapital 现金不足以买入一股
	ErrInsufficientCapital = errors.New("insufficient capital")
	// ErrNoOpenPosition 没有可平仓的持仓
	ErrNoOpenPosition = errors.New("no open position")
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = errors.New("order not found")
)

// Engine 订单执行引擎
// 把 buy-all / sell-all 意图转换成具体订单，更新持仓、现金与锁账本。
// 同一策略的变更操作经由账本串行化；allocatedCapital 永远不被执行路径触碰，
// 买卖只移动 cash 与持仓。
type Engine struct {
	db          database.Database
	ledger      *ledger.Ledger
	broker      broker.Broker
	eventBus    *event.EventBus
	pm          *metrics.PrometheusMetrics
	tradingMode string
}

// NewEngine 创建订单执行引擎
func NewEngine(db database.Database, ldg *ledger.Ledger, brk broker.Broker, eventBus *event.EventBus, cfg *config.Config) *Engine {
	return &Engine{
		db:          db,
		ledger:      ldg,
		broker:      brk,
		eventBus:    eventBus,
		pm:          metrics.GetPrometheusMetrics(),
		tradingMode: cfg.Trading.Mode,
	}
}

// Restore 启动时从持久化状态恢复锁账本
func (e *Engine) Restore(ctx context.Context) error {
	states, err := e.db.ListPortfolioStates(ctx)
	if err != nil {
		return fmt.Errorf("加载组合状态失败: %w", err)
	}
	for _, state := range states {
		if e.ledger.Known(state.StrategyName) {
			e.ledger.Restore(state.StrategyName, state.PositionLocked)
		}
	}
	logger.Info("✅ 锁账本已从数据库恢复: %d 个策略", len(states))
	return nil
}

// IsInvested 查询策略是否持仓（无锁快照，不阻塞写入方）
func (e *Engine) IsInvested(strategyName string) (bool, error) {
	if !e.ledger.Known(strategyName) {
		return false, fmt.Errorf("%w: %s", ledger.ErrUnknownStrategy, strategyName)
	}
	return e.ledger.IsLocked(strategyName), nil
}

// BuyAll 用策略当前现金全仓买入
// 数量 = floor(cash / price)。买不起一股时返回 ErrInsufficientCapital，
// 不产生订单记录，现金不变。PAPER 订单即时成交；LIVE 订单以 PENDING 入库、
// 乐观应用资金变更后提交券商，拒单时精确回滚。
func (e *Engine) BuyAll(ctx context.Context, strategyName, symbol string, price float64) (*database.Order, error) {
	if price <= 0 {
		return nil, fmt.Errorf("%w: %.4f", ErrInvalidPrice, price)
	}
	if !e.ledger.Known(strategyName) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownStrategy, strategyName)
	}

	release, err := e.ledger.AcquireStrategy(ctx, strategyName)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	state, err := e.db.GetPortfolioState(ctx, strategyName)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("%w: %s (尚未初始化)", ledger.ErrUnknownStrategy, strategyName)
	}

	quantity := math.Floor(state.Cash / price)
	if quantity < 1 {
		e.pm.RecordOrderFailure(strategyName, database.OrderSideBuy, "insufficient_capital")
		return nil, fmt.Errorf("%w: 现金 %.2f 不足以按 %.2f 买入一股", ErrInsufficientCapital, state.Cash, price)
	}
	cost := quantity * price

	now := utils.NowUTC()
	order := &database.Order{
		StrategyName: strategyName,
		Symbol:       symbol,
		Side:         database.OrderSideBuy,
		Quantity:     quantity,
		Price:        price,
		OrderValue:   cost,
		Status:       database.OrderStatusPending,
		TradingMode:  e.tradingMode,
		CreatedAt:    now,
	}

	// PAPER 模式本地即时成交
	if e.tradingMode == database.TradingModePaper {
		result, err := e.broker.SubmitOrder(ctx, order)
		if err != nil {
			return nil, err
		}
		order.BrokerOrderID = result.BrokerOrderID
		order.Status = database.OrderStatusExecuted
		order.ExecutedAt = &now
	}

	// 乐观应用：订单 + 资金变更 + 持仓 + 锁状态，单事务落库
	if err := e.applyBuy(ctx, state, order); err != nil {
		return nil, err
	}

	e.pm.RecordOrder(strategyName, order.Side, order.TradingMode, order.Status)
	e.pm.RecordTradeAmount(strategyName, order.Side, cost)
	e.pm.RecordOrderDuration(strategyName, order.Side, time.Since(start))
	e.eventBus.PublishType(event.EventTypeOrderSubmitted, orderEventData(order))
	e.eventBus.PublishType(event.EventTypePositionOpened, map[string]interface{}{
		"strategy": strategyName,
		"symbol":   symbol,
		"quantity": quantity,
	})

	logger.Info("💰 BUY_ALL: %s 买入 %.0f %s @ %.4f, 花费 %.2f, 剩余现金 %.2f [%s]",
		strategyName, quantity, symbol, price, cost, state.Cash, order.Status)

	// LIVE 模式提交券商
	if e.tradingMode == database.TradingModeLive {
		if err := e.submitLive(ctx, order); err != nil {
			return order, err
		}
	}

	if order.Status == database.OrderStatusExecuted {
		e.eventBus.PublishType(event.EventTypeOrderFilled, orderEventData(order))
	}
	return order, nil
}

// SellAll 全仓卖出
// 持仓不存在或为零时返回 ErrNoOpenPosition。LIVE 订单卖出时持仓行保留为
// 零数量（均价不清除），以便拒单回滚能精确恢复；成交确认后删除该行。
func (e *Engine) SellAll(ctx context.Context, strategyName, symbol string, price float64) (*database.Order, error) {
	if price <= 0 {
		return nil, fmt.Errorf("%w: %.4f", ErrInvalidPrice, price)
	}
	if !e.ledger.Known(strategyName) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownStrategy, strategyName)
	}

	release, err := e.ledger.AcquireStrategy(ctx, strategyName)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	state, err := e.db.GetPortfolioState(ctx, strategyName)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("%w: %s (尚未初始化)", ledger.ErrUnknownStrategy, strategyName)
	}

	position, err := e.db.GetPosition(ctx, strategyName, symbol)
	if err != nil {
		return nil, err
	}
	if position == nil || position.Quantity <= 0 {
		e.pm.RecordOrderFailure(strategyName, database.OrderSideSell, "no_open_position")
		return nil, fmt.Errorf("%w: %s/%s", ErrNoOpenPosition, strategyName, symbol)
	}

	quantity := position.Quantity
	proceeds := quantity * price

	now := utils.NowUTC()
	order := &database.Order{
		StrategyName: strategyName,
		Symbol:       symbol,
		Side:         database.OrderSideSell,
		Quantity:     quantity,
		Price:        price,
		OrderValue:   proceeds,
		Status:       database.OrderStatusPending,
		TradingMode:  e.tradingMode,
		CreatedAt:    now,
	}

	if e.tradingMode == database.TradingModePaper {
		result, err := e.broker.SubmitOrder(ctx, order)
		if err != nil {
			return nil, err
		}
		order.BrokerOrderID = result.BrokerOrderID
		order.Status = database.OrderStatusExecuted
		order.ExecutedAt = &now
	}

	if err := e.applySell(ctx, state, position, order); err != nil {
		return nil, err
	}

	e.pm.RecordOrder(strategyName, order.Side, order.TradingMode, order.Status)
	e.pm.RecordTradeAmount(strategyName, order.Side, proceeds)
	e.pm.RecordOrderDuration(strategyName, order.Side, time.Since(start))
	e.eventBus.PublishType(event.EventTypeOrderSubmitted, orderEventData(order))
	e.eventBus.PublishType(event.EventTypePositionClosed, map[string]interface{}{
		"strategy": strategyName,
		"symbol":   symbol,
		"quantity": quantity,
		"proceeds": proceeds,
	})

	logger.Info("💵 SELL_ALL: %s 卖出 %.0f %s @ %.4f, 回款 %.2f, 现金 %.2f [%s]",
		strategyName, quantity, symbol, price, proceeds, state.Cash, order.Status)

	if e.tradingMode == database.TradingModeLive {
		if err := e.submitLive(ctx, order); err != nil {
			return order, err
		}
	}

	if order.Status == database.OrderStatusExecuted {
		e.eventBus.PublishType(event.EventTypeOrderFilled, orderEventData(order))
	}
	return order, nil
}

// UpdateOrderStatus 订单状态流转（PENDING → EXECUTED | FAILED）
// EXECUTED 与 FAILED 为终态：对已终态订单的重复通知是无操作（幂等），
// FAILED 的回滚以持久化状态为准，绝不重复回滚。
func (e *Engine) UpdateOrderStatus(ctx context.Context, orderID int64, status string, executionPrice float64, errorMessage string) (*database.Order, error) {
	if status != database.OrderStatusExecuted && status != database.OrderStatusFailed {
		return nil, fmt.Errorf("无效的目标状态: %s", status)
	}

	order, err := e.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}

	release, err := e.ledger.AcquireStrategy(ctx, order.StrategyName)
	if err != nil {
		return nil, err
	}
	defer release()

	// 持有互斥后重读，以持久化状态判定幂等
	order, err = e.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != database.OrderStatusPending {
		logger.Debug("订单 %d 已处于终态 %s，忽略重复通知", orderID, order.Status)
		return order, nil
	}

	if status == database.OrderStatusExecuted {
		return e.markExecuted(ctx, order, executionPrice)
	}
	return e.markFailed(ctx, order, errorMessage)
}

// applyBuy 买入的事务性写入（调用方已持有策略互斥）
func (e *Engine) applyBuy(ctx context.Context, state *database.PortfolioState, order *database.Order) error {
	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}

	position, err := tx.GetPosition(ctx, order.StrategyName, order.Symbol)
	if err != nil {
		tx.Rollback()
		return err
	}

	freshPosition := position == nil || position.Quantity == 0
	if position == nil {
		position = &database.Position{
			StrategyName: order.StrategyName,
			Symbol:       order.Symbol,
		}
	}

	// 加权平均建仓成本
	totalQty := position.Quantity + order.Quantity
	totalCost := position.Quantity*position.AvgPrice + order.OrderValue
	position.AvgPrice = totalCost / totalQty
	position.Quantity = totalQty
	position.CurrentPrice = order.Price
	position.MarketValue = totalQty * order.Price
	position.UnrealizedPnL = (order.Price - position.AvgPrice) * totalQty

	state.Cash -= order.OrderValue
	state.Invested = true
	state.PositionLocked = true
	state.TotalValue = state.Cash + position.MarketValue
	updateReturns(state)

	if err := tx.SavePosition(ctx, position); err != nil {
		tx.Rollback()
		return fmt.Errorf("保存持仓失败: %w", err)
	}
	if err := tx.SavePortfolioState(ctx, state); err != nil {
		tx.Rollback()
		return fmt.Errorf("保存组合状态失败: %w", err)
	}
	if err := tx.SaveOrder(ctx, order); err != nil {
		tx.Rollback()
		return fmt.Errorf("保存订单失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	// 持仓从零变为非零时锁定（与成交事件同属一次变更）
	if freshPosition && !e.ledger.IsLocked(order.StrategyName) {
		if err := e.ledger.Lock(order.StrategyName); err != nil {
			logger.Warn("⚠️ 锁定策略失败 %s: %v", order.StrategyName, err)
		}
	}
	e.pm.SetStrategyCash(order.StrategyName, state.Cash)
	e.pm.SetStrategyInvested(order.StrategyName, position.MarketValue)
	e.pm.SetPositionLocked(order.StrategyName, true)
	return nil
}

// applySell 卖出的事务性写入（调用方已持有策略互斥）
func (e *Engine) applySell(ctx context.Context, state *database.PortfolioState, position *database.Position, order *database.Order) error {
	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}

	state.Cash += order.OrderValue

	// 同策略其它持仓仍在时保持锁定
	others, err := tx.ListPositions(ctx, order.StrategyName)
	if err != nil {
		tx.Rollback()
		return err
	}
	remaining := 0.0
	for _, p := range others {
		if p.Symbol != order.Symbol {
			remaining += p.MarketValue
		}
	}
	stillInvested := remaining > 0

	state.Invested = stillInvested
	state.PositionLocked = stillInvested
	state.TotalValue = state.Cash + remaining
	updateReturns(state)

	if e.tradingMode == database.TradingModeLive && order.Status == database.OrderStatusPending {
		// 保留零数量行用于拒单时精确恢复
		position.Quantity = 0
		position.CurrentPrice = order.Price
		position.MarketValue = 0
		position.UnrealizedPnL = 0
		if err := tx.SavePosition(ctx, position); err != nil {
			tx.Rollback()
			return fmt.Errorf("保存持仓失败: %w", err)
		}
	} else {
		if err := tx.DeletePosition(ctx, order.StrategyName, order.Symbol); err != nil {
			tx.Rollback()
			return fmt.Errorf("删除持仓失败: %w", err)
		}
	}

	if err := tx.SavePortfolioState(ctx, state); err != nil {
		tx.Rollback()
		return fmt.Errorf("保存组合状态失败: %w", err)
	}
	if err := tx.SaveOrder(ctx, order); err != nil {
		tx.Rollback()
		return fmt.Errorf("保存订单失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	if !stillInvested && e.ledger.IsLocked(order.StrategyName) {
		if err := e.ledger.Unlock(order.StrategyName); err != nil {
			logger.Warn("⚠️ 解锁策略失败 %s: %v", order.StrategyName, err)
		}
	}
	e.pm.SetStrategyCash(order.StrategyName, state.Cash)
	e.pm.SetStrategyInvested(order.StrategyName, remaining)
	e.pm.SetPositionLocked(order.StrategyName, stillInvested)
	return nil
}

// submitLive 提交 LIVE 订单到券商，拒单时立即回滚
func (e *Engine) submitLive(ctx context.Context, order *database.Order) error {
	result, err := e.broker.SubmitOrder(ctx, order)
	if err != nil {
		logger.Error("❌ 券商拒单: 订单 %d, %v", order.ID, err)
		if _, rbErr := e.markFailed(ctx, order, err.Error()); rbErr != nil {
			logger.Error("❌ 拒单回滚失败: 订单 %d, %v", order.ID, rbErr)
			return rbErr
		}
		return err
	}

	order.BrokerOrderID = result.BrokerOrderID
	if err := e.db.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("更新券商订单号失败: %w", err)
	}

	switch result.State {
	case broker.StateFilled:
		updated, err := e.markExecuted(ctx, order, result.FilledPrice)
		if err != nil {
			return err
		}
		*order = *updated
	case broker.StateRejected:
		if _, err := e.markFailed(ctx, order, "rejected by broker"); err != nil {
			return err
		}
		return fmt.Errorf("%w: 订单 %d", broker.ErrBrokerRejected, order.ID)
	default:
		// 保持 PENDING，由确认轮询推进终态
	}
	return nil
}

// markExecuted PENDING → EXECUTED（调用方已持有策略互斥）
// 成交价与请求价不同，按差额修正现金与建仓成本，保证最终状态与按成交价
// 执行完全一致。
func (e *Engine) markExecuted(ctx context.Context, order *database.Order, executionPrice float64) (*database.Order, error) {
	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("开启事务失败: %w", err)
	}

	if executionPrice > 0 && executionPrice != order.Price {
		diff := (executionPrice - order.Price) * order.Quantity

		state, err := tx.GetPortfolioState(ctx, order.StrategyName)
		if err != nil {
			tx.Rollback()
			return nil, err
		}

		if order.Side == database.OrderSideBuy {
			state.Cash -= diff
			state.TotalValue -= diff

			position, err := tx.GetPosition(ctx, order.StrategyName, order.Symbol)
			if err != nil {
				tx.Rollback()
				return nil, err
			}
			if position != nil && position.Quantity > 0 {
				// 把该笔订单的成本贡献从请求价改为成交价
				costBasis := position.AvgPrice*position.Quantity + diff
				position.AvgPrice = costBasis / position.Quantity
				position.UnrealizedPnL = (position.CurrentPrice - position.AvgPrice) * position.Quantity
				if err := tx.SavePosition(ctx, position); err != nil {
					tx.Rollback()
					return nil, err
				}
			}
		} else {
			state.Cash += diff
			state.TotalValue += diff
		}

		updateReturns(state)
		if err := tx.SavePortfolioState(ctx, state); err != nil {
			tx.Rollback()
			return nil, err
		}

		order.Price = executionPrice
		order.OrderValue = executionPrice * order.Quantity
	}

	// 卖出成交确认后清理零数量持仓行
	if order.Side == database.OrderSideSell {
		if err := tx.DeletePosition(ctx, order.StrategyName, order.Symbol); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	now := utils.NowUTC()
	order.Status = database.OrderStatusExecuted
	order.ExecutedAt = &now
	if err := tx.UpdateOrder(ctx, order); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("更新订单失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("提交事务失败: %w", err)
	}

	e.pm.RecordOrder(order.StrategyName, order.Side, order.TradingMode, order.Status)
	e.eventBus.PublishType(event.EventTypeOrderFilled, orderEventData(order))
	logger.Info("✅ 订单 %d 已成交确认: %s %s %.0f @ %.4f", order.ID, order.StrategyName, order.Side, order.Quantity, order.Price)
	return order, nil
}

// markFailed PENDING → FAILED，并精确回滚乐观应用的资金与持仓变更
// （调用方已持有策略互斥）
func (e *Engine) markFailed(ctx context.Context, order *database.Order, errorMessage string) (*database.Order, error) {
	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("开启事务失败: %w", err)
	}

	// 以持久化状态为幂等判据
	persisted, err := tx.GetOrder(ctx, order.ID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if persisted == nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, order.ID)
	}
	if persisted.Status != database.OrderStatusPending {
		tx.Rollback()
		return persisted, nil
	}

	state, err := tx.GetPortfolioState(ctx, order.StrategyName)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if order.Side == database.OrderSideBuy {
		if err := e.rollbackBuy(ctx, tx, state, order); err != nil {
			tx.Rollback()
			return nil, err
		}
	} else {
		if err := e.rollbackSell(ctx, tx, state, order); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	updateReturns(state)
	if err := tx.SavePortfolioState(ctx, state); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("保存组合状态失败: %w", err)
	}

	order.Status = database.OrderStatusFailed
	order.ErrorMessage = errorMessage
	if err := tx.UpdateOrder(ctx, order); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("更新订单失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("提交事务失败: %w", err)
	}

	// 提交后把内存锁账本对齐到持久化状态
	if state.PositionLocked && !e.ledger.IsLocked(order.StrategyName) {
		if err := e.ledger.Lock(order.StrategyName); err != nil {
			logger.Warn("⚠️ 锁定策略失败 %s: %v", order.StrategyName, err)
		}
	} else if !state.PositionLocked && e.ledger.IsLocked(order.StrategyName) {
		if err := e.ledger.Unlock(order.StrategyName); err != nil {
			logger.Warn("⚠️ 解锁策略失败 %s: %v", order.StrategyName, err)
		}
	}

	e.pm.RecordOrder(order.StrategyName, order.Side, order.TradingMode, order.Status)
	e.pm.RecordOrderFailure(order.StrategyName, order.Side, "broker_rejected")
	e.eventBus.PublishType(event.EventTypeOrderFailed, orderEventData(order))
	logger.Warn("⚠️ 订单 %d 已失败并回滚: %s %s (%s)", order.ID, order.StrategyName, order.Side, errorMessage)
	return order, nil
}

// rollbackBuy 回滚买入：返还现金，剥离该笔订单的持仓贡献
func (e *Engine) rollbackBuy(ctx context.Context, tx database.Tx, state *database.PortfolioState, order *database.Order) error {
	state.Cash += order.OrderValue

	position, err := tx.GetPosition(ctx, order.StrategyName, order.Symbol)
	if err != nil {
		return err
	}
	if position != nil {
		newQty := position.Quantity - order.Quantity
		if newQty <= 0 {
			if err := tx.DeletePosition(ctx, order.StrategyName, order.Symbol); err != nil {
				return err
			}
		} else {
			// 反向剥离加权平均成本
			costBasis := position.AvgPrice*position.Quantity - order.OrderValue
			position.AvgPrice = costBasis / newQty
			position.Quantity = newQty
			position.MarketValue = newQty * position.CurrentPrice
			position.UnrealizedPnL = (position.CurrentPrice - position.AvgPrice) * newQty
			if err := tx.SavePosition(ctx, position); err != nil {
				return err
			}
		}
	}

	// 回滚写入后重算持仓与锁状态（事务内可见自身写入）
	others, err := tx.ListPositions(ctx, order.StrategyName)
	if err != nil {
		return err
	}
	remaining := 0.0
	stillInvested := false
	for _, p := range others {
		remaining += p.MarketValue
		if p.Quantity > 0 {
			stillInvested = true
		}
	}

	state.Invested = stillInvested
	state.PositionLocked = stillInvested
	state.TotalValue = state.Cash + remaining
	return nil
}

// rollbackSell 回滚卖出：扣回回款，恢复零数量持仓行
func (e *Engine) rollbackSell(ctx context.Context, tx database.Tx, state *database.PortfolioState, order *database.Order) error {
	state.Cash -= order.OrderValue

	position, err := tx.GetPosition(ctx, order.StrategyName, order.Symbol)
	if err != nil {
		return err
	}
	if position == nil {
		// 持仓行已被清理，按订单信息重建
		position = &database.Position{
			StrategyName: order.StrategyName,
			Symbol:       order.Symbol,
			AvgPrice:     order.Price,
		}
	}
	position.Quantity = order.Quantity
	position.CurrentPrice = order.Price
	position.MarketValue = order.Quantity * order.Price
	position.UnrealizedPnL = (order.Price - position.AvgPrice) * order.Quantity
	if err := tx.SavePosition(ctx, position); err != nil {
		return err
	}

	state.Invested = true
	state.PositionLocked = true
	state.TotalValue = state.Cash + position.MarketValue
	return nil
}

// updateReturns 重算累计收益
func updateReturns(state *database.PortfolioState) {
	if state.InitialCash > 0 {
		state.TotalReturn = state.TotalValue - state.InitialCash
		state.TotalReturnPct = state.TotalReturn / state.InitialCash * 100
	}
}

// orderEventData 订单事件负载
func orderEventData(order *database.Order) map[string]interface{} {
	return map[string]interface{}{
		"order_id": order.ID,
		"strategy": order.StrategyName,
		"symbol":   order.Symbol,
		"side":     order.Side,
		"quantity": order.Quantity,
		"price":    order.Price,
		"value":    order.OrderValue,
		"status":   order.Status,
		"mode":     order.TradingMode,
	}
}
