package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"stratpool/config"
	"stratpool/database"
	"stratpool/logger"
	"stratpool/metrics"
)

// AlpacaBroker Alpaca 实盘券商
// 所有 API 调用经过限流器，避免触发 Alpaca 的请求频率限制。
type AlpacaBroker struct {
	client       *alpaca.Client
	limiter      *rate.Limiter
	extendedHour bool
	pm           *metrics.PrometheusMetrics
}

// NewAlpacaBroker 创建 Alpaca 券商
func NewAlpacaBroker(cfg *config.Config) *AlpacaBroker {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.Broker.APIKey,
		APISecret: cfg.Broker.APISecret,
		BaseURL:   cfg.Broker.BaseURL,
	})

	ratePerSec := cfg.Broker.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 3
	}
	burst := cfg.Broker.RateBurst
	if burst <= 0 {
		burst = 5
	}

	logger.Info("🔗 Alpaca 券商已初始化: %s", cfg.Broker.BaseURL)
	return &AlpacaBroker{
		client:       client,
		limiter:      rate.NewLimiter(rate.Limit(ratePerSec), burst),
		extendedHour: cfg.Broker.ExtendedHour,
		pm:           metrics.GetPrometheusMetrics(),
	}
}

// Name 返回券商标识
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// SubmitOrder 提交市价单
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, order *database.Order) (*SubmitResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	side := alpaca.Buy
	if order.Side == database.OrderSideSell {
		side = alpaca.Sell
	}
	qty := decimal.NewFromFloat(order.Quantity)

	start := time.Now()
	placed, err := b.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        order.Symbol,
		Qty:           &qty,
		Side:          side,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ExtendedHours: b.extendedHour,
	})
	if err != nil {
		b.pm.RecordBrokerCall("alpaca", "place_order", "error", time.Since(start))
		logger.Error("❌ Alpaca 下单失败 %s %s: %v", order.StrategyName, order.Symbol, err)
		return nil, fmt.Errorf("%w: %v", ErrBrokerRejected, err)
	}
	b.pm.RecordBrokerCall("alpaca", "place_order", "success", time.Since(start))

	result := &SubmitResult{
		BrokerOrderID: placed.ID,
		State:         mapAlpacaStatus(string(placed.Status)),
	}
	if placed.FilledAvgPrice != nil {
		result.FilledPrice = placed.FilledAvgPrice.InexactFloat64()
	}

	logger.Info("📤 Alpaca 订单已提交: %s %s %s 状态=%s", order.StrategyName, order.Symbol, placed.ID, placed.Status)
	return result, nil
}

// GetOrderState 查询订单状态
func (b *AlpacaBroker) GetOrderState(ctx context.Context, brokerOrderID string) (*SubmitResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	order, err := b.client.GetOrder(brokerOrderID)
	if err != nil {
		b.pm.RecordBrokerCall("alpaca", "get_order", "error", time.Since(start))
		return nil, fmt.Errorf("get order %s: %w", brokerOrderID, err)
	}
	b.pm.RecordBrokerCall("alpaca", "get_order", "success", time.Since(start))

	result := &SubmitResult{
		BrokerOrderID: order.ID,
		State:         mapAlpacaStatus(string(order.Status)),
	}
	if order.FilledAvgPrice != nil {
		result.FilledPrice = order.FilledAvgPrice.InexactFloat64()
	}
	return result, nil
}

// CancelOrder 撤单
func (b *AlpacaBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	if err := b.client.CancelOrder(brokerOrderID); err != nil {
		b.pm.RecordBrokerCall("alpaca", "cancel_order", "error", time.Since(start))
		return fmt.Errorf("cancel order %s: %w", brokerOrderID, err)
	}
	b.pm.RecordBrokerCall("alpaca", "cancel_order", "success", time.Since(start))
	return nil
}

// mapAlpacaStatus Alpaca 订单状态映射到内部状态
func mapAlpacaStatus(status string) OrderState {
	switch status {
	case "filled":
		return StateFilled
	case "canceled", "expired", "rejected", "stopped", "suspended":
		return StateRejected
	default:
		// new / accepted / partially_filled / pending_* 均视为待成交
		return StateAccepted
	}
}
