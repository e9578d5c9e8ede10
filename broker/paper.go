package broker

import (
	"context"
	"fmt"
	"sync/atomic"

	"stratpool/database"
	"stratpool/logger"
	"stratpool/utils"
)

// PaperBroker 模拟券商
// 所有订单在本地以请求价格即时成交，不依赖任何外部服务。
type PaperBroker struct {
	seq atomic.Int64
}

// NewPaperBroker 创建模拟券商
func NewPaperBroker() *PaperBroker {
	return &PaperBroker{}
}

// Name 返回券商标识
func (b *PaperBroker) Name() string {
	return "paper"
}

// SubmitOrder 即时成交
func (b *PaperBroker) SubmitOrder(_ context.Context, order *database.Order) (*SubmitResult, error) {
	id := fmt.Sprintf("paper-%d-%d", utils.NowUTC().UnixNano(), b.seq.Add(1))
	logger.Debug("📝 模拟成交: %s %s %.0f @ %.4f", order.StrategyName, order.Side, order.Quantity, order.Price)
	return &SubmitResult{
		BrokerOrderID: id,
		State:         StateFilled,
		FilledPrice:   order.Price,
	}, nil
}

// GetOrderState 模拟订单恒为已成交
func (b *PaperBroker) GetOrderState(_ context.Context, brokerOrderID string) (*SubmitResult, error) {
	return &SubmitResult{
		BrokerOrderID: brokerOrderID,
		State:         StateFilled,
	}, nil
}

// CancelOrder 模拟订单即时成交，无可撤订单
func (b *PaperBroker) CancelOrder(_ context.Context, _ string) error {
	return nil
}
