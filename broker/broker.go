package broker

import (
	"context"
	"errors"

	"stratpool/database"
)

// ErrBrokerRejected 券商明确拒绝订单
var ErrBrokerRejected = errors.New("broker rejected order")

// OrderState 券商侧订单状态
type OrderState string

const (
	StateAccepted OrderState = "ACCEPTED" // 已受理，等待成交
	StateFilled   OrderState = "FILLED"   // 已成交
	StateRejected OrderState = "REJECTED" // 已拒绝/已取消/已过期
)

// SubmitResult 下单结果
type SubmitResult struct {
	BrokerOrderID string
	State         OrderState
	FilledPrice   float64 // 成交均价（未成交时为 0）
}

// Broker 券商接口
// PAPER 模式使用 PaperBroker（本地即时成交），LIVE 模式使用 AlpacaBroker。
type Broker interface {
	// Name 返回券商标识
	Name() string

	// SubmitOrder 提交订单，返回券商订单号与受理状态
	SubmitOrder(ctx context.Context, order *database.Order) (*SubmitResult, error)

	// GetOrderState 查询券商侧订单状态（用于 PENDING 订单确认）
	GetOrderState(ctx context.Context, brokerOrderID string) (*SubmitResult, error)

	// CancelOrder 撤单
	CancelOrder(ctx context.Context, brokerOrderID string) error
}
