package database

import (
	"context"
	"time"
)

// 订单状态
const (
	OrderStatusPending  = "PENDING"
	OrderStatusExecuted = "EXECUTED"
	OrderStatusFailed   = "FAILED"
)

// 订单方向
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

// 交易模式
const (
	TradingModePaper = "PAPER"
	TradingModeLive  = "LIVE"
)

// Database 数据库接口
type Database interface {
	// 组合状态
	SavePortfolioState(ctx context.Context, state *PortfolioState) error
	GetPortfolioState(ctx context.Context, strategyName string) (*PortfolioState, error)
	ListPortfolioStates(ctx context.Context) ([]*PortfolioState, error)

	// 持仓
	SavePosition(ctx context.Context, pos *Position) error
	GetPosition(ctx context.Context, strategyName, symbol string) (*Position, error)
	ListPositions(ctx context.Context, strategyName string) ([]*Position, error)
	DeletePosition(ctx context.Context, strategyName, symbol string) error

	// 订单
	SaveOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, id int64) (*Order, error)
	UpdateOrder(ctx context.Context, order *Order) error
	ListOrders(ctx context.Context, filter *OrderFilter) ([]*Order, error)

	// 分配历史（只追加）
	SaveAllocationHistory(ctx context.Context, history *AllocationHistory) error
	ListAllocationHistory(ctx context.Context, limit int) ([]*AllocationHistory, error)

	// 事务支持（再平衡批量写入要求全有或全无）
	BeginTx(ctx context.Context) (Tx, error)

	// 健康检查
	Ping(ctx context.Context) error

	// 关闭连接
	Close() error
}

// Tx 事务接口
type Tx interface {
	Commit() error
	Rollback() error
	Database // 继承所有数据库操作
}

// 数据模型

// PortfolioState 策略组合状态（每个策略一行，策略名唯一）
type PortfolioState struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	StrategyName     string    `gorm:"uniqueIndex;size:100" json:"strategy_name"`
	Cash             float64   `json:"cash"`              // 可用现金
	AllocatedCapital float64   `json:"allocated_capital"` // 分配给该策略的资金上限
	InitialCash      float64   `json:"initial_cash"`
	TotalValue       float64   `json:"total_value"` // 现金 + 持仓市值
	Invested         bool      `json:"invested"`
	PositionLocked   bool      `gorm:"index" json:"position_locked"` // 持仓期间锁定，再平衡不可触碰
	TotalReturn      float64   `json:"total_return"`
	TotalReturnPct   float64   `json:"total_return_pct"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Position 持仓记录（策略+标的唯一）
type Position struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	StrategyName  string    `gorm:"index:idx_strategy_symbol,unique;size:100" json:"strategy_name"`
	Symbol        string    `gorm:"index:idx_strategy_symbol,unique;size:50" json:"symbol"`
	Quantity      float64   `json:"quantity"`
	AvgPrice      float64   `json:"avg_price"`
	CurrentPrice  float64   `json:"current_price"`
	MarketValue   float64   `json:"market_value"`   // quantity * current_price
	UnrealizedPnL float64   `json:"unrealized_pnl"` // (current - avg) * quantity
	LastUpdated   time.Time `json:"last_updated"`
}

// Order 订单记录（除状态流转字段外不可变）
type Order struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	StrategyName  string     `gorm:"index:idx_strategy_time;size:100" json:"strategy_name"`
	Symbol        string     `gorm:"index;size:50" json:"symbol"`
	Side          string     `gorm:"size:10" json:"side"` // BUY, SELL
	Quantity      float64    `json:"quantity"`
	Price         float64    `json:"price"`
	OrderValue    float64    `json:"order_value"` // quantity * price
	Status        string     `gorm:"index;size:20" json:"status"`
	TradingMode   string     `gorm:"size:10" json:"trading_mode"`
	BrokerOrderID string     `gorm:"index;size:100" json:"broker_order_id"`
	ErrorMessage  string     `gorm:"type:text" json:"error_message"`
	CreatedAt     time.Time  `gorm:"index:idx_strategy_time" json:"created_at"`
	ExecutedAt    *time.Time `json:"executed_at"`
}

// AllocationHistory 分配历史（只追加，不回改）
type AllocationHistory struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp    time.Time `gorm:"index" json:"timestamp"`
	TotalCapital float64   `json:"total_capital"`
	Allocations  string    `gorm:"type:text" json:"allocations"` // JSON: {strategy: {allocated, previous, change, locked}}
	Reason       string    `gorm:"size:200" json:"reason"`
}

// OrderFilter 订单查询过滤器
type OrderFilter struct {
	StrategyName string
	Symbol       string
	Status       string
	StartTime    *time.Time
	Ascending    bool // 按时间升序返回（默认倒序）
	Limit        int
	Offset       int
}
