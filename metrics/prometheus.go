package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once
	// 订单指标
	orderTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratpool_order_total",
			Help: "Total number of orders placed",
		},
		[]string{"strategy", "side", "mode", "status"},
	)

	orderFailureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratpool_order_failure_total",
			Help: "Total number of failed orders",
		},
		[]string{"strategy", "side", "reason"},
	)

	orderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratpool_order_duration_seconds",
			Help:    "Order execution duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"strategy", "side"},
	)

	tradeAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratpool_trade_amount_total",
			Help: "Total traded amount in quote currency",
		},
		[]string{"strategy", "side"},
	)

	// 资金分配指标
	allocatedCapital = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratpool_allocated_capital",
			Help: "Capital currently allocated to each strategy",
		},
		[]string{"strategy"},
	)

	strategyCash = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratpool_strategy_cash",
			Help: "Uninvested cash per strategy",
		},
		[]string{"strategy"},
	)

	strategyInvested = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratpool_strategy_invested",
			Help: "Invested amount per strategy",
		},
		[]string{"strategy"},
	)

	positionLocked = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratpool_position_locked",
			Help: "Position lock status (0=unlocked, 1=locked)",
		},
		[]string{"strategy"},
	)

	totalCapital = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratpool_total_capital",
			Help: "Total capital under management",
		},
	)

	// 再平衡指标
	rebalanceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratpool_rebalance_total",
			Help: "Total number of rebalance runs",
		},
		[]string{"method", "status"}, // status: success, infeasible, conflict, error
	)

	rebalanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratpool_rebalance_duration_seconds",
			Help:    "Rebalance duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
	)

	// 券商指标
	brokerCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratpool_broker_call_total",
			Help: "Total number of broker API calls",
		},
		[]string{"broker", "operation", "status"},
	)

	brokerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratpool_broker_call_duration_seconds",
			Help:    "Broker API call duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"broker", "operation"},
	)

	pendingOrdersCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratpool_pending_orders_count",
			Help: "Number of orders awaiting broker confirmation",
		},
	)

	// 分布式锁指标
	lockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratpool_lock_acquire_total",
			Help: "Total number of lock acquisitions",
		},
		[]string{"key", "status"}, // status: success, failed, skipped
	)

	lockConflictTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratpool_lock_conflict_total",
			Help: "Total number of lock conflicts",
		},
		[]string{"key"},
	)

	// 系统指标
	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratpool_goroutine_count",
			Help: "Number of goroutines",
		},
	)

	memoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratpool_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct {
	mu sync.RWMutex
}

// NewPrometheusMetrics 创建 Prometheus 指标收集器
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{}
}

// 订单相关指标记录

// RecordOrder 记录订单
func (pm *PrometheusMetrics) RecordOrder(strategy, side, mode, status string) {
	orderTotal.WithLabelValues(strategy, side, mode, status).Inc()
}

// RecordOrderFailure 记录订单失败
func (pm *PrometheusMetrics) RecordOrderFailure(strategy, side, reason string) {
	orderFailureTotal.WithLabelValues(strategy, side, reason).Inc()
}

// RecordOrderDuration 记录订单执行时长
func (pm *PrometheusMetrics) RecordOrderDuration(strategy, side string, duration time.Duration) {
	orderDuration.WithLabelValues(strategy, side).Observe(duration.Seconds())
}

// RecordTradeAmount 记录成交金额
func (pm *PrometheusMetrics) RecordTradeAmount(strategy, side string, amount float64) {
	tradeAmount.WithLabelValues(strategy, side).Add(amount)
}

// 资金分配相关指标记录

// SetAllocatedCapital 设置策略分配资金
func (pm *PrometheusMetrics) SetAllocatedCapital(strategy string, capital float64) {
	allocatedCapital.WithLabelValues(strategy).Set(capital)
}

// SetStrategyCash 设置策略现金
func (pm *PrometheusMetrics) SetStrategyCash(strategy string, cash float64) {
	strategyCash.WithLabelValues(strategy).Set(cash)
}

// SetStrategyInvested 设置策略已投资金额
func (pm *PrometheusMetrics) SetStrategyInvested(strategy string, invested float64) {
	strategyInvested.WithLabelValues(strategy).Set(invested)
}

// SetPositionLocked 设置持仓锁状态
func (pm *PrometheusMetrics) SetPositionLocked(strategy string, locked bool) {
	value := 0.0
	if locked {
		value = 1.0
	}
	positionLocked.WithLabelValues(strategy).Set(value)
}

// SetTotalCapital 设置总资金
func (pm *PrometheusMetrics) SetTotalCapital(capital float64) {
	totalCapital.Set(capital)
}

// 再平衡相关指标记录

// RecordRebalance 记录再平衡
func (pm *PrometheusMetrics) RecordRebalance(method, status string, duration time.Duration) {
	rebalanceTotal.WithLabelValues(method, status).Inc()
	rebalanceDuration.Observe(duration.Seconds())
}

// 券商相关指标记录

// RecordBrokerCall 记录券商 API 调用
func (pm *PrometheusMetrics) RecordBrokerCall(broker, operation, status string, duration time.Duration) {
	brokerCallTotal.WithLabelValues(broker, operation, status).Inc()
	brokerCallDuration.WithLabelValues(broker, operation).Observe(duration.Seconds())
}

// SetPendingOrdersCount 设置待确认订单数量
func (pm *PrometheusMetrics) SetPendingOrdersCount(count int) {
	pendingOrdersCount.Set(float64(count))
}

// 分布式锁相关指标记录

// RecordLockAcquire 记录锁获取
func (pm *PrometheusMetrics) RecordLockAcquire(key, status string) {
	lockAcquireTotal.WithLabelValues(key, status).Inc()
}

// RecordLockConflict 记录锁冲突
func (pm *PrometheusMetrics) RecordLockConflict(key string) {
	lockConflictTotal.WithLabelValues(key).Inc()
}

// 系统相关指标记录

// SetGoroutineCount 设置 Goroutine 数量
func (pm *PrometheusMetrics) SetGoroutineCount(count int) {
	goroutineCount.Set(float64(count))
}

// SetMemoryAlloc 设置内存分配
func (pm *PrometheusMetrics) SetMemoryAlloc(bytes uint64) {
	memoryAllocBytes.Set(float64(bytes))
}

// 全局实例
var globalPrometheusMetrics *PrometheusMetrics

// GetPrometheusMetrics 获取全局 Prometheus 指标收集器
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		globalPrometheusMetrics = NewPrometheusMetrics()
	})
	return globalPrometheusMetrics
}
