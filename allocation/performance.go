package allocation

import (
	"context"
	"math"
	"time"

	"stratpool/database"
	"stratpool/utils"
)

// 夏普比率年化系数（按交易日）
const annualizationFactor = 252

// Performance 策略绩效指标
type Performance struct {
	TotalReturn    float64 `json:"total_return"`     // 回看窗口内的累计盈亏
	ReturnsPct     float64 `json:"returns_pct"`      // 累计收益率（小数）
	SharpeRatio    float64 `json:"sharpe_ratio"`     // 年化夏普比率
	MaxDrawdownPct float64 `json:"max_drawdown_pct"` // 最大回撤（小数，≥0）
	Score          float64 `json:"score"`            // 综合评分
	OrderCount     int     `json:"order_count"`      // 参与计算的已成交订单数
}

// neutralPerformance 数据不足时的中性绩效
func neutralPerformance(orderCount int) *Performance {
	return &Performance{Score: 1.0, OrderCount: orderCount}
}

// CalculatePerformance 计算策略的风险调整绩效
// 从回看窗口内已成交订单重建资金曲线：买入支出为负、卖出回款为正，
// 逐笔累计。订单不足 2 笔时返回中性评分 1.0。
func CalculatePerformance(ctx context.Context, db database.Database, strategyName string, lookbackDays int) (*Performance, error) {
	cutoff := utils.NowUTC().Add(-time.Duration(lookbackDays) * 24 * time.Hour)

	orders, err := db.ListOrders(ctx, &database.OrderFilter{
		StrategyName: strategyName,
		Status:       database.OrderStatusExecuted,
		StartTime:    &cutoff,
		Ascending:    true,
	})
	if err != nil {
		return nil, err
	}

	if len(orders) < 2 {
		return neutralPerformance(len(orders)), nil
	}

	// 重建资金曲线
	equity := make([]float64, 0, len(orders))
	current := 0.0
	for _, order := range orders {
		if order.Side == database.OrderSideBuy {
			current -= order.OrderValue
		} else {
			current += order.OrderValue
		}
		equity = append(equity, current)
	}

	perf := &Performance{OrderCount: len(orders)}
	perf.TotalReturn = equity[len(equity)-1]
	if equity[0] != 0 {
		perf.ReturnsPct = perf.TotalReturn / math.Abs(equity[0])
	}

	// 逐笔收益序列（剔除除零产生的非有限值）
	dailyReturns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := math.Abs(equity[i-1])
		if prev == 0 {
			continue
		}
		r := (equity[i] - equity[i-1]) / prev
		if math.IsInf(r, 0) || math.IsNaN(r) {
			continue
		}
		dailyReturns = append(dailyReturns, r)
	}

	perf.SharpeRatio = sharpeRatio(dailyReturns)
	perf.MaxDrawdownPct = maxDrawdown(equity)

	// 综合评分：夏普越高越好、收益越高越好、回撤越小越好
	score := (1.0 + perf.SharpeRatio) * (1.0 + perf.ReturnsPct) / (1.0 + perf.MaxDrawdownPct)
	perf.Score = math.Max(0.0, score)

	return perf, nil
}

// sharpeRatio 年化夏普比率
func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0.0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	std := math.Sqrt(variance)

	if std == 0 {
		return 0.0
	}
	return mean / std * math.Sqrt(annualizationFactor)
}

// maxDrawdown 最大回撤（相对运行峰值的最大跌幅，返回小数）
func maxDrawdown(equity []float64) float64 {
	maxDD := 0.0
	runningMax := math.Inf(-1)
	for _, v := range equity {
		if v > runningMax {
			runningMax = v
		}
		if runningMax == 0 {
			continue
		}
		dd := (v - runningMax) / math.Abs(runningMax)
		if dd < 0 && -dd > maxDD {
			maxDD = -dd
		}
	}
	return maxDD
}
