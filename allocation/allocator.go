package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stratpool/config"
	"stratpool/database"
	"stratpool/event"
	"stratpool/ledger"
	"stratpool/logger"
	"stratpool/metrics"
	"stratpool/utils"
)

// ErrAllocationInfeasible 锁定资金超过总资金或边界约束无解
var ErrAllocationInfeasible = errors.New("allocation infeasible")

// 分配方法
const (
	MethodEqualWeight  = "equal_weight"
	MethodRiskAdjusted = "risk_adjusted"
)

// StrategyAllocation 单策略分配结果
type StrategyAllocation struct {
	Allocated float64 `json:"allocated"`
	Previous  float64 `json:"previous"`
	Change    float64 `json:"change"`
	Locked    bool    `json:"locked"`
}

// RebalanceResult 再平衡结果
type RebalanceResult struct {
	Timestamp    time.Time                      `json:"timestamp"`
	TotalCapital float64                        `json:"total_capital"`
	Method       string                         `json:"method"`
	Allocations  map[string]*StrategyAllocation `json:"allocations"`
}

// Allocator 资金分配器
// 按 equal_weight 或 risk_adjusted 方法在未锁定策略间重新分配资金，
// 锁定策略的分配保持不变。所有写入在单个事务内批量提交。
type Allocator struct {
	db       database.Database
	ledger   *ledger.Ledger
	eventBus *event.EventBus
	pm       *metrics.PrometheusMetrics

	// 分配边界与回看窗口可热更新，每次使用时从这里读取快照
	reloader *config.HotReloader
}

// NewAllocator 创建资金分配器
func NewAllocator(db database.Database, ldg *ledger.Ledger, eventBus *event.EventBus, reloader *config.HotReloader) *Allocator {
	return &Allocator{
		db:       db,
		ledger:   ldg,
		eventBus: eventBus,
		pm:       metrics.GetPrometheusMetrics(),
		reloader: reloader,
	}
}

// Initialize 初始化各策略的组合状态（分配引导）
// 已存在状态时不重复创建。写入一条原因为 initial allocation 的历史记录。
func (a *Allocator) Initialize(ctx context.Context, totalCapital float64, method string) (*RebalanceResult, error) {
	strategies := a.ledger.Names()
	if len(strategies) == 0 {
		return nil, fmt.Errorf("没有已注册的策略")
	}

	release, err := a.ledger.AcquireRebalance(ctx, strategies)
	if err != nil {
		return nil, err
	}
	defer release()

	weights, err := a.computeWeights(ctx, strategies, nil, method)
	if err != nil {
		return nil, err
	}
	targets, err := a.applyBounds(weights, totalCapital, totalCapital)
	if err != nil {
		return nil, err
	}

	now := utils.NowUTC()
	result := &RebalanceResult{
		Timestamp:    now,
		TotalCapital: totalCapital,
		Method:       method,
		Allocations:  make(map[string]*StrategyAllocation, len(strategies)),
	}

	tx, err := a.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("开启事务失败: %w", err)
	}

	for _, name := range strategies {
		allocated := targets[name]

		existing, err := tx.GetPortfolioState(ctx, name)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if existing != nil {
			// 已初始化过，保持现状
			result.Allocations[name] = &StrategyAllocation{
				Allocated: existing.AllocatedCapital,
				Previous:  existing.AllocatedCapital,
				Locked:    existing.PositionLocked,
			}
			continue
		}

		state := &database.PortfolioState{
			StrategyName:     name,
			Cash:             allocated,
			AllocatedCapital: allocated,
			InitialCash:      allocated,
			TotalValue:       allocated,
			LastUpdated:      now,
		}
		if err := tx.SavePortfolioState(ctx, state); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("保存组合状态失败 %s: %w", name, err)
		}

		result.Allocations[name] = &StrategyAllocation{
			Allocated: allocated,
			Previous:  0,
			Change:    allocated,
		}
	}

	if err := a.appendHistory(ctx, tx, result, fmt.Sprintf("Initial allocation using %s", method)); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("提交事务失败: %w", err)
	}

	a.publishMetrics(totalCapital, result)
	logger.Info("✅ 初始分配完成: %d 个策略, 总资金 %.2f, 方法 %s", len(strategies), totalCapital, method)
	return result, nil
}

// Rebalance 再平衡
// 持有全策略互斥范围，保证权重计算与批量写入之间锁状态不被翻转。
func (a *Allocator) Rebalance(ctx context.Context, totalCapital float64, method string) (*RebalanceResult, error) {
	start := time.Now()
	strategies := a.ledger.Names()
	if len(strategies) == 0 {
		return nil, fmt.Errorf("没有已注册的策略")
	}

	release, err := a.ledger.AcquireRebalance(ctx, strategies)
	if err != nil {
		// 只有互斥范围竞争才算 conflict，其余（未注册策略、分布式锁故障）记为 error
		status := "error"
		if errors.Is(err, ledger.ErrConcurrentMutation) {
			status = "conflict"
		}
		a.pm.RecordRebalance(method, status, time.Since(start))
		return nil, err
	}
	defer release()

	result, err := a.rebalanceLocked(ctx, totalCapital, strategies, method)
	if err != nil {
		status := "error"
		if errors.Is(err, ErrAllocationInfeasible) {
			status = "infeasible"
			a.eventBus.PublishType(event.EventTypeAllocationInfeasible, map[string]interface{}{
				"total_capital": totalCapital,
				"error":         err.Error(),
			})
		}
		a.pm.RecordRebalance(method, status, time.Since(start))
		a.eventBus.PublishType(event.EventTypeRebalanceFailed, map[string]interface{}{
			"method": method,
			"error":  err.Error(),
		})
		return nil, err
	}

	a.pm.RecordRebalance(method, "success", time.Since(start))
	a.eventBus.PublishType(event.EventTypeRebalanceCompleted, map[string]interface{}{
		"method":        method,
		"total_capital": totalCapital,
	})
	return result, nil
}

// rebalanceLocked 再平衡主流程（调用方已持有再平衡互斥范围）
func (a *Allocator) rebalanceLocked(ctx context.Context, totalCapital float64, strategies []string, method string) (*RebalanceResult, error) {
	states := make(map[string]*database.PortfolioState, len(strategies))
	for _, name := range strategies {
		state, err := a.db.GetPortfolioState(ctx, name)
		if err != nil {
			return nil, err
		}
		if state == nil {
			return nil, fmt.Errorf("策略 %s 尚未初始化", name)
		}
		states[name] = state
	}

	// 按锁状态分组
	lockSnapshot := a.ledger.Snapshot()
	var lockedSum float64
	var unlocked []string
	for _, name := range strategies {
		if lockSnapshot[name] {
			lockedSum += states[name].AllocatedCapital
		} else {
			unlocked = append(unlocked, name)
		}
	}

	if lockedSum > totalCapital {
		return nil, fmt.Errorf("%w: 锁定资金 %.2f 超过总资金 %.2f", ErrAllocationInfeasible, lockedSum, totalCapital)
	}

	now := utils.NowUTC()
	result := &RebalanceResult{
		Timestamp:    now,
		TotalCapital: totalCapital,
		Method:       method,
		Allocations:  make(map[string]*StrategyAllocation, len(strategies)),
	}

	// 全部锁定：分配不变，仍写入一条历史记录（幂等）
	if len(unlocked) == 0 {
		for _, name := range strategies {
			result.Allocations[name] = &StrategyAllocation{
				Allocated: states[name].AllocatedCapital,
				Previous:  states[name].AllocatedCapital,
				Locked:    true,
			}
		}
		tx, err := a.db.BeginTx(ctx)
		if err != nil {
			return nil, fmt.Errorf("开启事务失败: %w", err)
		}
		if err := a.appendHistory(ctx, tx, result, fmt.Sprintf("Rebalance using %s (all strategies locked)", method)); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("提交事务失败: %w", err)
		}
		logger.Info("🔒 所有策略均已锁定，分配保持不变")
		return result, nil
	}

	available := totalCapital - lockedSum

	weights, err := a.computeWeights(ctx, unlocked, states, method)
	if err != nil {
		return nil, err
	}
	targets, err := a.applyBounds(weights, available, totalCapital)
	if err != nil {
		return nil, err
	}

	var dirty []*database.PortfolioState
	for _, name := range strategies {
		state := states[name]
		if lockSnapshot[name] {
			result.Allocations[name] = &StrategyAllocation{
				Allocated: state.AllocatedCapital,
				Previous:  state.AllocatedCapital,
				Locked:    true,
			}
			continue
		}

		allocated := targets[name]
		previous := state.AllocatedCapital

		state.AllocatedCapital = allocated
		if !state.Invested {
			// 未持仓的策略现金重置为新分配额度
			state.Cash = allocated
			state.TotalValue = allocated
		}
		state.LastUpdated = now
		dirty = append(dirty, state)

		result.Allocations[name] = &StrategyAllocation{
			Allocated: allocated,
			Previous:  previous,
			Change:    allocated - previous,
		}
	}

	// 批量写入：未锁定策略的新分配 + 一条历史记录，单事务，
	// 瞬时失败整批重试（部分写入永不可见）
	if err := a.writeBatch(ctx, dirty, result, fmt.Sprintf("Rebalance using %s", method)); err != nil {
		return nil, err
	}

	a.publishMetrics(totalCapital, result)
	logger.Info("🔄 再平衡完成: 方法 %s, 未锁定 %d/%d, 可分配 %.2f", method, len(unlocked), len(strategies), available)
	return result, nil
}

// writeBatch 单事务写入新分配与历史记录，瞬时失败时整批重试
func (a *Allocator) writeBatch(ctx context.Context, dirty []*database.PortfolioState, result *RebalanceResult, reason string) error {
	const maxAttempts = 3

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = func() error {
			tx, err := a.db.BeginTx(ctx)
			if err != nil {
				return fmt.Errorf("开启事务失败: %w", err)
			}
			for _, state := range dirty {
				if err := tx.SavePortfolioState(ctx, state); err != nil {
					tx.Rollback()
					return fmt.Errorf("保存组合状态失败 %s: %w", state.StrategyName, err)
				}
			}
			if err := a.appendHistory(ctx, tx, result, reason); err != nil {
				tx.Rollback()
				return err
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("提交事务失败: %w", err)
			}
			return nil
		}()
		if lastErr == nil {
			return nil
		}
		if attempt < maxAttempts {
			logger.Warn("⚠️ 再平衡批量写入失败 (第 %d 次): %v，即将重试", attempt, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
	}
	return lastErr
}

// computeWeights 计算未锁定策略的归一化权重
func (a *Allocator) computeWeights(ctx context.Context, unlocked []string, states map[string]*database.PortfolioState, method string) (map[string]float64, error) {
	weights := make(map[string]float64, len(unlocked))

	switch method {
	case MethodEqualWeight:
		w := 1.0 / float64(len(unlocked))
		for _, name := range unlocked {
			weights[name] = w
		}
		return weights, nil

	case MethodRiskAdjusted:
		scores := make(map[string]float64, len(unlocked))
		totalScore := 0.0
		for _, name := range unlocked {
			perf, err := CalculatePerformance(ctx, a.db, name, a.reloader.Current().Portfolio.Allocation.LookbackDays)
			if err != nil {
				return nil, fmt.Errorf("计算策略绩效失败 %s: %w", name, err)
			}
			scores[name] = perf.Score
			totalScore += perf.Score
			logger.Info("📊 策略 %s 评分: %.3f (夏普: %.2f, 收益: %.1f%%, 回撤: %.1f%%)",
				name, perf.Score, perf.SharpeRatio, perf.ReturnsPct*100, perf.MaxDrawdownPct*100)
		}

		if totalScore <= 0 {
			// 评分全部无效时退化为等权
			w := 1.0 / float64(len(unlocked))
			for _, name := range unlocked {
				weights[name] = w
			}
			return weights, nil
		}

		for _, name := range unlocked {
			weights[name] = scores[name] / totalScore
		}
		return weights, nil

	default:
		return nil, fmt.Errorf("未知的分配方法: %s", method)
	}
}

// applyBounds 边界约束
// 将每个未锁定策略的分配钳制到总资金的 [minPct, maxPct] 区间内：
// 被钳制的策略固定其分配并退出归一化池，剩余策略按权重重新归一化，
// 迭代至无违反为止（上限为策略数量）。不收敛视为无解。
func (a *Allocator) applyBounds(weights map[string]float64, available, totalCapital float64) (map[string]float64, error) {
	bounds := a.reloader.Current().Portfolio.Allocation
	floor := bounds.MinAllocationPct * totalCapital
	ceil := bounds.MaxAllocationPct * totalCapital

	// 可行性前置检查：池子装不下最低分配，或上限装不下整个池子
	n := float64(len(weights))
	if floor*n > available+1e-9 {
		return nil, fmt.Errorf("%w: 最低分配 %.2f×%d 超过可分配资金 %.2f", ErrAllocationInfeasible, floor, len(weights), available)
	}
	if ceil*n < available-1e-9 {
		return nil, fmt.Errorf("%w: 最高分配 %.2f×%d 无法容纳可分配资金 %.2f", ErrAllocationInfeasible, ceil, len(weights), available)
	}

	targets := make(map[string]float64, len(weights))
	fixed := make(map[string]bool, len(weights))
	remaining := available
	pool := make(map[string]float64, len(weights))
	for name, w := range weights {
		pool[name] = w
	}

	for iter := 0; iter < len(weights); iter++ {
		// 按当前池子权重分配剩余资金
		poolTotal := 0.0
		for name := range pool {
			poolTotal += pool[name]
		}
		if poolTotal <= 0 {
			break
		}

		violated := false
		for name, w := range pool {
			target := remaining * (w / poolTotal)
			if target < floor-1e-9 {
				targets[name] = floor
				fixed[name] = true
				violated = true
			} else if target > ceil+1e-9 {
				targets[name] = ceil
				fixed[name] = true
				violated = true
			} else {
				targets[name] = target
			}
		}

		if !violated {
			return targets, nil
		}

		// 固定被钳制的策略，从池子和剩余资金中剔除
		for name := range fixed {
			if _, ok := pool[name]; ok {
				remaining -= targets[name]
				delete(pool, name)
			}
		}
		if len(pool) == 0 {
			break
		}
		if remaining < -1e-9 {
			return nil, fmt.Errorf("%w: 钳制后剩余资金为负", ErrAllocationInfeasible)
		}
	}

	// 校验最终分配满足边界且总和一致
	sum := 0.0
	for name, target := range targets {
		if target < floor-1e-6 || target > ceil+1e-6 {
			return nil, fmt.Errorf("%w: 策略 %s 分配 %.2f 超出边界 [%.2f, %.2f]", ErrAllocationInfeasible, name, target, floor, ceil)
		}
		sum += target
	}
	if diff := sum - available; diff > 1e-6 || diff < -1e-6 {
		return nil, fmt.Errorf("%w: 钳制迭代未收敛 (总和 %.2f ≠ 可分配 %.2f)", ErrAllocationInfeasible, sum, available)
	}
	return targets, nil
}

// appendHistory 写入分配历史（追加式，与状态更新同事务）
func (a *Allocator) appendHistory(ctx context.Context, tx database.Tx, result *RebalanceResult, reason string) error {
	data, err := json.Marshal(result.Allocations)
	if err != nil {
		return fmt.Errorf("序列化分配明细失败: %w", err)
	}
	return tx.SaveAllocationHistory(ctx, &database.AllocationHistory{
		Timestamp:    result.Timestamp,
		TotalCapital: result.TotalCapital,
		Allocations:  string(data),
		Reason:       reason,
	})
}

// publishMetrics 推送分配指标
func (a *Allocator) publishMetrics(totalCapital float64, result *RebalanceResult) {
	a.pm.SetTotalCapital(totalCapital)
	for name, alloc := range result.Allocations {
		a.pm.SetAllocatedCapital(name, alloc.Allocated)
		a.pm.SetPositionLocked(name, alloc.Locked)
	}
}
