package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDatabase GORM 数据库实现
type GormDatabase struct {
	db *gorm.DB
}

// DBConfig 数据库配置
type DBConfig struct {
	Type            string        // sqlite, postgres, mysql
	DSN             string        // 数据源名称
	MaxOpenConns    int           // 最大打开连接数
	MaxIdleConns    int           // 最大空闲连接数
	ConnMaxLifetime time.Duration // 连接最大生命周期
	LogLevel        string        // 日志级别: silent, error, warn, info
}

// NewGormDatabase 创建 GORM 数据库实例
func NewGormDatabase(config *DBConfig) (*GormDatabase, error) {
	var dialector gorm.Dialector

	switch config.Type {
	case "sqlite":
		dialector = sqlite.Open(config.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(config.DSN)
	case "mysql":
		dialector = mysql.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	logLevel := logger.Silent
	switch config.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 连接池
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	g := &GormDatabase{db: db}
	if err := g.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return g, nil
}

// migrate 自动建表
func (g *GormDatabase) migrate() error {
	return g.db.AutoMigrate(
		&PortfolioState{},
		&Position{},
		&Order{},
		&AllocationHistory{},
	)
}

// SavePortfolioState 保存（插入或更新）组合状态
func (g *GormDatabase) SavePortfolioState(ctx context.Context, state *PortfolioState) error {
	state.LastUpdated = time.Now()
	return g.db.WithContext(ctx).Save(state).Error
}

// GetPortfolioState 按策略名查询组合状态，不存在时返回 nil
func (g *GormDatabase) GetPortfolioState(ctx context.Context, strategyName string) (*PortfolioState, error) {
	var state PortfolioState
	err := g.db.WithContext(ctx).Where("strategy_name = ?", strategyName).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// ListPortfolioStates 查询所有组合状态
func (g *GormDatabase) ListPortfolioStates(ctx context.Context) ([]*PortfolioState, error) {
	var states []*PortfolioState
	err := g.db.WithContext(ctx).Order("strategy_name").Find(&states).Error
	return states, err
}

// SavePosition 保存（插入或更新）持仓
func (g *GormDatabase) SavePosition(ctx context.Context, pos *Position) error {
	pos.LastUpdated = time.Now()
	return g.db.WithContext(ctx).Save(pos).Error
}

// GetPosition 查询持仓，不存在时返回 nil
func (g *GormDatabase) GetPosition(ctx context.Context, strategyName, symbol string) (*Position, error) {
	var pos Position
	err := g.db.WithContext(ctx).
		Where("strategy_name = ? AND symbol = ?", strategyName, symbol).
		First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// ListPositions 查询某策略的全部持仓（strategyName 为空时返回全部）
func (g *GormDatabase) ListPositions(ctx context.Context, strategyName string) ([]*Position, error) {
	var positions []*Position
	q := g.db.WithContext(ctx)
	if strategyName != "" {
		q = q.Where("strategy_name = ?", strategyName)
	}
	err := q.Find(&positions).Error
	return positions, err
}

// DeletePosition 删除持仓
func (g *GormDatabase) DeletePosition(ctx context.Context, strategyName, symbol string) error {
	return g.db.WithContext(ctx).
		Where("strategy_name = ? AND symbol = ?", strategyName, symbol).
		Delete(&Position{}).Error
}

// SaveOrder 保存订单
func (g *GormDatabase) SaveOrder(ctx context.Context, order *Order) error {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	return g.db.WithContext(ctx).Save(order).Error
}

// GetOrder 按 ID 查询订单，不存在时返回 nil
func (g *GormDatabase) GetOrder(ctx context.Context, id int64) (*Order, error) {
	var order Order
	err := g.db.WithContext(ctx).First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrder 更新订单（状态流转）
func (g *GormDatabase) UpdateOrder(ctx context.Context, order *Order) error {
	return g.db.WithContext(ctx).Save(order).Error
}

// ListOrders 按过滤器查询订单
func (g *GormDatabase) ListOrders(ctx context.Context, filter *OrderFilter) ([]*Order, error) {
	var orders []*Order
	q := g.db.WithContext(ctx)

	if filter != nil {
		if filter.StrategyName != "" {
			q = q.Where("strategy_name = ?", filter.StrategyName)
		}
		if filter.Symbol != "" {
			q = q.Where("symbol = ?", filter.Symbol)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.StartTime != nil {
			q = q.Where("created_at >= ?", *filter.StartTime)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}

	order := "created_at DESC"
	if filter != nil && filter.Ascending {
		order = "created_at ASC"
	}
	err := q.Order(order).Find(&orders).Error
	return orders, err
}

// SaveAllocationHistory 追加分配历史
func (g *GormDatabase) SaveAllocationHistory(ctx context.Context, history *AllocationHistory) error {
	if history.Timestamp.IsZero() {
		history.Timestamp = time.Now()
	}
	return g.db.WithContext(ctx).Create(history).Error
}

// ListAllocationHistory 按时间倒序查询分配历史
func (g *GormDatabase) ListAllocationHistory(ctx context.Context, limit int) ([]*AllocationHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	var histories []*AllocationHistory
	err := g.db.WithContext(ctx).Order("timestamp DESC").Limit(limit).Find(&histories).Error
	return histories, err
}

// BeginTx 开启事务
func (g *GormDatabase) BeginTx(ctx context.Context) (Tx, error) {
	tx := g.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormTx{GormDatabase: GormDatabase{db: tx}}, nil
}

// Ping 健康检查
func (g *GormDatabase) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (g *GormDatabase) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormTx GORM 事务实现（内嵌数据库实现复用全部操作）
type gormTx struct {
	GormDatabase
}

func (t *gormTx) Commit() error {
	return t.db.Commit().Error
}

func (t *gormTx) Rollback() error {
	return t.db.Rollback().Error
}
