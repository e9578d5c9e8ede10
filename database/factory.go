package database

import (
	"fmt"
	"time"

	"stratpool/config"
	"stratpool/logger"
)

// NewDatabase 根据配置创建数据库实例
func NewDatabase(cfg *config.Config) (Database, error) {
	dbConfig := &DBConfig{
		Type:            cfg.Database.Type,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		LogLevel:        cfg.Database.LogLevel,
	}

	db, err := NewGormDatabase(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	logger.Info("💾 数据库已连接: type=%s", cfg.Database.Type)
	return db, nil
}
