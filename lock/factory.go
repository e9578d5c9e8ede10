package lock

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"stratpool/config"
	"stratpool/logger"
)

// NewDistributedLock 根据配置创建分布式锁实例
// 如果未启用分布式锁，返回 NopLock（零开销，单实例模式）
func NewDistributedLock(cfg *config.Config) (DistributedLock, error) {
	if !cfg.Lock.Enabled {
		return NewNopLock(), nil
	}

	switch cfg.Lock.Type {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Lock.Redis.Addr,
			Password: cfg.Lock.Redis.Password,
			DB:       cfg.Lock.Redis.DB,
			PoolSize: cfg.Lock.Redis.PoolSize,
		})

		logger.Info("🔐 Redis 分布式锁已启用: %s", cfg.Lock.Redis.Addr)
		return NewRedisLock(client, cfg.Lock.Prefix), nil

	default:
		return nil, fmt.Errorf("unsupported lock type: %s", cfg.Lock.Type)
	}
}
