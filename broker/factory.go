package broker

import (
	"stratpool/config"
	"stratpool/database"
	"stratpool/logger"
)

// NewBroker 根据交易模式创建券商实例
func NewBroker(cfg *config.Config) Broker {
	if cfg.Trading.Mode == database.TradingModeLive {
		return NewAlpacaBroker(cfg)
	}
	logger.Info("📝 PAPER 模式，使用模拟券商")
	return NewPaperBroker()
}
