package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stratpool/allocation"
	"stratpool/broker"
	"stratpool/config"
	"stratpool/database"
	"stratpool/event"
	"stratpool/execution"
	"stratpool/ledger"
	"stratpool/lock"
	"stratpool/logger"
	"stratpool/metrics"
	"stratpool/notify"
	"stratpool/storage"
	"stratpool/utils"
	"stratpool/web"
)

// Version 版本号
var Version = "1.2.0"

// startLogCleanup 定期清理过期日志
func startLogCleanup(ctx context.Context, logStorage *storage.LogStorage, retentionDays int) {
	if logStorage == nil || retentionDays <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -retentionDays)
				rows, err := logStorage.CleanupBefore(cutoff)
				if err != nil {
					logger.Warn("⚠️ 清理日志失败: %v", err)
				} else {
					logger.Info("✅ 已清理 %d 条过期日志（%d 天前）", rows, retentionDays)
				}
			}
		}
	}()
}

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("[FATAL] 加载配置失败: %v", err)
	}

	// 日志存储最早初始化，后续所有日志都进库
	logStorage, err := storage.NewLogStorage(cfg.System.LogDBPath)
	if err != nil {
		log.Printf("[WARN] 初始化日志存储失败: %v，将继续运行但不保存日志到数据库", err)
		logStorage = nil
	} else {
		logger.InitLogStorage(logStorage.Write)
	}

	if err := utils.SetLocation(cfg.System.Timezone); err != nil {
		logger.Warn("⚠️ 加载时区 %s 失败: %v，将使用默认时区", cfg.System.Timezone, err)
	}
	logger.SetLocation(utils.GlobalLocation)

	logLevel := logger.ParseLogLevel(cfg.System.LogLevel)
	logger.SetLevel(logLevel)

	logger.Info("🚀 StratPool 多策略资金调度系统启动...")
	logger.Info("📦 版本号: %s", Version)
	logger.Info("✅ 配置加载成功: 策略数量=%d, 交易模式=%s, 分配方法=%s",
		len(cfg.Portfolio.Strategies), cfg.Trading.Mode, cfg.Portfolio.Allocation.Method)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startLogCleanup(ctx, logStorage, cfg.System.LogRetentionDays)

	// 事件总线 & 通知
	logger.Info("🔧 正在初始化事件总线...")
	eventBus := event.NewEventBus(1000)
	notifier := notify.NewNotificationService(cfg, eventBus)
	notifier.Start()

	// 数据库
	logger.Info("🔧 正在初始化数据库...")
	db, err := database.NewDatabase(cfg)
	if err != nil {
		logger.Fatal("❌ 初始化数据库失败: %v", err)
	}
	defer db.Close()
	logger.Info("✅ 数据库已初始化 (类型: %s)", cfg.Database.Type)

	// 分布式锁（多实例模式）
	logger.Info("🔧 正在初始化分布式锁...")
	distributedLock, err := lock.NewDistributedLock(cfg)
	if err != nil {
		logger.Fatal("❌ 初始化分布式锁失败: %v", err)
	}
	defer distributedLock.Close()
	if cfg.Lock.Enabled {
		logger.Info("✅ 分布式锁已启用 (类型: %s)", cfg.Lock.Type)
	} else {
		logger.Info("ℹ️ 分布式锁未启用（单机模式）")
	}

	// 锁定台账（策略注册表在启动时即确定）
	ldg := ledger.New(distributedLock, time.Duration(cfg.Lock.TTLSeconds)*time.Second)
	ldg.Register(cfg.Portfolio.Strategies...)

	// 券商接入
	brk := broker.NewBroker(cfg)
	logger.Info("✅ 券商接入已初始化: %s", brk.Name())

	// 配置热更新快照：总资金、分配边界、回看窗口等可热更字段
	// 统一经由 reloader 读取
	reloader := config.NewHotReloader(cfg)

	// 资金分配器 & 订单执行引擎
	allocator := allocation.NewAllocator(db, ldg, eventBus, reloader)
	engine := execution.NewEngine(db, ldg, brk, eventBus, cfg)

	// 从数据库恢复锁定状态（崩溃重启后以持久化状态为准）
	if err := engine.Restore(ctx); err != nil {
		logger.Fatal("❌ 恢复锁定状态失败: %v", err)
	}

	// LIVE 模式下启动订单确认轮询
	var confirmer *execution.Confirmer
	if cfg.Trading.Mode == database.TradingModeLive {
		confirmer = execution.NewConfirmer(engine, db, brk,
			time.Duration(cfg.Trading.ConfirmIntervalSeconds)*time.Second)
		confirmer.Start()
		logger.Info("✅ 订单确认轮询已启动 (间隔: %ds)", cfg.Trading.ConfirmIntervalSeconds)
	}

	// Prometheus 系统指标采集器
	systemMetricsCollector := metrics.NewSystemMetricsCollector(10 * time.Second)
	systemMetricsCollector.Start()

	// 定时再平衡
	if cfg.Portfolio.Rebalance.Mode == "interval" {
		interval := time.Duration(cfg.Portfolio.Rebalance.IntervalMinutes) * time.Minute
		logger.Info("🔄 定时再平衡已启用 (间隔: %v)", interval)
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					current := reloader.Current()
					if _, err := allocator.Rebalance(ctx, current.Portfolio.TotalCapital,
						current.Portfolio.Allocation.Method); err != nil {
						logger.Error("❌ 定时再平衡失败: %v", err)
					}
				}
			}
		}()
	}

	// Web API
	web.SetConfigProvider(reloader)
	web.SetDatabaseProvider(db)
	web.SetLedgerProvider(ldg)
	web.SetAllocatorProvider(allocator)
	web.SetEngineProvider(engine)

	webServer := web.NewWebServer(cfg)
	if webServer != nil {
		if err := webServer.Start(ctx); err != nil {
			logger.Fatal("❌ 启动Web服务器失败: %v", err)
		}
	} else {
		logger.Info("ℹ️ Web服务器未启用")
	}

	// 配置热更新（日志级别、总资金、分配参数即时生效；
	// 交易模式、数据库、监听地址等重启级字段不热更）
	configWatcher, err := config.NewConfigWatcher(configPath, func(newCfg *config.Config) {
		logger.SetLevel(logger.ParseLogLevel(newCfg.System.LogLevel))
		reloader.Update(newCfg)
		logger.Info("✅ 配置已热更新")
	})
	if err != nil {
		logger.Warn("⚠️ 创建配置监控器失败: %v", err)
	} else if err := configWatcher.Start(ctx); err != nil {
		logger.Warn("⚠️ 启动配置监控失败: %v", err)
	}

	eventBus.PublishType(event.EventTypeSystemStart, map[string]interface{}{
		"version":      Version,
		"trading_mode": cfg.Trading.Mode,
		"strategies":   cfg.Portfolio.Strategies,
	})

	// 等待退出信号（SIGINT 或 SIGTERM）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("🛑 收到退出信号，开始优雅关闭...")

	eventBus.PublishType(event.EventTypeSystemStop, map[string]interface{}{
		"reason": "收到退出信号",
	})

	if confirmer != nil {
		confirmer.Stop()
	}
	systemMetricsCollector.Stop()
	cancel()

	// 给通知和Web关闭留出时间
	time.Sleep(500 * time.Millisecond)
	notifier.Stop()
	eventBus.Close()

	if logStorage != nil {
		logStorage.Close()
	}

	logger.Info("✅ 系统已退出")
}
