package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"stratpool/logger"
)

// ReloadFunc 热更新回调，收到的是完整解析并校验后的新配置
type ReloadFunc func(newCfg *Config)

// ConfigWatcher 配置文件监控器
// 仅对运行时可安全变更的字段生效（分配方法、分配边界、再平衡策略、日志级别），
// 数据库/锁/券商等连接类配置需要重启进程。
type ConfigWatcher struct {
	configPath  string
	watcher     *fsnotify.Watcher
	onReload    ReloadFunc
	mu          sync.Mutex
	isWatching  bool
	lastModTime time.Time
}

// NewConfigWatcher 创建配置监控器
func NewConfigWatcher(configPath string, onReload ReloadFunc) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	abs, err := filepath.Abs(configPath)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}

	var lastModTime time.Time
	if info, err := os.Stat(abs); err == nil {
		lastModTime = info.ModTime()
	}

	return &ConfigWatcher{
		configPath:  abs,
		watcher:     watcher,
		onReload:    onReload,
		lastModTime: lastModTime,
	}, nil
}

// Start 开始监控配置文件
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	if cw.isWatching {
		cw.mu.Unlock()
		return fmt.Errorf("配置监控器已经在运行")
	}

	// 监控目录而不是文件本身，编辑器保存往往是 rename+create
	configDir := filepath.Dir(cw.configPath)
	if err := cw.watcher.Add(configDir); err != nil {
		cw.mu.Unlock()
		return fmt.Errorf("添加监控目录失败: %w", err)
	}
	cw.isWatching = true
	cw.mu.Unlock()

	go cw.watchLoop(ctx)
	logger.Info("👀 配置热更新监控已启动: %s", cw.configPath)
	return nil
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	// 去抖：编辑器保存会触发多个事件
	var debounce *time.Timer
	defer cw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			logger.Info("⏹️ 配置监控已停止")
			return
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != cw.configPath {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("⚠️ 配置监控错误: %v", err)
		}
	}
}

// reload 重新加载并分发配置
func (cw *ConfigWatcher) reload() {
	info, err := os.Stat(cw.configPath)
	if err != nil {
		logger.Warn("⚠️ 配置文件不可读，跳过热更新: %v", err)
		return
	}

	cw.mu.Lock()
	if !info.ModTime().After(cw.lastModTime) {
		cw.mu.Unlock()
		return
	}
	cw.lastModTime = info.ModTime()
	cw.mu.Unlock()

	newCfg, err := LoadConfig(cw.configPath)
	if err != nil {
		logger.Error("❌ 配置热更新失败（保留旧配置）: %v", err)
		return
	}

	logger.Info("🔄 配置已热更新: method=%s bounds=[%.2f, %.2f] rebalance=%s",
		newCfg.Portfolio.Allocation.Method,
		newCfg.Portfolio.Allocation.MinAllocationPct,
		newCfg.Portfolio.Allocation.MaxAllocationPct,
		newCfg.Portfolio.Rebalance.Mode)

	if cw.onReload != nil {
		cw.onReload(newCfg)
	}
}
