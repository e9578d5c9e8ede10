package config

import (
	"sync"
)

// HotReloader 配置热更新器
// 持有当前生效的配置，Update 以整体指针替换的方式切换配置，
// Current 返回的快照在替换后不再被修改，读取方无须加锁持有。
// 重启级字段（交易模式、数据库、Web 监听地址）在进程生命周期内不变，
// 组件在构造时读取；可热更的字段（日志级别、总资金、分配参数、
// 再平衡策略）每次使用时通过 Current 读取。
type HotReloader struct {
	mu      sync.RWMutex
	current *Config
}

// NewHotReloader 创建热更新器
func NewHotReloader(initial *Config) *HotReloader {
	return &HotReloader{current: initial}
}

// Current 返回当前生效的配置快照
func (hr *HotReloader) Current() *Config {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	return hr.current
}

// Update 切换到新配置（新配置已完成解析与校验）
func (hr *HotReloader) Update(newCfg *Config) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.current = newCfg
}
