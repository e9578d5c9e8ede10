package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AllocationConfig 资金分配配置
type AllocationConfig struct {
	Method           string  `yaml:"method" json:"method"`                         // equal_weight 或 risk_adjusted
	MinAllocationPct float64 `yaml:"min_allocation_pct" json:"min_allocation_pct"` // 单策略最小分配比例（占总资金）
	MaxAllocationPct float64 `yaml:"max_allocation_pct" json:"max_allocation_pct"` // 单策略最大分配比例（占总资金）
	LookbackDays     int     `yaml:"lookback_days" json:"lookback_days"`           // 绩效回看天数
}

// RebalanceConfig 再平衡触发配置
type RebalanceConfig struct {
	Mode            string `yaml:"mode" json:"mode"`                         // manual 或 interval
	IntervalMinutes int    `yaml:"interval_minutes" json:"interval_minutes"` // interval 模式下的触发间隔
}

// Config 多策略资金调度系统配置
type Config struct {
	// 组合配置
	Portfolio struct {
		TotalCapital float64          `yaml:"total_capital"` // 总资金
		Strategies   []string         `yaml:"strategies"`    // 策略注册表（初始化时即确定）
		Allocation   AllocationConfig `yaml:"allocation"`
		Rebalance    RebalanceConfig  `yaml:"rebalance"`
	} `yaml:"portfolio"`

	// 交易配置
	Trading struct {
		Mode                   string `yaml:"mode"`                     // PAPER 或 LIVE
		ConfirmIntervalSeconds int    `yaml:"confirm_interval_seconds"` // LIVE 模式订单确认轮询间隔
	} `yaml:"trading"`

	// 券商配置（LIVE 模式）
	Broker struct {
		APIKey       string  `yaml:"api_key"`
		APISecret    string  `yaml:"api_secret"`
		BaseURL      string  `yaml:"base_url"`
		RatePerSec   float64 `yaml:"rate_per_sec"`   // 下单速率限制（次/秒）
		RateBurst    int     `yaml:"rate_burst"`     // 突发额度
		ExtendedHour bool    `yaml:"extended_hours"` // 是否允许盘前盘后
	} `yaml:"broker"`

	// 数据库配置
	Database struct {
		Type            string `yaml:"type"` // sqlite, postgres, mysql
		DSN             string `yaml:"dsn"`
		MaxOpenConns    int    `yaml:"max_open_conns"`
		MaxIdleConns    int    `yaml:"max_idle_conns"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 秒
		LogLevel        string `yaml:"log_level"`         // silent, error, warn, info
	} `yaml:"database"`

	// 分布式锁配置（多实例部署）
	Lock struct {
		Enabled    bool   `yaml:"enabled"`
		Type       string `yaml:"type"`   // redis
		Prefix     string `yaml:"prefix"` // 锁 key 前缀
		TTLSeconds int    `yaml:"ttl_seconds"`
		Redis      struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
	} `yaml:"lock"`

	// Web API 配置
	Web struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"web"`

	// 通知配置
	Notifications struct {
		Enabled  bool `yaml:"enabled"`
		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`
		Webhook struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
			Timeout int    `yaml:"timeout"` // 秒
		} `yaml:"webhook"`
	} `yaml:"notifications"`

	// 系统配置
	System struct {
		LogLevel         string `yaml:"log_level"`
		Timezone         string `yaml:"timezone"`
		LogDBPath        string `yaml:"log_db_path"`        // SQLite 日志库路径
		LogRetentionDays int    `yaml:"log_retention_days"` // 日志保留天数（0 表示不清理）
	} `yaml:"system"`
}

// LoadConfig 加载配置文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults 填充默认值
func applyDefaults(cfg *Config) {
	if cfg.Portfolio.Allocation.Method == "" {
		cfg.Portfolio.Allocation.Method = "risk_adjusted"
	}
	if cfg.Portfolio.Allocation.MinAllocationPct <= 0 {
		cfg.Portfolio.Allocation.MinAllocationPct = 0.10
	}
	if cfg.Portfolio.Allocation.MaxAllocationPct <= 0 {
		cfg.Portfolio.Allocation.MaxAllocationPct = 0.50
	}
	if cfg.Portfolio.Allocation.LookbackDays <= 0 {
		cfg.Portfolio.Allocation.LookbackDays = 90
	}
	if cfg.Portfolio.Rebalance.Mode == "" {
		cfg.Portfolio.Rebalance.Mode = "manual"
	}
	if cfg.Portfolio.Rebalance.IntervalMinutes <= 0 {
		cfg.Portfolio.Rebalance.IntervalMinutes = 1440
	}
	if cfg.Trading.Mode == "" {
		cfg.Trading.Mode = "PAPER"
	}
	cfg.Trading.Mode = strings.ToUpper(cfg.Trading.Mode)
	if cfg.Trading.ConfirmIntervalSeconds <= 0 {
		cfg.Trading.ConfirmIntervalSeconds = 10
	}
	if cfg.Broker.RatePerSec <= 0 {
		cfg.Broker.RatePerSec = 3
	}
	if cfg.Broker.RateBurst <= 0 {
		cfg.Broker.RateBurst = 5
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Type == "sqlite" {
		cfg.Database.DSN = "stratpool.db"
	}
	if cfg.Lock.Type == "" {
		cfg.Lock.Type = "redis"
	}
	if cfg.Lock.Prefix == "" {
		cfg.Lock.Prefix = "stratpool:lock:"
	}
	if cfg.Lock.TTLSeconds <= 0 {
		cfg.Lock.TTLSeconds = 30
	}
	if cfg.Web.Host == "" {
		cfg.Web.Host = "0.0.0.0"
	}
	if cfg.Web.Port <= 0 {
		cfg.Web.Port = 8090
	}
	if cfg.System.LogLevel == "" {
		cfg.System.LogLevel = "info"
	}
	if cfg.System.Timezone == "" {
		cfg.System.Timezone = "Asia/Shanghai"
	}
	if cfg.System.LogDBPath == "" {
		cfg.System.LogDBPath = "stratpool_logs.db"
	}
}

// applyEnvOverrides 应用环境变量覆盖（敏感信息优先走环境变量）
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STRATPOOL_TRADING_MODE"); v != "" {
		cfg.Trading.Mode = strings.ToUpper(v)
	}
	if v := os.Getenv("STRATPOOL_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("STRATPOOL_REDIS_ADDR"); v != "" {
		cfg.Lock.Redis.Addr = v
	}
	if v := os.Getenv("STRATPOOL_REDIS_PASSWORD"); v != "" {
		cfg.Lock.Redis.Password = v
	}
	if v := os.Getenv("STRATPOOL_LOG_LEVEL"); v != "" {
		cfg.System.LogLevel = v
	}
	if v := os.Getenv("STRATPOOL_TOTAL_CAPITAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Portfolio.TotalCapital = f
		}
	}
	// Alpaca 官方环境变量（SDK 同名约定，优先级最高）
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Broker.APISecret = v
	}
	if v := os.Getenv("APCA_API_BASE_URL"); v != "" {
		cfg.Broker.BaseURL = v
	}
}

// Validate 校验配置
func Validate(cfg *Config) error {
	if cfg.Trading.Mode != "PAPER" && cfg.Trading.Mode != "LIVE" {
		return fmt.Errorf("无效的交易模式: %s（仅支持 PAPER/LIVE）", cfg.Trading.Mode)
	}

	m := cfg.Portfolio.Allocation.Method
	if m != "equal_weight" && m != "risk_adjusted" {
		return fmt.Errorf("无效的分配方法: %s（仅支持 equal_weight/risk_adjusted）", m)
	}

	minPct := cfg.Portfolio.Allocation.MinAllocationPct
	maxPct := cfg.Portfolio.Allocation.MaxAllocationPct
	if minPct < 0 || maxPct > 1 || minPct >= maxPct {
		return fmt.Errorf("无效的分配边界: [%.2f, %.2f]", minPct, maxPct)
	}

	if cfg.Portfolio.Rebalance.Mode != "manual" && cfg.Portfolio.Rebalance.Mode != "interval" {
		return fmt.Errorf("无效的再平衡模式: %s（仅支持 manual/interval）", cfg.Portfolio.Rebalance.Mode)
	}

	switch cfg.Database.Type {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("不支持的数据库类型: %s", cfg.Database.Type)
	}

	if cfg.Trading.Mode == "LIVE" && cfg.Broker.APIKey == "" {
		return fmt.Errorf("LIVE 模式必须配置券商 API Key")
	}

	if cfg.Lock.Enabled && cfg.Lock.Redis.Addr == "" {
		return fmt.Errorf("启用分布式锁时必须配置 Redis 地址")
	}

	// 策略名去重检查
	seen := make(map[string]bool, len(cfg.Portfolio.Strategies))
	for _, name := range cfg.Portfolio.Strategies {
		if name == "" {
			return fmt.Errorf("策略名不能为空")
		}
		if seen[name] {
			return fmt.Errorf("策略名重复: %s", name)
		}
		seen[name] = true
	}

	return nil
}
