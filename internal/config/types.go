package config

import (
	"strings"
	"time"

	"lpwatch/internal/decision"
)

// Config 是 lpwatch 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Storage  StorageConfig  `toml:"storage"`
	DLMM     DLMMConfig     `toml:"dlmm"`
	Price    PriceConfig    `toml:"price"`
	Executor ExecutorConfig `toml:"executor"`
	Notify   NotifyConfig   `toml:"notify"`
	Redis    RedisConfig    `toml:"redis"`
	Decision DecisionConfig `toml:"decision"`
	Monitor  MonitorConfig  `toml:"monitor"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	HTTPAddr  string `toml:"http_addr"`
}

// StorageConfig 选择快照与调仓历史的后端：memory | jsonfile | sqlite。
type StorageConfig struct {
	Backend                string `toml:"backend"`
	Dir                    string `toml:"dir"`
	SQLitePath             string `toml:"sqlite_path"`
	DecisionLogPath        string `toml:"decision_log_path"`
	IntradayRetentionDays  int    `toml:"intraday_retention_days"`
	PortfolioRetentionDays int    `toml:"portfolio_retention_days"`
}

const (
	BackendMemory   = "memory"
	BackendJSONFile = "jsonfile"
	BackendSQLite   = "sqlite"
)

func (s StorageConfig) IntradayRetention() time.Duration {
	return time.Duration(s.IntradayRetentionDays) * 24 * time.Hour
}

func (s StorageConfig) PortfolioRetention() time.Duration {
	return time.Duration(s.PortfolioRetentionDays) * 24 * time.Hour
}

// DLMMConfig 描述池子与仓位数据源。
type DLMMConfig struct {
	BaseURL                string   `toml:"base_url"`
	PositionsURL           string   `toml:"positions_url"`
	TimeoutSeconds         int      `toml:"timeout_seconds"`
	VolumeCacheSeconds     int      `toml:"volume_cache_seconds"`
	VolumeDays             int      `toml:"volume_days"`
	BreakerThreshold       int      `toml:"breaker_threshold"`
	BreakerCooldownSeconds int      `toml:"breaker_cooldown_seconds"`
	TransientErrors        []string `toml:"transient_errors"`
}

// PriceConfig 为参考价格来源（Binance 现货）。
type PriceConfig struct {
	Enabled        bool        `toml:"enabled"`
	RESTBaseURL    string      `toml:"rest_base_url"`
	Symbol         string      `toml:"symbol"`
	TimeoutSeconds int         `toml:"timeout_seconds"`
	CacheSeconds   int         `toml:"cache_seconds"`
	Proxy          ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
}

// ExecutorConfig 描述外部调仓执行器。
type ExecutorConfig struct {
	Enabled        bool   `toml:"enabled"`
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type NotifyConfig struct {
	MinSeverity        string         `toml:"min_severity"`
	Kinds              []string       `toml:"kinds"`
	SendTimeoutSeconds int            `toml:"send_timeout_seconds"`
	Telegram           TelegramConfig `toml:"telegram"`
	Discord            DiscordConfig  `toml:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `toml:"enabled"`
	WebhookURL string `toml:"webhook_url"`
}

// RedisConfig 仅用于多实例部署时的调度器 leader 租约。
type RedisConfig struct {
	Enabled         bool   `toml:"enabled"`
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PoolSize        int    `toml:"pool_size"`
	TLS             bool   `toml:"tls"`
	LeaseName       string `toml:"lease_name"`
	LeaseTTLSeconds int    `toml:"lease_ttl_seconds"`
}

type DecisionConfig struct {
	Policy             string              `toml:"policy"`
	CallTimeoutSeconds int                 `toml:"call_timeout_seconds"`
	Thresholds         decision.Thresholds `toml:"thresholds"`
}

// MonitorConfig 为任务阈值与档位节奏；被监控的 owner/仓位在 File 指向的 monitoring.yaml 中。
type MonitorConfig struct {
	File                     string           `toml:"file"`
	Watch                    bool             `toml:"watch"`
	Concurrency              int              `toml:"concurrency"`
	CallTimeoutSeconds       int              `toml:"call_timeout_seconds"`
	UrgentEdgeBins           int              `toml:"urgent_edge_bins"`
	WarnEdgeBins             int              `toml:"warn_edge_bins"`
	VolumeSpikeRatio         float64          `toml:"volume_spike_ratio"`
	SessionEdgeBins          int              `toml:"session_edge_bins"`
	SessionStaleHours        int              `toml:"session_stale_hours"`
	SessionAccelPct          float64          `toml:"session_accel_pct"`
	TrendWindowHours         int              `toml:"trend_window_hours"`
	VolatilityPeriod         int              `toml:"volatility_period"`
	DecisionLogRetentionDays int              `toml:"decision_log_retention_days"`
	Rebalance                RebalanceConfig  `toml:"rebalance"`
	Cadences                 CadenceOverrides `toml:"cadences"`
}

type RebalanceConfig struct {
	BinsPerSide int    `toml:"bins_per_side"`
	SlippageBps int    `toml:"slippage_bps"`
	Strategy    string `toml:"strategy"`
}

// CadenceOverride 覆盖单个档位：interval 与 times 二选一，均为空时使用内置节奏。
type CadenceOverride struct {
	Interval string   `toml:"interval"`
	Times    []string `toml:"times"`
}

func (c CadenceOverride) IsZero() bool {
	return strings.TrimSpace(c.Interval) == "" && len(c.Times) == 0
}

type CadenceOverrides struct {
	Hourly     CadenceOverride `toml:"hourly"`
	ThirtyMin  CadenceOverride `toml:"thirty_min"`
	TwelveHour CadenceOverride `toml:"twelve_hour"`
	Daily      CadenceOverride `toml:"daily"`
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (d DLMMConfig) Timeout() time.Duration { return seconds(d.TimeoutSeconds) }
func (d DLMMConfig) VolumeCacheTTL() time.Duration { return seconds(d.VolumeCacheSeconds) }
func (d DLMMConfig) BreakerCooldown() time.Duration { return seconds(d.BreakerCooldownSeconds) }
func (p PriceConfig) Timeout() time.Duration { return seconds(p.TimeoutSeconds) }
func (p PriceConfig) CacheTTL() time.Duration { return seconds(p.CacheSeconds) }
func (e ExecutorConfig) Timeout() time.Duration { return seconds(e.TimeoutSeconds) }
func (n NotifyConfig) SendTimeout() time.Duration { return seconds(n.SendTimeoutSeconds) }
func (r RedisConfig) LeaseTTL() time.Duration { return seconds(r.LeaseTTLSeconds) }
func (d DecisionConfig) CallTimeout() time.Duration { return seconds(d.CallTimeoutSeconds) }
func (m MonitorConfig) CallTimeout() time.Duration { return seconds(m.CallTimeoutSeconds) }
func (m MonitorConfig) SessionStaleAfter() time.Duration {
	return time.Duration(m.SessionStaleHours) * time.Hour
}
func (m MonitorConfig) TrendWindow() time.Duration {
	return time.Duration(m.TrendWindowHours) * time.Hour
}
func (m MonitorConfig) DecisionLogRetention() time.Duration {
	return time.Duration(m.DecisionLogRetentionDays) * 24 * time.Hour
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key string
	need  func() bool
	apply func()
}
