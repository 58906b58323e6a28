package config

import (
	"strings"

	"lpwatch/internal/decision"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppLogFormat      = "text"
	defaultAppHTTPAddr       = ":9991"
	defaultStorageBackend    = BackendSQLite
	defaultStorageDir        = "data/snapshots"
	defaultSQLitePath        = "data/lpwatch.db"
	defaultIntradayDays      = 7
	defaultPortfolioDays     = 90
	defaultDLMMBaseURL       = "https://dlmm-api.meteora.ag"
	defaultDLMMTimeout       = 5
	defaultDLMMVolumeCache   = 300
	defaultDLMMVolumeDays    = 8
	defaultBreakerThreshold  = 5
	defaultBreakerCooldown   = 60
	defaultPriceREST         = "https://api.binance.com"
	defaultPriceSymbol       = "SOLUSDT"
	defaultPriceTimeout      = 5
	defaultPriceCache        = 60
	defaultExecutorTimeout   = 90
	defaultNotifyMinSeverity = "info"
	defaultNotifyTimeout     = 15
	defaultRedisAddr         = "127.0.0.1:6379"
	defaultRedisLeaseName    = "scheduler"
	defaultRedisLeaseTTL     = 7200
	defaultDecisionTimeout   = 5
	defaultMonitorFile       = "configs/monitoring.yaml"
	defaultMonitorConcurrent = 1
	defaultMonitorTimeout    = 5
	defaultUrgentEdgeBins    = 3
	defaultWarnEdgeBins      = 10
	defaultVolumeSpikeRatio  = 1.5
	defaultSessionEdgeBins   = 10
	defaultSessionStaleHours = 12
	defaultSessionAccelPct   = 50
	defaultTrendWindowHours  = 24
	defaultVolatilityPeriod  = 24
	defaultDecisionLogDays   = 30
	defaultBinsPerSide       = 10
	defaultSlippageBps       = 100
	defaultRebalanceStrategy = "spot"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Storage.applyDefaults(keys)
	c.DLMM.applyDefaults(keys)
	c.Price.applyDefaults(keys)
	c.Executor.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
	c.Redis.applyDefaults(keys)
	c.Decision.applyDefaults(keys)
	c.Monitor.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (s *StorageConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("storage.backend", &s.Backend, defaultStorageBackend),
		stringFieldDefault("storage.dir", &s.Dir, defaultStorageDir),
		stringFieldDefault("storage.sqlite_path", &s.SQLitePath, defaultSQLitePath),
		intFieldDefault("storage.intraday_retention_days", &s.IntradayRetentionDays, defaultIntradayDays),
		intFieldDefault("storage.portfolio_retention_days", &s.PortfolioRetentionDays, defaultPortfolioDays),
	)
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	// 决策日志默认与 sqlite 后端共用一个库文件
	if strings.TrimSpace(s.DecisionLogPath) == "" {
		s.DecisionLogPath = s.SQLitePath
	}
}

func (d *DLMMConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("dlmm.base_url", &d.BaseURL, defaultDLMMBaseURL),
		intFieldDefault("dlmm.timeout_seconds", &d.TimeoutSeconds, defaultDLMMTimeout),
		intFieldDefault("dlmm.volume_cache_seconds", &d.VolumeCacheSeconds, defaultDLMMVolumeCache),
		intFieldDefault("dlmm.volume_days", &d.VolumeDays, defaultDLMMVolumeDays),
		intFieldDefault("dlmm.breaker_threshold", &d.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("dlmm.breaker_cooldown_seconds", &d.BreakerCooldownSeconds, defaultBreakerCooldown),
	)
	d.TransientErrors = normalizeList(d.TransientErrors)
}

func (p *PriceConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	p.Proxy.normalize()
	applyFieldDefaults(keys,
		boolFieldDefault("price.enabled", &p.Enabled, true),
		stringFieldDefault("price.rest_base_url", &p.RESTBaseURL, defaultPriceREST),
		stringFieldDefault("price.symbol", &p.Symbol, defaultPriceSymbol),
		intFieldDefault("price.timeout_seconds", &p.TimeoutSeconds, defaultPriceTimeout),
		intFieldDefault("price.cache_seconds", &p.CacheSeconds, defaultPriceCache),
	)
}

func (e *ExecutorConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("executor.timeout_seconds", &e.TimeoutSeconds, defaultExecutorTimeout),
	)
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("notify.min_severity", &n.MinSeverity, defaultNotifyMinSeverity),
		intFieldDefault("notify.send_timeout_seconds", &n.SendTimeoutSeconds, defaultNotifyTimeout),
	)
	n.MinSeverity = strings.ToLower(strings.TrimSpace(n.MinSeverity))
	n.Kinds = normalizeList(n.Kinds)
}

func (r *RedisConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("redis.addr", &r.Addr, defaultRedisAddr),
		stringFieldDefault("redis.lease_name", &r.LeaseName, defaultRedisLeaseName),
		intFieldDefault("redis.lease_ttl_seconds", &r.LeaseTTLSeconds, defaultRedisLeaseTTL),
	)
}

func (d *DecisionConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("decision.policy", &d.Policy, decision.PolicyAnalyzer),
		intFieldDefault("decision.call_timeout_seconds", &d.CallTimeoutSeconds, defaultDecisionTimeout),
	)
	d.Thresholds = d.Thresholds.WithDefaults()
}

func (m *MonitorConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("monitor.file", &m.File, defaultMonitorFile),
		boolFieldDefault("monitor.watch", &m.Watch, true),
		intFieldDefault("monitor.concurrency", &m.Concurrency, defaultMonitorConcurrent),
		intFieldDefault("monitor.call_timeout_seconds", &m.CallTimeoutSeconds, defaultMonitorTimeout),
		intFieldDefault("monitor.urgent_edge_bins", &m.UrgentEdgeBins, defaultUrgentEdgeBins),
		intFieldDefault("monitor.warn_edge_bins", &m.WarnEdgeBins, defaultWarnEdgeBins),
		floatFieldDefault("monitor.volume_spike_ratio", &m.VolumeSpikeRatio, defaultVolumeSpikeRatio),
		intFieldDefault("monitor.session_edge_bins", &m.SessionEdgeBins, defaultSessionEdgeBins),
		intFieldDefault("monitor.session_stale_hours", &m.SessionStaleHours, defaultSessionStaleHours),
		floatFieldDefault("monitor.session_accel_pct", &m.SessionAccelPct, defaultSessionAccelPct),
		intFieldDefault("monitor.trend_window_hours", &m.TrendWindowHours, defaultTrendWindowHours),
		intFieldDefault("monitor.volatility_period", &m.VolatilityPeriod, defaultVolatilityPeriod),
		intFieldDefault("monitor.decision_log_retention_days", &m.DecisionLogRetentionDays, defaultDecisionLogDays),
		intFieldDefault("monitor.rebalance.bins_per_side", &m.Rebalance.BinsPerSide, defaultBinsPerSide),
		intFieldDefault("monitor.rebalance.slippage_bps", &m.Rebalance.SlippageBps, defaultSlippageBps),
		stringFieldDefault("monitor.rebalance.strategy", &m.Rebalance.Strategy, defaultRebalanceStrategy),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

// intFieldDefault 显式写 0 视为未设置：这些字段 0 都不合法。
func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, item := range in {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
