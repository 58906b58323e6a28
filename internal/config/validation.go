package config

import (
	"fmt"
	"net/url"
	"strings"

	"lpwatch/internal/decision"
	"lpwatch/internal/scheduler"
	"lpwatch/internal/types"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.DLMM.validate(); err != nil {
		return err
	}
	if err := c.Price.validate(); err != nil {
		return err
	}
	if err := c.Executor.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Redis.validate(); err != nil {
		return err
	}
	if err := c.Decision.validate(); err != nil {
		return err
	}
	if err := c.Monitor.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(a.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format only supports text|json, got %s", a.LogFormat)
	}
	return nil
}

func (s *StorageConfig) validate() error {
	switch s.Backend {
	case BackendMemory:
	case BackendJSONFile:
		if strings.TrimSpace(s.Dir) == "" {
			return fmt.Errorf("storage.dir cannot be empty for jsonfile backend")
		}
	case BackendSQLite:
		if strings.TrimSpace(s.SQLitePath) == "" {
			return fmt.Errorf("storage.sqlite_path cannot be empty for sqlite backend")
		}
	default:
		return fmt.Errorf("storage.backend only supports memory|jsonfile|sqlite, got %s", s.Backend)
	}
	if s.IntradayRetentionDays > s.PortfolioRetentionDays {
		return fmt.Errorf("storage.intraday_retention_days (%d) must not exceed portfolio_retention_days (%d)",
			s.IntradayRetentionDays, s.PortfolioRetentionDays)
	}
	return nil
}

func (d *DLMMConfig) validate() error {
	if err := validateURL("dlmm.base_url", d.BaseURL); err != nil {
		return err
	}
	if d.PositionsURL != "" {
		if err := validateURL("dlmm.positions_url", d.PositionsURL); err != nil {
			return err
		}
	}
	if d.VolumeDays < 2 {
		return fmt.Errorf("dlmm.volume_days must be >= 2 to compute a volume ratio")
	}
	return nil
}

func (p *PriceConfig) validate() error {
	if !p.Enabled {
		return nil
	}
	if err := validateURL("price.rest_base_url", p.RESTBaseURL); err != nil {
		return err
	}
	if p.Proxy.Enabled && p.Proxy.RESTURL == "" {
		return fmt.Errorf("price.proxy enabled but rest_url is empty")
	}
	return nil
}

func (e *ExecutorConfig) validate() error {
	if !e.Enabled {
		return nil
	}
	return validateURL("executor.url", e.URL)
}

func (n *NotifyConfig) validate() error {
	switch types.Severity(n.MinSeverity) {
	case types.SeverityInfo, types.SeverityWarning, types.SeverityCritical:
	default:
		return fmt.Errorf("notify.min_severity only supports info|warning|critical, got %s", n.MinSeverity)
	}
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	if n.Discord.Enabled {
		if err := validateURL("notify.discord.webhook_url", n.Discord.WebhookURL); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Addr) == "" {
		return fmt.Errorf("redis.addr cannot be empty when redis is enabled")
	}
	if r.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0")
	}
	return nil
}

func (d *DecisionConfig) validate() error {
	if _, err := decision.PolicyByName(d.Policy); err != nil {
		return fmt.Errorf("decision.policy: %w", err)
	}
	th := d.Thresholds
	if th.HighShare > 1 {
		return fmt.Errorf("decision.thresholds.high_share must be in (0, 1]")
	}
	if th.HoldHours > th.NeverWorthHours {
		return fmt.Errorf("decision.thresholds.hold_hours must not exceed never_worth_hours")
	}
	if th.MediumMaxHours > th.MediumOptionalHours {
		return fmt.Errorf("decision.thresholds.medium_max_hours must not exceed medium_optional_hours")
	}
	return nil
}

func (m *MonitorConfig) validate() error {
	if m.UrgentEdgeBins > m.WarnEdgeBins {
		return fmt.Errorf("monitor.urgent_edge_bins (%d) must not exceed warn_edge_bins (%d)", m.UrgentEdgeBins, m.WarnEdgeBins)
	}
	if m.Concurrency > 32 {
		return fmt.Errorf("monitor.concurrency must be in [1,32]")
	}
	if _, err := m.Cadences.Build(); err != nil {
		return err
	}
	return nil
}

// Build 将档位覆盖合并到内置节奏上。
func (c CadenceOverrides) Build() (Cadences, error) {
	var out Cadences
	var err error
	if out.Hourly, err = buildOne("monitor.cadences.hourly", scheduler.Hourly, c.Hourly); err != nil {
		return out, err
	}
	if out.ThirtyMin, err = buildOne("monitor.cadences.thirty_min", scheduler.ThirtyMinutes, c.ThirtyMin); err != nil {
		return out, err
	}
	if out.TwelveHour, err = buildOne("monitor.cadences.twelve_hour", scheduler.TwelveHour, c.TwelveHour); err != nil {
		return out, err
	}
	if out.Daily, err = buildOne("monitor.cadences.daily", scheduler.Daily, c.Daily); err != nil {
		return out, err
	}
	return out, nil
}

// Cadences 为解析后的四档节奏。
type Cadences struct {
	Hourly     scheduler.Cadence
	ThirtyMin  scheduler.Cadence
	TwelveHour scheduler.Cadence
	Daily      scheduler.Cadence
}

func buildOne(key string, base scheduler.Cadence, o CadenceOverride) (scheduler.Cadence, error) {
	if o.IsZero() {
		return base, nil
	}
	if strings.TrimSpace(o.Interval) != "" && len(o.Times) > 0 {
		return scheduler.Cadence{}, fmt.Errorf("%s: interval and times are mutually exclusive", key)
	}
	c, err := scheduler.BuildCadence(base, o.Interval, o.Times)
	if err != nil {
		return scheduler.Cadence{}, fmt.Errorf("%s: %w", key, err)
	}
	return c, nil
}

func validateURL(key, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", key)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s is not a valid url: %q", key, raw)
	}
	return nil
}
