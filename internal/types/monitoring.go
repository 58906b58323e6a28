package types

import "strings"

// Cadences 控制四个定时任务的开关。
type Cadences struct {
	Hourly     bool `json:"hourly" yaml:"hourly" mapstructure:"hourly"`
	ThirtyMin  bool `json:"thirty_min" yaml:"thirty_min" mapstructure:"thirty_min"`
	TwelveHour bool `json:"twelve_hour" yaml:"twelve_hour" mapstructure:"twelve_hour"`
	Daily      bool `json:"daily" yaml:"daily" mapstructure:"daily"`
}

// AllCadences enables every tier.
func AllCadences() Cadences {
	return Cadences{Hourly: true, ThirtyMin: true, TwelveHour: true, Daily: true}
}

// Any reports whether at least one tier is enabled.
func (c Cadences) Any() bool {
	return c.Hourly || c.ThirtyMin || c.TwelveHour || c.Daily
}

// MonitoringConfig 为进程级监控配置：整体替换，新配置生效前先停止旧调度器。
type MonitoringConfig struct {
	Owner     string   `json:"owner" yaml:"owner"`
	Policy    string   `json:"policy" yaml:"policy"`
	AutoApply bool     `json:"auto_apply" yaml:"auto_apply"`
	Cadences  Cadences `json:"cadences" yaml:"cadences"`
	Positions []string `json:"positions" yaml:"positions"`
	Pools     []string `json:"pools" yaml:"pools"`
	Version   int64    `json:"version" yaml:"-"`
}

// Watches reports whether the position id is monitored. An empty list means
// every position of the owner.
func (m MonitoringConfig) Watches(positionID string) bool {
	if len(m.Positions) == 0 {
		return true
	}
	for _, id := range m.Positions {
		if strings.TrimSpace(id) == positionID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (m MonitoringConfig) Clone() MonitoringConfig {
	out := m
	out.Positions = append([]string(nil), m.Positions...)
	out.Pools = append([]string(nil), m.Pools...)
	return out
}

// Severity 通知级别。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for filtering.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Notification 为通知协作者的输入，发送为 fire-and-forget。
type Notification struct {
	Kind     string            `json:"kind"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Severity Severity          `json:"severity"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
