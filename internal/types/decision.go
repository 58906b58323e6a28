package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Urgency 为有序枚举：NONE < LOW < MEDIUM < HIGH < CRITICAL。
type Urgency int

const (
	UrgencyNone Urgency = iota
	UrgencyLow
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyNone:
		return "NONE"
	case UrgencyLow:
		return "LOW"
	case UrgencyMedium:
		return "MEDIUM"
	case UrgencyHigh:
		return "HIGH"
	case UrgencyCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseUrgency accepts the String form, case-insensitively.
func ParseUrgency(s string) (Urgency, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE", "":
		return UrgencyNone, nil
	case "LOW":
		return UrgencyLow, nil
	case "MEDIUM":
		return UrgencyMedium, nil
	case "HIGH":
		return UrgencyHigh, nil
	case "CRITICAL":
		return UrgencyCritical, nil
	default:
		return UrgencyNone, fmt.Errorf("unknown urgency %q", s)
	}
}

func (u Urgency) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *Urgency) UnmarshalText(b []byte) error {
	v, err := ParseUrgency(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Hours 是小数小时数。+Inf 表示永不回本，JSON 中编码为 null。
type Hours float64

func (h Hours) Infinite() bool {
	return math.IsInf(float64(h), 1)
}

func (h Hours) Days() float64 {
	return float64(h) / 24
}

func (h Hours) MarshalJSON() ([]byte, error) {
	f := float64(h)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func (h *Hours) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*h = Hours(math.Inf(1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*h = Hours(f)
	return nil
}

func (h Hours) String() string {
	if h.Infinite() {
		return "never"
	}
	if h >= 48 {
		return fmt.Sprintf("%.1fd", h.Days())
	}
	return fmt.Sprintf("%.1fh", float64(h))
}

// Geometry 描述仓位相对当前价格的几何位置。
type Geometry struct {
	InRange        bool    `json:"in_range"`
	EdgeDistance   int     `json:"edge_distance"`
	CenterDrift    float64 `json:"center_drift"`
	TotalBins      int     `json:"total_bins"`
	ActiveBinShare float64 `json:"active_bin_share"`
	Concentration  float64 `json:"concentration"`
}

// ScoreFactor 为打分策略中的单项得分。
type ScoreFactor struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
	Detail string  `json:"detail,omitempty"`
}

// RebalanceDecision 每轮计算得出，不单独持久化（决策日志除外）。
// Priority 为纯几何分级；Urgency 为策略最终输出。
type RebalanceDecision struct {
	TraceID            string        `json:"trace_id"`
	PositionID         string        `json:"position_id"`
	PoolID             string        `json:"pool_id"`
	Policy             string        `json:"policy"`
	Trigger            string        `json:"trigger,omitempty"`
	ShouldRebalance    bool          `json:"should_rebalance"`
	Priority           Urgency       `json:"priority"`
	Urgency            Urgency       `json:"urgency"`
	Confidence         int           `json:"confidence"`
	CurrentDailyFees   float64       `json:"current_daily_fees"`
	ProjectedDailyFees float64       `json:"projected_daily_fees"`
	DailyFeeIncrease   float64       `json:"daily_fee_increase"`
	RebalanceCostUSD   float64       `json:"rebalance_cost_usd"`
	BreakEvenHours     Hours         `json:"break_even_hours"`
	Score              float64       `json:"score,omitempty"`
	Factors            []ScoreFactor `json:"factors,omitempty"`
	Recommendation     string        `json:"recommendation"`
	Reason             string        `json:"reason"`
	Geometry           Geometry      `json:"geometry"`
	Degraded           []string      `json:"degraded,omitempty"`
	EvaluatedAt        time.Time     `json:"evaluated_at"`
}
