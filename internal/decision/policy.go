package decision

import (
	"errors"
	"fmt"
	"strings"

	"lpwatch/internal/types"
)

// Input 是策略所需的全部已计算量；策略本身不做任何 I/O。
type Input struct {
	Position    types.Position
	Geometry    types.Geometry
	Fees        FeeEstimate
	CostUSD     float64
	BreakEven   types.Hours
	VolumeRatio float64
	Thresholds  Thresholds
}

// Verdict 为策略输出，由 Engine 合并进 RebalanceDecision。
type Verdict struct {
	ShouldRebalance bool
	Urgency         types.Urgency
	Recommendation  string
	Reason          string
	Score           float64
	Factors         []types.ScoreFactor
}

// Policy 将计算结果映射为建议。交互式分析与自动调仓各有一套实现。
type Policy interface {
	Name() string
	Decide(in Input) Verdict
}

const (
	PolicyAnalyzer = "analyzer"
	PolicyAuto     = "auto"
)

// ErrUnknownPolicy is wrapped by PolicyByName for unrecognised names.
var ErrUnknownPolicy = errors.New("unknown decision policy")

// PolicyByName 返回命名策略；空字符串为 analyzer。
func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyAnalyzer, "interactive":
		return AnalyzerPolicy{}, nil
	case PolicyAuto, "automated", "score":
		return AutoScorePolicy{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownPolicy, name)
	}
}

// ClassifyPriority 为纯几何分级，与回本时间无关。区间外恒为 CRITICAL。
func ClassifyPriority(geo types.Geometry, th Thresholds) types.Urgency {
	switch {
	case !geo.InRange:
		return types.UrgencyCritical
	case geo.ActiveBinShare < th.HighShare || geo.EdgeDistance <= th.HighEdge:
		return types.UrgencyHigh
	case geo.CenterDrift > th.MediumDrift || geo.EdgeDistance <= th.MediumEdge:
		return types.UrgencyMedium
	case geo.CenterDrift > th.LowDrift || (th.CoarseLowEdge && geo.EdgeDistance <= th.LowEdge):
		return types.UrgencyLow
	default:
		return types.UrgencyNone
	}
}

// AnalyzerPolicy 为交互式成本收益分析：先按几何分级，再用回本时间覆盖。
type AnalyzerPolicy struct{}

func (AnalyzerPolicy) Name() string { return PolicyAnalyzer }

func (AnalyzerPolicy) Decide(in Input) Verdict {
	th := in.Thresholds
	priority := ClassifyPriority(in.Geometry, th)
	be := in.BreakEven
	v := Verdict{Urgency: priority}

	switch {
	case priority == types.UrgencyCritical:
		v.ShouldRebalance = true
		v.Recommendation = "REBALANCE IMMEDIATELY"
		v.Reason = fmt.Sprintf("active bin %d is outside [%d, %d]; position earns no fees",
			in.Position.ActiveBin, in.Position.LowerBin, in.Position.UpperBin)
	case be.Infinite() || float64(be) > th.NeverWorthHours:
		if v.Urgency > types.UrgencyLow {
			v.Urgency = types.UrgencyLow
		}
		v.Recommendation = "HOLD"
		v.Reason = fmt.Sprintf("break-even %s exceeds one year; rebalancing is not worth it", be)
	case float64(be) > th.HoldHours:
		v.Recommendation = "HOLD"
		v.Reason = fmt.Sprintf("break-even %s exceeds 30 days", be)
	case priority == types.UrgencyHigh:
		if float64(be) <= th.HighMaxHours {
			v.ShouldRebalance = true
			v.Recommendation = "REBALANCE"
			v.Reason = fmt.Sprintf("near range edge (%d bins) and break-even %s", in.Geometry.EdgeDistance, be)
		} else {
			v.Recommendation = "CONSIDER REBALANCING"
			v.Reason = fmt.Sprintf("near range edge (%d bins) but break-even %s exceeds 7 days", in.Geometry.EdgeDistance, be)
		}
	case priority == types.UrgencyMedium:
		switch {
		case float64(be) <= th.MediumMaxHours:
			v.ShouldRebalance = true
			v.Recommendation = "REBALANCE"
			v.Reason = fmt.Sprintf("drifted %.1f bins from center, break-even %s", in.Geometry.CenterDrift, be)
		case float64(be) <= th.MediumOptionalHours:
			v.Recommendation = "OPTIONAL"
			v.Reason = fmt.Sprintf("drifted %.1f bins from center, break-even %s", in.Geometry.CenterDrift, be)
		default:
			v.Recommendation = "HOLD"
			v.Reason = fmt.Sprintf("drifted %.1f bins but break-even %s exceeds 14 days", in.Geometry.CenterDrift, be)
		}
	default:
		v.Recommendation = "HOLD"
		v.Reason = fmt.Sprintf("position is well centered (drift %.1f bins, edge %d bins)", in.Geometry.CenterDrift, in.Geometry.EdgeDistance)
	}
	return v
}

// AutoScorePolicy 为常驻自动调仓使用的 0-100 打分。
type AutoScorePolicy struct{}

func (AutoScorePolicy) Name() string { return PolicyAuto }

func (AutoScorePolicy) Decide(in Input) Verdict {
	th := in.Thresholds
	geo := in.Geometry

	statusPts, statusDetail := statusPoints(geo)
	volumePts := volumePoints(in.VolumeRatio)
	ratio := OpportunityRatio(in.Fees.Increase, in.CostUSD)
	opportunityPts := opportunityPoints(ratio)

	factors := []types.ScoreFactor{
		{Name: "position_status", Points: statusPts, Detail: statusDetail},
		{Name: "volume_ratio", Points: volumePts, Detail: fmt.Sprintf("%.2fx", in.VolumeRatio)},
		{Name: "opportunity_ratio", Points: opportunityPts, Detail: formatRatio(ratio)},
	}
	score := clamp(statusPts+volumePts+opportunityPts, 0, 100)
	roiOK := ratio >= th.MinOpportunityRatio

	v := Verdict{Score: score, Factors: factors}
	switch {
	case score >= th.AutoHighScore && roiOK:
		v.ShouldRebalance = true
		v.Urgency = types.UrgencyHigh
		v.Recommendation = "EXECUTE"
		v.Reason = fmt.Sprintf("score %.0f with opportunity ratio %s", score, formatRatio(ratio))
	case score >= th.AutoMediumScore && roiOK && !in.BreakEven.Infinite() && float64(in.BreakEven) < th.AutoMediumMaxBreakEven:
		v.ShouldRebalance = true
		v.Urgency = types.UrgencyMedium
		v.Recommendation = "EXECUTE"
		v.Reason = fmt.Sprintf("score %.0f, break-even %s", score, in.BreakEven)
	case !geo.InRange && !roiOK:
		v.Urgency = types.UrgencyCritical
		v.Recommendation = "WAIT"
		v.Reason = fmt.Sprintf("out of range but opportunity ratio %s is below %.2f; waiting for price to return", formatRatio(ratio), th.MinOpportunityRatio)
	default:
		v.Urgency = types.UrgencyNone
		v.Recommendation = "HOLD"
		v.Reason = fmt.Sprintf("score %.0f below execution threshold", score)
	}
	return v
}

func statusPoints(geo types.Geometry) (float64, string) {
	switch {
	case !geo.InRange:
		return 40, "out of range"
	case geo.EdgeDistance < 3:
		return 30, fmt.Sprintf("%d bins from edge", geo.EdgeDistance)
	case geo.ActiveBinShare < 0.5:
		return 20, fmt.Sprintf("%.0f%% of bins active", geo.ActiveBinShare*100)
	case geo.EdgeDistance < 5:
		return 10, fmt.Sprintf("%d bins from edge", geo.EdgeDistance)
	default:
		return 0, "healthy"
	}
}

// volumePoints 量比低于 0.7 视为噪音而非真实行情，扣分。
func volumePoints(ratio float64) float64 {
	switch {
	case ratio >= 2.0:
		return 20
	case ratio >= 1.5:
		return 15
	case ratio >= 1.2:
		return 10
	case ratio >= 1.0:
		return 5
	case ratio < 0.7:
		return -15
	default:
		return 0
	}
}

func opportunityPoints(ratio float64) float64 {
	switch {
	case ratio >= 5:
		return 20
	case ratio >= 3:
		return 15
	case ratio >= 2:
		return 10
	case ratio >= 1:
		return 5
	case ratio >= 0.5:
		return 0
	default:
		return -20
	}
}

func formatRatio(r float64) string {
	if r > 1e9 {
		return "inf"
	}
	return fmt.Sprintf("%.2fx", r)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
