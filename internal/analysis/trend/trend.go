// Package trend 从按时间升序的快照序列中推导动量、信号与成交量趋势。
// 全部为纯函数；样本不足时返回中性结果而不是错误。
package trend

import (
	"fmt"
	"math"
	"sort"
	"strings"

	talib "github.com/markcheno/go-talib"

	"lpwatch/internal/types"
)

type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

type VolumeTrend string

const (
	VolumeIncreasing VolumeTrend = "increasing"
	VolumeDecreasing VolumeTrend = "decreasing"
	VolumeStable     VolumeTrend = "stable"
)

const (
	momentumThresholdPct = 0.5
	accelerationWindow   = 3
	minSignalSamples     = 6
	volumeSpikeFactor    = 1.5
	volatilityShiftRatio = 1.2
	volumeTrendBand      = 0.10
)

// Momentum 中 PriceMomentum 与 VolumeAcceleration 均为百分比。
type Momentum struct {
	PriceMomentum      float64   `json:"price_momentum"`
	VolumeAcceleration float64   `json:"volume_acceleration"`
	Direction          Direction `json:"direction"`
}

type Signals struct {
	PriceBreakout   bool `json:"price_breakout"`
	VolumeSpike     bool `json:"volume_spike"`
	VolatilityShift bool `json:"volatility_shift"`
}

// Any reports whether at least one flag is raised.
func (s Signals) Any() bool {
	return s.PriceBreakout || s.VolumeSpike || s.VolatilityShift
}

func neutralMomentum() Momentum {
	return Momentum{Direction: DirectionNeutral}
}

// ComputeMomentum 需要至少 2 条快照。
func ComputeMomentum(snaps []types.Snapshot) Momentum {
	if len(snaps) < 2 {
		return neutralMomentum()
	}
	var sum float64
	steps := 0
	for i := 1; i < len(snaps); i++ {
		prev := snaps[i-1].Price
		if prev == 0 {
			continue
		}
		sum += (snaps[i].Price - prev) / prev * 100
		steps++
	}
	out := Momentum{Direction: DirectionNeutral}
	if steps > 0 {
		out.PriceMomentum = sum / float64(steps)
	}
	out.VolumeAcceleration = volumeAcceleration(snaps)
	switch {
	case out.PriceMomentum > momentumThresholdPct && out.VolumeAcceleration > 0:
		out.Direction = DirectionBullish
	case out.PriceMomentum < -momentumThresholdPct && out.VolumeAcceleration > 0:
		out.Direction = DirectionBearish
	}
	return out
}

// volumeAcceleration 比较最近 3 个成交量均值与其之前 3 个的均值；
// 之前不足 3 个时视为与最近相同，结果为 0。
func volumeAcceleration(snaps []types.Snapshot) float64 {
	n := len(snaps)
	recentFrom := n - accelerationWindow
	if recentFrom < 0 {
		recentFrom = 0
	}
	recent := meanVolume(snaps[recentFrom:])
	older := recent
	if recentFrom >= accelerationWindow {
		older = meanVolume(snaps[recentFrom-accelerationWindow : recentFrom])
	}
	if older == 0 {
		return 0
	}
	return (recent - older) / older * 100
}

func meanVolume(snaps []types.Snapshot) float64 {
	if len(snaps) == 0 {
		return 0
	}
	var sum float64
	for _, s := range snaps {
		sum += s.Volume24h
	}
	return sum / float64(len(snaps))
}

// DetectSignals 需要至少 6 条快照，否则全部为 false。
func DetectSignals(snaps []types.Snapshot) Signals {
	n := len(snaps)
	if n < minSignalSamples {
		return Signals{}
	}
	latest := snaps[n-1]
	prior := snaps[:n-1]

	prices := make([]float64, n)
	for i, s := range snaps {
		prices[i] = s.Price
	}
	var out Signals
	p95 := nearestRank(prices, 95)
	p5 := nearestRank(prices, 5)
	out.PriceBreakout = latest.Price > p95 || latest.Price < p5

	var volSum, volatilitySum float64
	for _, s := range prior {
		volSum += s.Volume24h
		volatilitySum += s.Volatility
	}
	meanVol := volSum / float64(len(prior))
	meanVolatility := volatilitySum / float64(len(prior))
	out.VolumeSpike = meanVol > 0 && latest.Volume24h > volumeSpikeFactor*meanVol
	// 历史波动率全为 0 说明尚未采集，不视为突变
	out.VolatilityShift = meanVolatility > 0 && latest.Volatility > volatilityShiftRatio*meanVolatility
	return out
}

// nearestRank 为最近秩百分位（不插值）。
func nearestRank(values []float64, pct float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(pct / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// ClassifyVolumeTrend 取最后 3 个点的均值与两点斜率；不足 3 个点一律 stable。
func ClassifyVolumeTrend(volumes []float64) VolumeTrend {
	n := len(volumes)
	if n < 3 {
		return VolumeStable
	}
	last3 := volumes[n-3:]
	avg := (last3[0] + last3[1] + last3[2]) / 3
	slope := (last3[2] - last3[0]) / 2
	switch {
	case slope > volumeTrendBand*avg:
		return VolumeIncreasing
	case slope < -volumeTrendBand*avg:
		return VolumeDecreasing
	default:
		return VolumeStable
	}
}

// Gini 为流动性分布集中度系数：0 表示完全均匀。空输入或单值返回 0，负值按 0 处理。
func Gini(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	sorted := make([]float64, n)
	for i, v := range values {
		if v < 0 || math.IsNaN(v) {
			v = 0
		}
		sorted[i] = v
	}
	sort.Float64s(sorted)
	var total, weighted float64
	for i, v := range sorted {
		total += v
		weighted += float64(i+1) * v
	}
	if total == 0 {
		return 0
	}
	g := (2*weighted)/(float64(n)*total) - float64(n+1)/float64(n)
	if g < 0 {
		return 0
	}
	return g
}

// RollingVolatility 返回相邻价格收益率在最近 period 个点上的标准差。
func RollingVolatility(prices []float64, period int) float64 {
	if len(prices) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	if len(returns) < 2 {
		return 0
	}
	if period <= 1 || period > len(returns) {
		period = len(returns)
	}
	series := talib.StdDev(returns, period, 1.0)
	v := lastFinite(series)
	if v < 0 {
		return 0
	}
	return v
}

func lastFinite(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		return v
	}
	return 0
}

// fitLine 为最小二乘直线拟合，slope 单位为 每个样本的价格变化。
func fitLine(series []float64) (slope, intercept float64) {
	if len(series) == 0 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(series))
	for i, y := range series {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, series[len(series)-1]
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return
}

// Report 汇总一段窗口的全部趋势输出。
type Report struct {
	Samples     int         `json:"samples"`
	Momentum    Momentum    `json:"momentum"`
	Signals     Signals     `json:"signals"`
	VolumeTrend VolumeTrend `json:"volume_trend"`
	PriceSlope  float64     `json:"price_slope"`
	Volatility  float64     `json:"volatility"`
	Summary     string      `json:"summary"`
}

// Analyze bundles momentum, signals and volume trend for one window.
func Analyze(snaps []types.Snapshot) Report {
	rep := Report{
		Samples:     len(snaps),
		Momentum:    ComputeMomentum(snaps),
		Signals:     DetectSignals(snaps),
		VolumeTrend: VolumeStable,
	}
	if len(snaps) == 0 {
		rep.Summary = "无历史快照"
		return rep
	}
	prices := make([]float64, len(snaps))
	volumes := make([]float64, len(snaps))
	for i, s := range snaps {
		prices[i] = s.Price
		volumes[i] = s.Volume24h
	}
	rep.VolumeTrend = ClassifyVolumeTrend(volumes)
	rep.PriceSlope, _ = fitLine(prices)
	rep.Volatility = RollingVolatility(prices, 0)
	rep.Summary = describe(rep)
	return rep
}

func describe(rep Report) string {
	parts := []string{
		fmt.Sprintf("%s momentum %.2f%%", rep.Momentum.Direction, rep.Momentum.PriceMomentum),
		fmt.Sprintf("volume %s (accel %.1f%%)", rep.VolumeTrend, rep.Momentum.VolumeAcceleration),
	}
	var flags []string
	if rep.Signals.PriceBreakout {
		flags = append(flags, "breakout")
	}
	if rep.Signals.VolumeSpike {
		flags = append(flags, "volume spike")
	}
	if rep.Signals.VolatilityShift {
		flags = append(flags, "volatility shift")
	}
	if len(flags) > 0 {
		parts = append(parts, "signals: "+strings.Join(flags, ", "))
	}
	return strings.Join(parts, " | ")
}
