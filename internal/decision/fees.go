package decision

import "lpwatch/internal/types"

// FeeMethod 表示手续费估算所用的数据路径。
type FeeMethod string

const (
	FeeMethodShare FeeMethod = "share"
	FeeMethodAPR   FeeMethod = "apr"
	FeeMethodNone  FeeMethod = "none"
)

// FeeEstimate 单位均为参考货币/天。
type FeeEstimate struct {
	Current   float64   `json:"current"`
	Projected float64   `json:"projected"`
	Increase  float64   `json:"increase"`
	Method    FeeMethod `json:"method"`
}

// inRangeDailyFees 优先按流动性份额估算，池子数据缺失时退回 APR。
func inRangeDailyFees(valueUSD float64, pool *types.PoolInfo, vol *types.VolumeStats) (float64, FeeMethod) {
	if vol != nil && vol.TotalLiquidity > 0 && vol.Fees24h > 0 {
		return valueUSD / vol.TotalLiquidity * vol.Fees24h, FeeMethodShare
	}
	if pool != nil && pool.APR > 0 {
		return valueUSD * (pool.APR / 365), FeeMethodAPR
	}
	return 0, FeeMethodNone
}

// EstimateFees 区间外当前收益恒为 0；重新居中后按 improvement 提升，
// 当前无收益时按区间内估算。
func EstimateFees(pos types.Position, geo types.Geometry, pool *types.PoolInfo, vol *types.VolumeStats, improvement float64) FeeEstimate {
	estimate, method := inRangeDailyFees(pos.ValueUSD, pool, vol)
	out := FeeEstimate{Method: method}
	if geo.InRange {
		out.Current = estimate
	}
	if out.Current > 0 {
		out.Projected = out.Current * (1 + improvement)
	} else {
		out.Projected = estimate
	}
	out.Increase = out.Projected - out.Current
	return out
}
