package decision

import (
	"math"

	"lpwatch/internal/analysis/trend"
	"lpwatch/internal/types"
)

// ComputeGeometry 只依据区间边界与活跃 bin 计算，不信任数据源的 InRange 标记。
func ComputeGeometry(pos types.Position) types.Geometry {
	geo := types.Geometry{
		InRange:   pos.ContainsActiveBin(),
		TotalBins: pos.UpperBin - pos.LowerBin + 1,
	}
	if geo.InRange {
		geo.EdgeDistance = minInt(pos.ActiveBin-pos.LowerBin, pos.UpperBin-pos.ActiveBin)
	}
	mid := float64(pos.LowerBin+pos.UpperBin) / 2
	geo.CenterDrift = math.Abs(float64(pos.ActiveBin) - mid)

	geo.ActiveBinShare = 1
	if len(pos.Bins) > 0 && geo.TotalBins > 0 {
		active := 0
		liquidity := make([]float64, 0, len(pos.Bins))
		for _, b := range pos.Bins {
			if b.BinID < pos.LowerBin || b.BinID > pos.UpperBin {
				continue
			}
			liquidity = append(liquidity, b.Liquidity)
			if b.Liquidity > 0 {
				active++
			}
		}
		geo.ActiveBinShare = float64(active) / float64(geo.TotalBins)
		geo.Concentration = trend.Gini(liquidity)
	}
	return geo
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
