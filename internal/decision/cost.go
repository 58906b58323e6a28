package decision

import (
	"math"

	"github.com/shopspring/decimal"

	"lpwatch/internal/types"
)

// RebalanceCostUSD = txCount * feePerTx(原生币) * referencePrice。
func RebalanceCostUSD(txCount int, feePerTxNative, referencePrice float64) float64 {
	if txCount <= 0 || !positive(feePerTxNative) || !positive(referencePrice) {
		return 0
	}
	cost := decimal.NewFromInt(int64(txCount)).
		Mul(decimal.NewFromFloat(feePerTxNative)).
		Mul(decimal.NewFromFloat(referencePrice))
	return cost.Round(8).InexactFloat64()
}

// BreakEvenHours = cost / dailyIncrease * 24；增量 <= 0 时为 +Inf。
func BreakEvenHours(costUSD, dailyIncrease float64) types.Hours {
	if !positive(dailyIncrease) {
		return types.Hours(math.Inf(1))
	}
	if !positive(costUSD) {
		return 0
	}
	hours := decimal.NewFromFloat(costUSD).
		Div(decimal.NewFromFloat(dailyIncrease)).
		Mul(decimal.NewFromInt(24))
	return types.Hours(hours.Round(4).InexactFloat64())
}

// OpportunityRatio 为一周预期增量收益与成本之比。
func OpportunityRatio(dailyIncrease, costUSD float64) float64 {
	if math.IsNaN(dailyIncrease) || math.IsInf(dailyIncrease, 0) {
		return 0
	}
	weekly := decimal.NewFromFloat(dailyIncrease).Mul(decimal.NewFromInt(7))
	if !positive(costUSD) {
		if weekly.IsPositive() {
			return math.Inf(1)
		}
		return 0
	}
	return weekly.Div(decimal.NewFromFloat(costUSD)).InexactFloat64()
}

// positive 同时排除 NaN/Inf，decimal.NewFromFloat 遇到它们会 panic。
func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
