package types

import (
	"fmt"
	"strings"
	"time"
)

// BinLiquidity 表示单个 bin 中持有的流动性（参考货币计价）。
type BinLiquidity struct {
	BinID     int     `json:"bin_id"`
	Liquidity float64 `json:"liquidity"`
}

// Position 是某个池子中的一段流动性区间，由外部数据源每轮刷新，只读。
type Position struct {
	ID               string         `json:"id"`
	Owner            string         `json:"owner,omitempty"`
	PoolID           string         `json:"pool_id"`
	LowerBin         int            `json:"lower_bin"`
	UpperBin         int            `json:"upper_bin"`
	ActiveBin        int            `json:"active_bin"`
	InRange          bool           `json:"in_range"`
	ValueUSD         float64        `json:"value_usd"`
	Bins             []BinLiquidity `json:"bins,omitempty"`
	LastRebalancedAt time.Time      `json:"last_rebalanced_at,omitempty"`
}

// Validate checks the fields the decision engine cannot work without.
func (p *Position) Validate() error {
	if p == nil {
		return fmt.Errorf("position is nil")
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("position id is empty")
	}
	if strings.TrimSpace(p.PoolID) == "" {
		return fmt.Errorf("position %s has no pool id", p.ID)
	}
	if p.LowerBin > p.UpperBin {
		return fmt.Errorf("position %s has inverted range [%d, %d]", p.ID, p.LowerBin, p.UpperBin)
	}
	if p.ValueUSD < 0 {
		return fmt.Errorf("position %s has negative value %.4f", p.ID, p.ValueUSD)
	}
	return nil
}

// ContainsActiveBin 以区间边界重新计算 in-range，不依赖数据源给出的标记。
func (p Position) ContainsActiveBin() bool {
	return p.ActiveBin >= p.LowerBin && p.ActiveBin <= p.UpperBin
}

// PoolInfo 为池子级别的实时信息。APR 为小数（0.35 = 35%）。
type PoolInfo struct {
	PoolID    string  `json:"pool_id"`
	Name      string  `json:"name,omitempty"`
	Price     float64 `json:"price"`
	ActiveBin int     `json:"active_bin"`
	BinStep   int     `json:"bin_step,omitempty"`
	APR       float64 `json:"apr"`
}

// VolumeStats 为池子的成交量与手续费统计。
type VolumeStats struct {
	PoolID         string    `json:"pool_id"`
	Volume24h      float64   `json:"volume_24h"`
	VolumeRatio    float64   `json:"volume_ratio"`
	Fees24h        float64   `json:"fees_24h"`
	TotalLiquidity float64   `json:"total_liquidity"`
	FetchedAt      time.Time `json:"fetched_at"`
}
