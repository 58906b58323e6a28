package types

import "time"

// Snapshot 是一次定时观测，写入后不可修改，只会被保留期清理删除。
// Key 为池子 ID 或仓位 ID。
type Snapshot struct {
	Key         string    `json:"key"`
	PoolID      string    `json:"pool_id"`
	Timestamp   time.Time `json:"timestamp"`
	Price       float64   `json:"price"`
	Volume24h   float64   `json:"volume_24h"`
	VolumeRatio float64   `json:"volume_ratio"`
	ActiveBin   int       `json:"active_bin"`
	Volatility  float64   `json:"volatility"`
	ValueUSD    float64   `json:"value_usd,omitempty"`
	FeesUSD     float64   `json:"fees_usd,omitempty"`
}
