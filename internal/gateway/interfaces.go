// Package gateway 定义监控核心依赖的外部协作方接口，具体实现位于子包。
package gateway

import (
	"context"

	"lpwatch/internal/types"
)

// PositionSource 返回 owner 当前链上仓位；已知的上游瞬时错误应返回空列表而非 error。
type PositionSource interface {
	Positions(ctx context.Context, owner string) ([]types.Position, error)
}

// PoolSource 提供池子实时信息与成交量统计（成交量由实现方短 TTL 缓存）。
type PoolSource interface {
	PoolInfo(ctx context.Context, poolID string) (types.PoolInfo, error)
	Volume(ctx context.Context, poolID string) (types.VolumeStats, error)
}

// PriceSource 提供原生币参考价格。
type PriceSource interface {
	ReferencePrice(ctx context.Context) (float64, error)
}

// Executor 调用外部执行器完成链上调仓。
type Executor interface {
	ExecuteRebalance(ctx context.Context, pos types.Position, opts types.RebalanceOptions) (types.RebalanceResult, error)
}

// Notifier is fire-and-forget: delivery failures are logged, never returned.
type Notifier interface {
	Notify(ctx context.Context, n types.Notification)
}
