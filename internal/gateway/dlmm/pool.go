package dlmm

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"lpwatch/internal/types"
)

func (c *Client) pairURL(poolID string) string {
	return c.cfg.BaseURL + "/pair/" + url.PathEscape(strings.TrimSpace(poolID))
}

func (c *Client) fetchPair(ctx context.Context, poolID string) (gjson.Result, error) {
	if strings.TrimSpace(poolID) == "" {
		return gjson.Result{}, fmt.Errorf("pool id 不能为空")
	}
	raw, err := c.get(ctx, c.pairURL(poolID))
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("dlmm pair %s: invalid json", poolID)
	}
	return gjson.ParseBytes(raw), nil
}

// PoolInfo 返回价格、活跃 bin 与 APR；上游 apr 为百分数，这里换算为小数。
func (c *Client) PoolInfo(ctx context.Context, poolID string) (types.PoolInfo, error) {
	pair, err := c.fetchPair(ctx, poolID)
	if err != nil {
		return types.PoolInfo{}, err
	}
	if !pair.Get("active_id").Exists() {
		return types.PoolInfo{}, fmt.Errorf("dlmm pair %s: missing active_id", poolID)
	}
	return types.PoolInfo{
		PoolID:    poolID,
		Name:      pair.Get("name").String(),
		Price:     pair.Get("current_price").Float(),
		ActiveBin: int(pair.Get("active_id").Int()),
		BinStep:   int(pair.Get("bin_step").Int()),
		APR:       pair.Get("apr").Float() / 100,
	}, nil
}

// Volume 带 TTL 缓存；同一池子的并发请求经 singleflight 合并为一次上游调用。
func (c *Client) Volume(ctx context.Context, poolID string) (types.VolumeStats, error) {
	if stats, ok := c.cachedVolume(poolID); ok {
		return stats, nil
	}
	v, err, _ := c.group.Do(poolID, func() (any, error) {
		if stats, ok := c.cachedVolume(poolID); ok {
			return stats, nil
		}
		stats, err := c.fetchVolume(ctx, poolID)
		if err != nil {
			return types.VolumeStats{}, err
		}
		c.cacheMu.Lock()
		c.volumes[poolID] = volumeEntry{stats: stats, expiresAt: c.nowFn().Add(c.cfg.VolumeCacheTTL)}
		c.cacheMu.Unlock()
		return stats, nil
	})
	if err != nil {
		return types.VolumeStats{}, err
	}
	return v.(types.VolumeStats), nil
}

func (c *Client) cachedVolume(poolID string) (types.VolumeStats, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	entry, ok := c.volumes[poolID]
	if !ok || !c.nowFn().Before(entry.expiresAt) {
		return types.VolumeStats{}, false
	}
	return entry.stats, true
}

func (c *Client) fetchVolume(ctx context.Context, poolID string) (types.VolumeStats, error) {
	pair, err := c.fetchPair(ctx, poolID)
	if err != nil {
		return types.VolumeStats{}, err
	}
	stats := types.VolumeStats{
		PoolID:         poolID,
		Volume24h:      pair.Get("trade_volume_24h").Float(),
		Fees24h:        pair.Get("fees_24h").Float(),
		TotalLiquidity: pair.Get("liquidity").Float(),
		VolumeRatio:    1,
		FetchedAt:      c.nowFn().UTC(),
	}
	endpoint := c.pairURL(poolID) + "/analytic/pair_trade_volume?num_of_days=" + strconv.Itoa(c.cfg.VolumeDays)
	raw, err := c.get(ctx, endpoint)
	if err != nil {
		// 日序列缺失时比值按 1 处理，不影响 24h 数据
		log.Warnf("成交量序列获取失败 pool=%s err=%v", poolID, err)
		return stats, nil
	}
	days := make([]float64, 0, c.cfg.VolumeDays)
	gjson.ParseBytes(raw).ForEach(func(_, day gjson.Result) bool {
		days = append(days, day.Get("trading_volume").Float())
		return true
	})
	stats.VolumeRatio = volumeRatio(days)
	return stats, nil
}

// volumeRatio = 最近一日 / 之前各日均值；样本不足或均值为 0 时返回 1。
func volumeRatio(days []float64) float64 {
	if len(days) < 2 {
		return 1
	}
	latest := days[len(days)-1]
	var sum float64
	for _, v := range days[:len(days)-1] {
		sum += v
	}
	avg := sum / float64(len(days)-1)
	if avg <= 0 {
		return 1
	}
	return latest / avg
}
