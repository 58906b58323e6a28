package dlmm

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"lpwatch/internal/types"
)

// Positions 拉取 owner 的全部仓位；命中已知瞬时错误时返回空列表。
func (c *Client) Positions(ctx context.Context, owner string) ([]types.Position, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, fmt.Errorf("owner 不能为空")
	}
	raw, err := c.get(ctx, c.cfg.PositionsURL+"/position/"+url.PathEscape(owner))
	if err != nil {
		if c.isTransient(err) {
			log.Warnf("仓位查询命中已知瞬时错误，按无仓位处理 owner=%s err=%v", owner, err)
			return nil, nil
		}
		return nil, err
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("dlmm positions %s: invalid json", owner)
	}
	doc := gjson.ParseBytes(raw)
	list := doc.Get("positions")
	if !list.Exists() {
		list = doc
	}
	out := make([]types.Position, 0)
	list.ForEach(func(_, item gjson.Result) bool {
		pos := parsePosition(owner, item)
		if err := pos.Validate(); err != nil {
			log.Warnf("跳过无效仓位: %v", err)
			return true
		}
		out = append(out, pos)
		return true
	})
	return out, nil
}

func parsePosition(owner string, item gjson.Result) types.Position {
	pos := types.Position{
		ID:        item.Get("address").String(),
		Owner:     owner,
		PoolID:    item.Get("pair_address").String(),
		LowerBin:  int(item.Get("lower_bin_id").Int()),
		UpperBin:  int(item.Get("upper_bin_id").Int()),
		ActiveBin: int(item.Get("active_bin_id").Int()),
		ValueUSD:  item.Get("total_value_usd").Float(),
	}
	pos.InRange = pos.ContainsActiveBin()
	if ts := item.Get("last_rebalanced_at").Int(); ts > 0 {
		pos.LastRebalancedAt = time.Unix(ts, 0).UTC()
	}
	item.Get("bins").ForEach(func(_, bin gjson.Result) bool {
		pos.Bins = append(pos.Bins, types.BinLiquidity{
			BinID:     int(bin.Get("bin_id").Int()),
			Liquidity: bin.Get("liquidity_usd").Float(),
		})
		return true
	})
	return pos
}
