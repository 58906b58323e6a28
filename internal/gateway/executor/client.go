// Package executor 调用外部调仓执行服务（签名与链上交易由对方负责）。
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lpwatch/internal/pkg/text"
	"lpwatch/internal/types"
)

type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// Client implements gateway.Executor over HTTP.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, fmt.Errorf("executor.url 不能为空")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		// 链上确认较慢，默认超时明显长于只读接口
		timeout = 90 * time.Second
	}
	return &Client{
		endpoint:   base + "/rebalance",
		token:      strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type rebalanceRequest struct {
	PositionID string                 `json:"position_id"`
	PoolID     string                 `json:"pool_id"`
	Owner      string                 `json:"owner,omitempty"`
	LowerBin   int                    `json:"lower_bin"`
	UpperBin   int                    `json:"upper_bin"`
	ActiveBin  int                    `json:"active_bin"`
	Options    types.RebalanceOptions `json:"options"`
}

// ExecuteRebalance 返回 Success=false 的结果同样视为错误，调用方只需判断 err。
func (c *Client) ExecuteRebalance(ctx context.Context, pos types.Position, opts types.RebalanceOptions) (types.RebalanceResult, error) {
	payload := rebalanceRequest{
		PositionID: pos.ID,
		PoolID:     pos.PoolID,
		Owner:      pos.Owner,
		LowerBin:   pos.LowerBin,
		UpperBin:   pos.UpperBin,
		ActiveBin:  pos.ActiveBin,
		Options:    opts,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return types.RebalanceResult{}, fmt.Errorf("序列化请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(buf))
	if err != nil {
		return types.RebalanceResult{}, fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.RebalanceResult{}, fmt.Errorf("调用执行器失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.RebalanceResult{}, fmt.Errorf("执行器返回错误(%s): %s", resp.Status, text.Truncate(strings.TrimSpace(string(data)), 512))
	}
	var out types.RebalanceResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.RebalanceResult{}, fmt.Errorf("解析执行器响应失败: %w", err)
	}
	if !out.Success {
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = "unknown error"
		}
		return out, fmt.Errorf("执行器报告失败: %s", msg)
	}
	if strings.TrimSpace(out.NewPositionID) == "" {
		return out, fmt.Errorf("执行器未返回 new_position_id")
	}
	return out, nil
}
