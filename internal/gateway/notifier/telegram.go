package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// Telegram 将通知推送至指定群/频道。
type Telegram struct {
	BotToken string
	ChatID   string
	Client   *http.Client
	APIBase  string
	// 重试间隔基数，测试中可置 0
	RetryDelay time.Duration
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		BotToken:   botToken,
		ChatID:     chatID,
		Client:     &http.Client{Timeout: 15 * time.Second},
		APIBase:    telegramAPI,
		RetryDelay: time.Second,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Send 发送 Markdown 消息（带最多 3 次重试）；message 已包含标题时 title 可为空。
func (t *Telegram) Send(ctx context.Context, title, message string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("Telegram 配置不完整")
	}
	base := strings.TrimRight(t.APIBase, "/")
	if base == "" {
		base = telegramAPI
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, t.BotToken)

	text := message
	if title = strings.TrimSpace(title); title != "" {
		text = "*" + title + "*\n" + message
	}
	payload := map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, _ := json.Marshal(payload)

	var lastErr error
	for i := 0; i < 3; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.Client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode/100 == 2 {
				return nil
			}
			lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * t.RetryDelay):
		}
	}
	return lastErr
}
