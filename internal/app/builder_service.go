package app

import (
	"fmt"

	brcfg "lpwatch/internal/config"
	"lpwatch/internal/gateway/notifier"
	"lpwatch/internal/logger"
	livehttp "lpwatch/internal/transport/http/live"
	"lpwatch/internal/types"
)

// buildNotifier 组装已启用的通知渠道；没有任何渠道时返回的 Dispatcher 直接丢弃通知。
func buildNotifier(cfg brcfg.NotifyConfig) *notifier.Dispatcher {
	var senders []notifier.Sender
	if tg := newTelegram(cfg); tg != nil {
		senders = append(senders, tg)
	}
	if cfg.Discord.Enabled {
		senders = append(senders, notifier.NewDiscordSender(cfg.Discord.WebhookURL))
	}
	d := notifier.NewDispatcher(senders,
		notifier.WithMinSeverity(types.Severity(cfg.MinSeverity)),
		notifier.WithKinds(cfg.Kinds),
		notifier.WithSendTimeout(cfg.SendTimeout()),
	)
	if len(senders) == 0 {
		logger.Warnf("未启用任何通知渠道，告警仅写入日志")
	} else {
		logger.Infof("✓ 通知渠道: %v (min_severity=%s)", d.Senders(), cfg.MinSeverity)
	}
	return d
}

func newTelegram(cfg brcfg.NotifyConfig) *notifier.Telegram {
	if !cfg.Telegram.Enabled {
		return nil
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

func buildLiveHTTPServer(cfg brcfg.AppConfig, deps livehttp.ServerConfig) (*livehttp.Server, error) {
	if cfg.HTTPAddr == "" || cfg.HTTPAddr == "-" {
		return nil, nil
	}
	deps.Addr = cfg.HTTPAddr
	server, err := livehttp.NewServer(deps)
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 接口失败: %w", err)
	}
	logger.Infof("✓ HTTP 接口监听 %s", server.Addr())
	return server, nil
}
