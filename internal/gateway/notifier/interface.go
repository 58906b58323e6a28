package notifier

import "context"

// Sender 是单个投递渠道（Telegram、Discord 等）。
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}
