package notifier

import (
	"context"
	"strings"
	"sync"
	"time"

	"lpwatch/internal/gateway"
	"lpwatch/internal/logger"
	"lpwatch/internal/types"
)

var log = logger.Named("notifier")

// Dispatcher implements gateway.Notifier: every notification is rendered once
// and fanned out to all senders in the background.
type Dispatcher struct {
	senders     []Sender
	minSeverity types.Severity
	kinds       map[string]bool
	timeout     time.Duration
	nowFn       func() time.Time

	wg sync.WaitGroup
}

var _ gateway.Notifier = (*Dispatcher)(nil)

type DispatcherOption func(*Dispatcher)

// WithMinSeverity drops notifications below the given severity.
func WithMinSeverity(s types.Severity) DispatcherOption {
	return func(d *Dispatcher) { d.minSeverity = s }
}

// WithKinds 仅转发列出的通知类型；为空时全部转发。
func WithKinds(kinds []string) DispatcherOption {
	return func(d *Dispatcher) {
		for _, k := range kinds {
			if k = strings.TrimSpace(k); k != "" {
				d.kinds[k] = true
			}
		}
	}
}

func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func NewDispatcher(senders []Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		senders:     senders,
		minSeverity: types.SeverityInfo,
		kinds:       make(map[string]bool),
		timeout:     30 * time.Second,
		nowFn:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Senders returns the configured channel names.
func (d *Dispatcher) Senders() []string {
	out := make([]string, 0, len(d.senders))
	for _, s := range d.senders {
		out = append(out, s.Name())
	}
	return out
}

// Notify never blocks on delivery and never returns an error.
func (d *Dispatcher) Notify(ctx context.Context, n types.Notification) {
	if d == nil || len(d.senders) == 0 {
		return
	}
	if n.Severity.Rank() < d.minSeverity.Rank() {
		return
	}
	if len(d.kinds) > 0 && !d.kinds[n.Kind] {
		log.Debugf("通知类型被过滤 kind=%s", n.Kind)
		return
	}
	text := FromNotification(n, d.nowFn()).RenderMarkdown()
	// 调用方的 ctx 可能在周期结束后取消，投递不应随之中断
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		for _, s := range d.senders {
			if err := s.Send(sendCtx, "", text); err != nil {
				log.Warnf("通知发送失败 sender=%s kind=%s err=%v", s.Name(), n.Kind, err)
				continue
			}
			log.Debugf("通知已发送 sender=%s kind=%s", s.Name(), n.Kind)
		}
	}()
}

// Flush waits for background deliveries, bounded by ctx.
func (d *Dispatcher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
