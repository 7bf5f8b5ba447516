// Package notify fans trade notifications out to operator channels.
// Delivery is fire-and-forget: a down webhook must never slow down or
// fail a tick.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every configured sender in the background.
type Notifier struct {
	senders []Sender
	timeout time.Duration
	logger  *slog.Logger
}

func New(senders []Sender, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		timeout: 10 * time.Second,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyTrade delivers asynchronously to all senders. Failures are
// logged per sender and otherwise dropped.
func (n *Notifier) NotifyTrade(ctx context.Context, title, message string) {
	if len(n.senders) == 0 {
		return
	}
	for _, s := range n.senders {
		go func(s Sender) {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
			defer cancel()
			if err := s.Send(sendCtx, title, message); err != nil {
				n.logger.Warn("notification delivery failed",
					slog.String("sender", s.Name()),
					slog.Any("error", err))
			}
		}(s)
	}
}
