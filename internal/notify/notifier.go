// Package notify fans trade lifecycle events out to the configured
// channels. Each sender renders the event in its channel's native shape;
// delivery is fire-and-forget, a channel failure is logged and never
// reaches the engine.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/crossvenue/arbot/internal/config"
	"github.com/crossvenue/arbot/internal/domain"
)

// Sender delivers one lifecycle event to one channel, formatting it
// however that channel renders best.
type Sender interface {
	PositionOpened(ctx context.Context, p domain.Position) error
	PositionClosed(ctx context.Context, r domain.CloseResult) error
	Name() string
}

// Notifier delivers open/close events on every configured sender. The
// Events list in the config selects which lifecycle events are sent at
// all; an empty list means both.
type Notifier struct {
	logger  *slog.Logger
	senders []Sender
	events  map[string]bool
}

// New builds a notifier from the notify section of the config. It
// returns nil when no channel is configured, which callers treat as
// notifications disabled.
func New(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	var senders []Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil
	}

	events := make(map[string]bool, len(cfg.Events))
	for _, e := range cfg.Events {
		events[e] = true
	}
	return &Notifier{
		logger:  logger.With(slog.String("component", "notify")),
		senders: senders,
		events:  events,
	}
}

// NotifyOpen announces a newly opened position.
func (n *Notifier) NotifyOpen(ctx context.Context, p domain.Position) {
	if !n.wants("open") {
		return
	}
	n.deliver(ctx, func(sctx context.Context, s Sender) error {
		return s.PositionOpened(sctx, p)
	})
}

// NotifyClose announces a closed position with its realized outcome.
func (n *Notifier) NotifyClose(ctx context.Context, r domain.CloseResult) {
	if !n.wants("close") {
		return
	}
	n.deliver(ctx, func(sctx context.Context, s Sender) error {
		return s.PositionClosed(sctx, r)
	})
}

func (n *Notifier) wants(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

func (n *Notifier) deliver(ctx context.Context, send func(context.Context, Sender) error) {
	for _, s := range n.senders {
		go func(s Sender) {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			if err := send(sctx, s); err != nil {
				n.logger.Warn("notification failed",
					slog.String("channel", s.Name()),
					slog.String("error", err.Error()))
			}
		}(s)
	}
}
