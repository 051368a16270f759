// Package notify fans operator alerts out to chat senders such as Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Sender delivers one message over a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier forwards events to every sender. Notify honours the configured
// event filter; NotifyAll ignores it.
type Notifier struct {
	senders []Sender
	allow   map[string]struct{}
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allow := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allow[e] = struct{}{}
		}
	}
	return &Notifier{
		senders: senders,
		allow:   allow,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Allows reports whether Notify would forward event.
func (n *Notifier) Allows(event string) bool {
	if len(n.allow) == 0 {
		return true
	}
	_, ok := n.allow[event]
	return ok
}

// Notify sends when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Allows(event) {
		n.logger.DebugContext(ctx, "event filtered", slog.String("event", event))
		return nil
	}
	return n.send(ctx, title, message)
}

// NotifyAll sends regardless of the filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.send(ctx, title, message)
}

// send tries every sender and joins their failures.
func (n *Notifier) send(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notification failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
