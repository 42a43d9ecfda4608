// Package notify delivers user-visible notifications. Delivery is best effort:
// failures are logged by the implementation and never returned to the caller.
package notify

import (
	"context"
	"log/slog"
)

type Message struct {
	Title string
	Body  string
	// Link is an optional URL the user can open, e.g. the booked appointment.
	Link string
}

type Notifier interface {
	Notify(ctx context.Context, m Message)
}

// Log writes notifications to a logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, m Message) {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{slog.String("title", m.Title), slog.String("body", m.Body)}
	if m.Link != "" {
		attrs = append(attrs, slog.String("link", m.Link))
	}
	log.InfoContext(ctx, "notification", attrs...)
}

// Multi fans a message out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, msg)
		}
	}
}
