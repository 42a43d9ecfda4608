package notify

import (
	"context"
	"log/slog"

	"github.com/pkg/browser"
)

// Opener opens the link of each notification that carries one in the browser.
type Opener struct {
	Log *slog.Logger

	// Open defaults to browser.OpenURL.
	Open func(url string) error
}

func (o Opener) Notify(ctx context.Context, m Message) {
	url := m.Link
	if url == "" {
		return
	}
	open := o.Open
	if open == nil {
		open = browser.OpenURL
	}
	if err := open(url); err != nil {
		log := o.Log
		if log == nil {
			log = slog.Default()
		}
		log.WarnContext(ctx, "open link failed", slog.String("url", url), slog.Any("err", err))
	}
}
