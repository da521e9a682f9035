package mqtt

import (
	"context"

	"github.com/sweeney/valve-panel/internal/logger"
	"github.com/sweeney/valve-panel/internal/valve"
)

// Notifier adapts a Publisher to valve.Notifier. Publish failures are logged
// and never reach the HTTP caller.
type Notifier struct {
	pub Publisher
}

// NewNotifier wraps pub.
func NewNotifier(pub Publisher) *Notifier {
	return &Notifier{pub: pub}
}

// Notify publishes ev.
func (n *Notifier) Notify(ctx context.Context, ev valve.Event) {
	if err := n.pub.Publish(ev); err != nil {
		logger.ErrorKV(ctx, "MQTT publish failed", "valve", ev.Valve.Name, "event", ev.Kind, "error", err)
	}
}
