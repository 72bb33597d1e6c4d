package notify

import (
	"context"

	"torntracker/internal/metrics"

	"github.com/rs/zerolog"
)

// Notification is one outbound fire-and-forget message. ChannelID and
// Mentions address the destination chat surface; Kind labels the
// notification class for metrics.
type Notification struct {
	Kind      string
	ChannelID string
	Mentions  []string
	Message   string
}

// Notifier is the boundary to the chat platform. Delivery is best
// effort; callers never block a sync pass on a failed send.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log. It stands in
// wherever no chat transport is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, notification Notification) error {
	n.logger.Info().
		Str("kind", notification.Kind).
		Str("channel_id", notification.ChannelID).
		Strs("mentions", notification.Mentions).
		Str("message", notification.Message).
		Msg("notification")
	metrics.NotificationsSent.WithLabelValues(notification.Kind).Inc()
	return nil
}
