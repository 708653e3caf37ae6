package alerts

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TripAlert is the payload published when the circuit breaker opens. The
// bot front end subscribes to the channel and forwards it to operators.
type TripAlert struct {
	AlertID             string    `json:"alert_id"`
	Service             string    `json:"service"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	RetryAfterSeconds   int       `json:"retry_after_seconds"`
	TrippedAt           time.Time `json:"tripped_at"`
}

// RedisNotifier publishes breaker trips to a Redis channel. Publishing is
// best-effort: an unreachable broker must never affect job processing.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
	timeout time.Duration
}

func NewRedisNotifier(client *redis.Client, channel string, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "alert_notifier"),
		timeout: 5 * time.Second,
	}
}

func (n *RedisNotifier) NotifyTrip(consecutiveFailures int, openDuration time.Duration) {
	alert := TripAlert{
		AlertID:             uuid.New().String(),
		Service:             "link_generation",
		ConsecutiveFailures: consecutiveFailures,
		RetryAfterSeconds:   int(openDuration.Seconds()),
		TrippedAt:           time.Now(),
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		n.logger.Error("failed to marshal trip alert", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		n.logger.Error("failed to publish trip alert", "error", err, "channel", n.channel)
		return
	}

	n.logger.Info("trip alert published",
		"alert_id", alert.AlertID,
		"failures", consecutiveFailures,
		"channel", n.channel,
	)
}
