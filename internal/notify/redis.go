package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/celvios/baobab-mlm-sub002/pkg/logger"
)

// Event type tags used on the wire.
const (
	eventStageCompleted = "mlm.stage.completed"
	eventBonusEarned    = "mlm.bonus.earned"
)

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// RedisNotifier publishes events on a Redis pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	log     *logger.Logger
}

// NewRedisNotifier builds a Redis-backed notifier publishing on channel.
func NewRedisNotifier(client *redis.Client, channel string, log *logger.Logger) *RedisNotifier {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &RedisNotifier{client: client, channel: channel, log: log}
}

func (n *RedisNotifier) StageCompleted(ctx context.Context, ev StageCompletedEvent) error {
	return n.publish(ctx, eventStageCompleted, ev)
}

func (n *RedisNotifier) BonusEarned(ctx context.Context, ev BonusEarnedEvent) error {
	return n.publish(ctx, eventBonusEarned, ev)
}

func (n *RedisNotifier) publish(ctx context.Context, typ string, payload any) error {
	body, err := json.Marshal(envelope{Type: typ, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", typ, err)
	}
	if err := n.client.Publish(ctx, n.channel, body).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", typ, err)
	}
	return nil
}
