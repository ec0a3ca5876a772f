// Package notify delivers committed-change events to listeners outside the
// engine.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/karaqueue/karaqueue/internal/domain"
	"github.com/karaqueue/karaqueue/internal/logger"
	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "karaqueue:events"

// RedisNotifier publishes each event as a JSON message on a pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

var _ domain.Notifier = (*RedisNotifier)(nil)

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Dial connects to the redis server at url (redis://[user:pass@]host:port/db)
// and checks it answers.
func Dial(ctx context.Context, url, channel string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return NewRedisNotifier(client, channel), nil
}

func (n *RedisNotifier) Emit(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Name, err)
	}
	return nil
}

func (n *RedisNotifier) Channel() string {
	return n.channel
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// LogNotifier writes events to a logger at debug level.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Emit(ctx context.Context, ev domain.Event) error {
	n.log.Debug("Event", logger.String("event", string(ev.Name)), logger.String("payload", ev.Payload))
	return nil
}

// Multi fans an event out to every notifier. One failing notifier does not
// keep the event from the others.
type Multi []domain.Notifier

func (m Multi) Emit(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, domain.Event) error { return nil }
