package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Audience names who a message is for: "admin", "match:<id>" or "player:<id>".
type Audience string

const AdminAudience Audience = "admin"

func Match(id string) Audience  { return Audience("match:" + id) }
func Player(id string) Audience { return Audience("player:" + id) }

func ParseAudience(s string) (Audience, bool) {
	switch {
	case s == string(AdminAudience):
		return AdminAudience, true
	case strings.HasPrefix(s, "match:") && len(s) > len("match:"):
		return Audience(s), true
	case strings.HasPrefix(s, "player:") && len(s) > len("player:"):
		return Audience(s), true
	}
	return "", false
}

type Message struct {
	Audience Audience  `json:"audience"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// Notifier delivers best-effort messages. Callers log failures; nothing retries.
type Notifier interface {
	Notify(ctx context.Context, audience Audience, text string) error
}

type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, audience Audience, text string) error {
	n.log.Info("notify", zap.String("audience", string(audience)), zap.String("text", text))
	return nil
}

// RedisNotifier publishes each message as JSON on channel <prefix><audience>.
type RedisNotifier struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisNotifier(client *redis.Client, prefix string) *RedisNotifier {
	return &RedisNotifier{client: client, prefix: prefix, now: time.Now}
}

func (n *RedisNotifier) Channel(audience Audience) string {
	return n.prefix + string(audience)
}

func (n *RedisNotifier) Notify(ctx context.Context, audience Audience, text string) error {
	payload, err := json.Marshal(Message{Audience: audience, Text: text, At: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.client.Publish(ctx, n.Channel(audience), payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", audience, err)
	}
	return nil
}

// Fanout delivers to every notifier and reports all failures together.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, audience Audience, text string) error {
	var errs error
	for _, n := range f {
		errs = multierr.Append(errs, n.Notify(ctx, audience, text))
	}
	return errs
}
