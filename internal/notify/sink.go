// Package notify delivers user-facing messages about authentication events.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Kind names the event being announced.
type Kind string

const (
	KindWelcome     Kind = "welcome"
	KindWelcomeBack Kind = "welcome_back"
	KindLoggedOut   Kind = "logged_out"
)

// Message is a single notification.
type Message struct {
	Kind   Kind      `json:"kind"`
	UserID string    `json:"user_id,omitempty"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Sink accepts notifications. Delivery is fire-and-forget.
type Sink interface {
	Notify(ctx context.Context, m Message)
}

// Text returns the default message body for a kind.
func Text(kind Kind, name string) string {
	switch kind {
	case KindWelcome:
		if name != "" {
			return "Welcome, " + name + "!"
		}
		return "Welcome!"
	case KindWelcomeBack:
		if name != "" {
			return "Welcome back, " + name + "!"
		}
		return "Welcome back!"
	case KindLoggedOut:
		return "You have been logged out."
	}
	return ""
}

// LogSink writes notifications to the log.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Notify(_ context.Context, m Message) {
	s.log.Info("notification",
		zap.String("kind", string(m.Kind)),
		zap.String("user_id", m.UserID),
		zap.String("text", m.Text),
	)
}

// RedisSink publishes notifications as JSON on a pub/sub channel.
type RedisSink struct {
	rdb     redis.Cmdable
	channel string
	log     *zap.Logger
	timeout time.Duration
}

const DefaultChannel = "quickauth:notifications"

func NewRedisSink(rdb redis.Cmdable, channel string, log *zap.Logger) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisSink{rdb: rdb, channel: channel, log: log, timeout: 2 * time.Second}
}

// Notify publishes in the background. Failures are logged and dropped.
func (s *RedisSink) Notify(_ context.Context, m Message) {
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	payload, err := json.Marshal(m)
	if err != nil {
		s.log.Warn("notification encode failed", zap.Error(err))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
			s.log.Warn("notification publish failed",
				zap.String("channel", s.channel),
				zap.String("kind", string(m.Kind)),
				zap.Error(err),
			)
		}
	}()
}

// Multi fans a notification out to several sinks.
type Multi []Sink

func (ms Multi) Notify(ctx context.Context, m Message) {
	for _, s := range ms {
		s.Notify(ctx, m)
	}
}
