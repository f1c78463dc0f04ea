package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Sink accepts consensus payloads for fan-out.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// DefaultChannelPrefix prefixes the per-room Redis channel.
const DefaultChannelPrefix = "swipematch:room:"

// RedisClient is the part of *redis.Client the RedisSink uses.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisSink publishes each payload on the room's channel and keeps a copy
// under "<channel>:consensus" until the event expires, so clients that
// subscribe late can still read the result.
type RedisSink struct {
	client RedisClient
	prefix string
	now    func() time.Time
}

// NewRedisSink creates a sink. An empty prefix uses DefaultChannelPrefix.
func NewRedisSink(client RedisClient, prefix string) *RedisSink {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisSink{client: client, prefix: prefix, now: time.Now}
}

// Channel returns the channel for a room.
func (s *RedisSink) Channel(roomID string) string {
	return s.prefix + roomID
}

// Send publishes msg and stores the snapshot key.
func (s *RedisSink) Send(ctx context.Context, msg Message) error {
	channel := s.Channel(msg.RoomID)
	if err := s.client.Publish(ctx, channel, msg.Payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}

	ttl := msg.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, channel+":consensus", msg.Payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s:consensus: %w", channel, err)
	}
	return nil
}

// DialRedis connects to addr and pings it.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// LogSink writes payloads to a logger. It never fails.
type LogSink struct {
	Logger *slog.Logger
}

// Send logs msg at info level.
func (s LogSink) Send(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("consensus reached",
		"event_id", msg.EventID,
		"room_id", msg.RoomID,
		"payload", string(msg.Payload),
	)
	return nil
}

// ErrSinkUnavailable is returned by a MemorySink told to fail.
var ErrSinkUnavailable = errors.New("sink unavailable")

// MemorySink keeps every accepted message. Tests use FailNext to simulate an
// outage.
type MemorySink struct {
	mu       sync.Mutex
	messages []Message
	failures int
}

// Send records msg, or fails if failures are pending.
func (s *MemorySink) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return ErrSinkUnavailable
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	s.messages = append(s.messages, msg)
	return nil
}

// FailNext makes the next n sends fail.
func (s *MemorySink) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// Messages returns a copy of everything accepted so far.
func (s *MemorySink) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}
