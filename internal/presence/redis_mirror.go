// Package presence mirrors meeting presence into Redis so other processes
// (dashboards, a second engine node) can observe who is connected.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a snapshot outlives the last update.
const DefaultTTL = 2 * time.Minute

// Snapshot is the presence of one meeting.
type Snapshot struct {
	MeetingID string    `json:"meeting_id"`
	Users     []string  `json:"users"`
	Clients   int       `json:"clients"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedisMirror stores the latest snapshot per meeting with a TTL and publishes
// every change on a per-meeting channel.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMirror connects to Redis and creates a mirror.
func NewRedisMirror(redisURL string, ttl time.Duration) (*RedisMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisMirrorWithClient(client, ttl), nil
}

// NewRedisMirrorWithClient creates a mirror from an existing Redis client
func NewRedisMirrorWithClient(client *redis.Client, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisMirror{client: client, prefix: "meetsync:presence:", ttl: ttl}
}

// Key is the Redis key holding a meeting's snapshot.
func (m *RedisMirror) Key(meetingID string) string {
	return m.prefix + meetingID
}

// Channel is the pub/sub channel announcing a meeting's changes.
func (m *RedisMirror) Channel(meetingID string) string {
	return m.prefix + "events:" + meetingID
}

// Publish stores the snapshot and announces it.
func (m *RedisMirror) Publish(ctx context.Context, s Snapshot) error {
	if s.Users == nil {
		s.Users = []string{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, m.Key(s.MeetingID), data, m.ttl)
		pipe.Publish(ctx, m.Channel(s.MeetingID), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	return nil
}

// Clear removes a meeting's snapshot and announces an empty one.
func (m *RedisMirror) Clear(ctx context.Context, meetingID string) error {
	data, err := json.Marshal(Snapshot{MeetingID: meetingID, Users: []string{}, UpdatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, m.Key(meetingID))
		pipe.Publish(ctx, m.Channel(meetingID), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear presence: %w", err)
	}
	return nil
}

// Get returns the stored snapshot of a meeting.
func (m *RedisMirror) Get(ctx context.Context, meetingID string) (Snapshot, bool, error) {
	data, err := m.client.Get(ctx, m.Key(meetingID)).Result()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("lookup presence: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return Snapshot{}, false, fmt.Errorf("unmarshal presence: %w", err)
	}
	return s, true, nil
}

// Ping checks if Redis is reachable
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
