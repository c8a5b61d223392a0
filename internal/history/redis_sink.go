package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const actionQueueKey = "geoduel:game_actions"

// actionRecord is the queue payload consumed by the historian service.
type actionRecord struct {
	SessionID string      `json:"sessionId"`
	Index     int         `json:"index"`
	Agent     string      `json:"agent"`
	Kind      Kind        `json:"kind"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// RedisSink pushes records onto a Redis list for out-of-process
// consumption. Appends use a short timeout so a slow or absent Redis
// never holds up the game.
type RedisSink struct {
	rdb       *redis.Client
	sessionID string
}

// NewRedisSink connects to the given address.
func NewRedisSink(addr, sessionID string) *RedisSink {
	return &RedisSink{
		rdb:       redis.NewClient(&redis.Options{Addr: addr}),
		sessionID: sessionID,
	}
}

func (rs *RedisSink) Append(e Entry, index int) error {
	rec := actionRecord{
		SessionID: rs.sessionID,
		Index:     index,
		Agent:     e.Agent,
		Kind:      e.Kind,
		Type:      e.Type,
		Payload:   e.Payload,
		Timestamp: e.Timestamp.UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rs.rdb.RPush(ctx, actionQueueKey, data).Err(); err != nil {
		return fmt.Errorf("history: redis rpush: %w", err)
	}
	return nil
}

func (rs *RedisSink) FlushFinal(s Summary, _ []Entry) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return rs.rdb.Set(ctx, "geoduel:summary:"+rs.sessionID, data, 0).Err()
}

func (rs *RedisSink) Close() error { return rs.rdb.Close() }
