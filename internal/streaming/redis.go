package streaming

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSink mirrors progress events into a per-task Redis Stream so
// observers outside the worker process can follow a research run. Streams
// are capped so abandoned tasks do not grow without bound.
type RedisSink struct {
	client    *redis.Client
	keyPrefix string
	maxLen    int64
	logger    *zap.Logger
}

// NewRedisSink creates a sink writing to streams named
// "<prefix>:<task_id>".
func NewRedisSink(client *redis.Client, keyPrefix string, maxLen int64, logger *zap.Logger) *RedisSink {
	if keyPrefix == "" {
		keyPrefix = "fathom:events"
	}
	if maxLen <= 0 {
		maxLen = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{client: client, keyPrefix: keyPrefix, maxLen: maxLen, logger: logger}
}

func (s *RedisSink) streamKey(taskID string) string {
	return fmt.Sprintf("%s:%s", s.keyPrefix, taskID)
}

// Publish appends the event to the task's stream.
func (s *RedisSink) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamKey(evt.TaskID),
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":  evt.Type,
			"seq":   evt.Seq,
			"event": string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.streamKey(evt.TaskID), err)
	}
	return nil
}

// Replay reads back all events recorded for a task, oldest first.
func (s *RedisSink) Replay(ctx context.Context, taskID string) ([]Event, error) {
	msgs, err := s.client.XRange(ctx, s.streamKey(taskID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", s.streamKey(taskID), err)
	}
	events := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["event"].(string)
		if !ok {
			s.logger.Warn("skipping malformed stream entry",
				zap.String("task_id", taskID),
				zap.String("entry_id", msg.ID),
			)
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			s.logger.Warn("skipping undecodable stream entry",
				zap.String("task_id", taskID),
				zap.String("entry_id", msg.ID),
				zap.Error(err),
			)
			continue
		}
		events = append(events, evt)
	}
	return events, nil
}
