package audit

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const defaultMaxLen = 100000

// RedisSink appends lifecycle events to a redis stream. The stream is
// trimmed approximately to maxLen so an unread stream cannot grow without
// bound.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisSink(client *redis.Client, stream string) *RedisSink {
	return &RedisSink{client: client, stream: stream, maxLen: defaultMaxLen}
}

func (s *RedisSink) Emit(ctx context.Context, ev Event) error {
	values := map[string]interface{}{
		"type":         string(ev.Type),
		"session_id":   ev.SessionID,
		"project_id":   ev.ProjectID,
		"tracking_key": ev.TrackingKey,
		"at":           ev.At.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	for k, v := range ev.Fields {
		values["f:"+k] = v
	}
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return errors.WithMessagef(err, "append audit event to stream %s error", s.stream)
	}
	return nil
}
