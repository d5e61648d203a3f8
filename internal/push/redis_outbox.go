package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"plantcare-engine/internal/retry"
)

// RedisOutbox is a Dispatcher that writes notifications to a Redis outbox for
// an external delivery worker: a sorted set of ids scored by fire time in
// unix milliseconds and a hash of payloads.
type RedisOutbox struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisOutbox creates an outbox dispatcher
func NewRedisOutbox(client *redis.Client, prefix string) *RedisOutbox {
	return &RedisOutbox{client: client, prefix: prefix, now: time.Now}
}

func (o *RedisOutbox) scheduleKey() string { return o.prefix + "outbox:schedule" }
func (o *RedisOutbox) payloadKey() string  { return o.prefix + "outbox:payload" }

// Schedule implements Dispatcher
func (o *RedisOutbox) Schedule(ctx context.Context, n Notification, fireIn time.Duration) (string, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return "", PermanentError(fmt.Errorf("failed to marshal notification: %w", err))
	}
	fireAt := o.now().Add(fireIn).UnixMilli()

	_, err = o.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, o.payloadKey(), n.ID, payload)
		pipe.ZAdd(ctx, o.scheduleKey(), redis.Z{Score: float64(fireAt), Member: n.ID})
		return nil
	})
	if err != nil {
		return "", classifyRedisError(fmt.Errorf("failed to write outbox entry: %w", err))
	}
	return n.ID, nil
}

// classifyRedisError marks connection failures and busy servers as temporary
// and type errors on the outbox keys as permanent
func classifyRedisError(err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr), errors.Is(err, io.EOF),
		redis.HasErrorPrefix(err, "LOADING"), redis.HasErrorPrefix(err, "TRYAGAIN"), redis.HasErrorPrefix(err, "BUSY"):
		return &retry.TemporaryError{Err: err}
	case redis.HasErrorPrefix(err, "WRONGTYPE"):
		return retry.Permanent(err)
	}
	return err
}

// Cancel implements Dispatcher
func (o *RedisOutbox) Cancel(ctx context.Context, notificationID string) error {
	_, err := o.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, o.scheduleKey(), notificationID)
		pipe.HDel(ctx, o.payloadKey(), notificationID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove outbox entry: %w", err)
	}
	return nil
}

// Due returns notifications whose fire time has passed, oldest first
func (o *RedisOutbox) Due(ctx context.Context, limit int64) ([]Notification, error) {
	ids, err := o.client.ZRangeByScore(ctx, o.scheduleKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(o.now().UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox schedule: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	payloads, err := o.client.HMGet(ctx, o.payloadKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox payloads: %w", err)
	}
	out := make([]Notification, 0, len(payloads))
	for _, p := range payloads {
		s, ok := p.(string)
		if !ok {
			continue
		}
		var n Notification
		if err := json.Unmarshal([]byte(s), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
