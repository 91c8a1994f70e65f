package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
	"github.com/atvirokodosprendimai/timeline/internal/logging"
)

const DefaultRedisKey = "timeline:messages"

// RedisQueue keeps messages in a Redis list: producers RPUSH, the single
// consumer BLPOPs, so FIFO order holds across processes.
type RedisQueue struct {
	client      *redis.Client
	key         string
	pollTimeout time.Duration
	logger      *slog.Logger
	closed      atomic.Bool
}

// NewRedisQueue does not take ownership of client; callers close it after
// the consumer has drained.
func NewRedisQueue(client *redis.Client, key string, logger *slog.Logger) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{client: client, key: key, pollTimeout: 2 * time.Second, logger: logging.OrDefault(logger)}
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg domain.TimelineMessage) error {
	if q.closed.Load() {
		return domain.ErrQueueClosed
	}
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

// Dequeue waits for the next message. After Close it drains the list without
// blocking and then reports domain.ErrQueueClosed.
func (q *RedisQueue) Dequeue(ctx context.Context) (domain.TimelineMessage, error) {
	for {
		if q.closed.Load() {
			raw, err := q.client.LPop(ctx, q.key).Bytes()
			if errors.Is(err, redis.Nil) {
				return domain.TimelineMessage{}, domain.ErrQueueClosed
			}
			if err != nil {
				return domain.TimelineMessage{}, fmt.Errorf("redis lpop: %w", err)
			}
			return q.decode(raw)
		}

		res, err := q.client.BLPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return domain.TimelineMessage{}, ctx.Err()
			}
			return domain.TimelineMessage{}, fmt.Errorf("redis blpop: %w", err)
		}
		if len(res) != 2 {
			return domain.TimelineMessage{}, fmt.Errorf("redis blpop: unexpected reply of %d elements", len(res))
		}
		return q.decode([]byte(res[1]))
	}
}

func (q *RedisQueue) decode(raw []byte) (domain.TimelineMessage, error) {
	msg, err := DecodeMessage(raw)
	if err != nil {
		q.logger.Error("dropping undecodable queued message", "key", q.key, "error", err)
		return domain.TimelineMessage{}, err
	}
	return msg, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}
