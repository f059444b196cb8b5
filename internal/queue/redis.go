package queue

import (
	"context"
	"errors"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// RedisQueue is the production transport: LPUSH on enqueue, BRPOP on dequeue.
// Multiple workers may consume the same list; Redis hands each job to exactly
// one of them.
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(addr, password string, db int, key string, logger *slog.Logger) (*RedisQueue, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	if key == "" {
		key = "gantry:schedule:jobs"
	}
	return &RedisQueue{client: client, key: key, logger: logger}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		q.logger.Error("queue enqueue failed", "key", q.key, "job_id", job.JobID, "error", err)
		return err
	}
	return nil
}

// Dequeue blocks in short BRPOP rounds so context cancellation is honored
// within a couple of seconds.
func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		res, err := q.client.BRPop(ctx, 2*time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			q.logger.Error("queue dequeue failed", "key", q.key, "error", err)
			return Job{}, err
		}
		// BRPOP returns [key, value].
		if len(res) != 2 {
			continue
		}
		job, err := decodeJob([]byte(res[1]))
		if err != nil {
			q.logger.Warn("discarding malformed queue payload", "key", q.key, "error", err)
			continue
		}
		return job, nil
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
