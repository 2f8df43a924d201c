package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/medaudit/medaudit-backend/internal/domain/analysis"
)

const popTimeout = 5 * time.Second

// Redis implements the dispatch queue as a Redis list. Jobs survive process
// restarts; a pool of workers consumes with blocking pops.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = "analysis:dispatch"
	}
	return &Redis{client: client, key: key}
}

func (q *Redis) Enqueue(ctx context.Context, job domain.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}
	return q.client.LPush(ctx, q.key, raw).Err()
}

// Dequeue blocks until a job arrives or ctx is cancelled.
func (q *Redis) Dequeue(ctx context.Context) (domain.Job, error) {
	for {
		res, err := q.client.BRPop(ctx, popTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return domain.Job{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			return domain.Job{}, err
		}
		// res[0] is the key, res[1] the payload
		var job domain.Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.Job{}, fmt.Errorf("decoding job: %w", err)
		}
		return job, nil
	}
}
