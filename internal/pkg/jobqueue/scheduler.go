package jobqueue

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis keys
	JobQueueKey      = "paycore:job_queue"
	JobProcessingKey = "paycore:job_processing"
)

// RedisScheduler hands job ids to Manager workers through a Redis list. The
// job rows stay in the database; Redis only carries ids.
type RedisScheduler struct {
	client *redis.Client
}

func NewRedisScheduler(client *redis.Client) *RedisScheduler {
	return &RedisScheduler{client: client}
}

// Schedule pushes the id onto the pending list.
func (s *RedisScheduler) Schedule(ctx context.Context, jobID string) error {
	return s.client.LPush(ctx, JobQueueKey, jobID).Err()
}

// dequeue moves the next id to the processing list atomically. It returns
// redis.Nil when the timeout passes without work.
func (s *RedisScheduler) dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	return s.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, timeout).Result()
}

func (s *RedisScheduler) ack(ctx context.Context, jobID string) {
	if err := s.client.LRem(ctx, JobProcessingKey, 1, jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing queue: %v", jobID, err)
	}
}

// recoverProcessing moves ids left in the processing list by a crashed worker
// back to the pending list. Jobs that already finished are skipped by Process.
func (s *RedisScheduler) recoverProcessing(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := s.client.RPopLPush(ctx, JobProcessingKey, JobQueueKey).Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

// QueueSize returns the number of scheduled jobs
func (s *RedisScheduler) QueueSize(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, JobQueueKey).Result()
}

// ProcessingSize returns the number of jobs being processed
func (s *RedisScheduler) ProcessingSize(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, JobProcessingKey).Result()
}
