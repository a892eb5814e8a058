package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"studentforge-backend/internal/models"
)

// QueueName maps a job type to its Redis list.
func QueueName(jobType string) string {
	return "queue:" + jobType
}

// JobQueue hands jobs to the worker pool.
type JobQueue interface {
	Push(ctx context.Context, job *models.Job) error
}

type RedisJobQueue struct {
	redis *redis.Client
}

func NewRedisJobQueue(client *redis.Client) *RedisJobQueue {
	return &RedisJobQueue{redis: client}
}

func (q *RedisJobQueue) Push(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.redis.LPush(ctx, QueueName(job.Type), data).Err()
}

// MemoryJobQueue collects pushed jobs.
type MemoryJobQueue struct {
	mu   sync.Mutex
	Jobs []*models.Job
	Err  error
}

func (q *MemoryJobQueue) Push(_ context.Context, job *models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	q.Jobs = append(q.Jobs, job)
	return nil
}

func (q *MemoryJobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.Jobs)
}
