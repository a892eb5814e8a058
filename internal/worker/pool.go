package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"studentforge-backend/internal/metrics"
	"studentforge-backend/internal/models"
	"studentforge-backend/internal/services"
)

const (
	maxAttempts = 3
	lockTTL     = 10 * time.Minute
	popTimeout  = 5 * time.Second
)

type documentProcessor interface {
	Process(ctx context.Context, job *models.Job) error
	MarkFailed(ctx context.Context, documentID uuid.UUID, reason string) error
}

type quizProcessor interface {
	ProcessGeneration(ctx context.Context, job *models.Job) error
	MarkFailed(ctx context.Context, quizID uuid.UUID) error
}

type rewardReplayer interface {
	Replay(ctx context.Context, t models.RewardSyncTask) error
}

type jobStatusStore interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error
}

type Pool struct {
	redis     *redis.Client
	documents documentProcessor
	quizzes   quizProcessor
	rewards   rewardReplayer
	jobs      jobStatusStore
	queue     services.JobQueue
	publisher services.Publisher

	workerCount int
	stopChan    chan struct{}
	wg          sync.WaitGroup

	// after schedules a retry; tests replace it to run synchronously.
	after func(d time.Duration, f func())
}

// NewPool wires the job handlers. quizzes may be nil when quiz generation
// is disabled; such jobs then fail permanently.
func NewPool(
	redisClient *redis.Client,
	documents documentProcessor,
	quizzes quizProcessor,
	rewards rewardReplayer,
	jobs jobStatusStore,
	queue services.JobQueue,
	publisher services.Publisher,
	workerCount int,
) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{
		redis:       redisClient,
		documents:   documents,
		quizzes:     quizzes,
		rewards:     rewards,
		jobs:        jobs,
		queue:       queue,
		publisher:   publisher,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

func queues() []string {
	return []string{
		services.QueueName(models.JobDocumentProcessing),
		services.QueueName(models.JobQuizGeneration),
		services.QueueName(models.JobRewardSync),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Info().Int("workers", p.workerCount).Msg("worker pool started")
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	qs := queues()

	for {
		select {
		case <-p.stopChan:
			log.Debug().Int("worker", id).Msg("worker shutting down")
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BLPop(ctx, popTimeout, qs...).Result()
		if err != nil {
			if err != redis.Nil {
				log.Warn().Err(err).Int("worker", id).Msg("queue pop failed")
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job models.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Error().Err(err).Int("worker", id).Str("queue", result[0]).Msg("failed to parse job")
			continue
		}

		lockKey := fmt.Sprintf("job_lock:%s:%d", job.ID, job.RetryCount)
		locked, err := p.redis.SetNX(ctx, lockKey, "1", lockTTL).Result()
		if err != nil || !locked {
			continue
		}

		p.Handle(ctx, &job)

		p.redis.Del(ctx, lockKey)
	}
}

// Handle runs one job and records its outcome.
func (p *Pool) Handle(ctx context.Context, job *models.Job) {
	logger := log.With().
		Str("job_id", job.ID.String()).
		Str("type", job.Type).
		Int("attempt", job.RetryCount+1).
		Logger()
	logger.Debug().Msg("processing job")

	if tracked(job) {
		p.jobs.UpdateStatus(ctx, job.ID, "processing")
	}

	err := p.process(ctx, job)
	if err != nil {
		p.handleFailure(ctx, job, err)
		return
	}
	p.handleSuccess(ctx, job)
}

func (p *Pool) process(ctx context.Context, job *models.Job) error {
	switch job.Type {
	case models.JobDocumentProcessing:
		return p.documents.Process(ctx, job)
	case models.JobQuizGeneration:
		if p.quizzes == nil {
			return fmt.Errorf("quiz generation is disabled")
		}
		return p.quizzes.ProcessGeneration(ctx, job)
	case models.JobRewardSync:
		var task models.RewardSyncTask
		if err := json.Unmarshal(job.ConfigJSON, &task); err != nil {
			return fmt.Errorf("decode reward task: %w", err)
		}
		task.Attempt = job.RetryCount + 1
		return p.rewards.Replay(ctx, task)
	}
	return fmt.Errorf("unknown job type: %s", job.Type)
}

// tracked reports whether the job has a row in the jobs table. Reward
// retries live only in Redis.
func tracked(job *models.Job) bool {
	return job.Type != models.JobRewardSync
}

func (p *Pool) handleSuccess(ctx context.Context, job *models.Job) {
	metrics.WorkerJobs.WithLabelValues(job.Type, "completed").Inc()
	log.Info().Str("job_id", job.ID.String()).Str("type", job.Type).Msg("job completed")

	if !tracked(job) {
		return
	}
	p.jobs.UpdateStatus(ctx, job.ID, "completed")
	p.publisher.Publish(ctx, job.UserID, models.WSMessage{
		Type: "completed",
		Payload: models.CompletedEvent{
			JobID:      job.ID,
			ResultID:   job.ReferenceID,
			ResultType: resultType(job.Type),
		},
	})
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, err error) {
	job.RetryCount++
	errMsg := err.Error()

	if job.RetryCount < maxAttempts {
		metrics.WorkerJobs.WithLabelValues(job.Type, "retried").Inc()
		backoff := time.Duration(1<<uint(job.RetryCount)) * time.Second
		log.Warn().Err(err).
			Str("job_id", job.ID.String()).
			Str("type", job.Type).
			Int("attempt", job.RetryCount).
			Dur("backoff", backoff).
			Msg("job failed, retrying")

		if tracked(job) {
			p.jobs.UpdateStatus(ctx, job.ID, "pending")
			p.jobs.UpdateError(ctx, job.ID, errMsg, job.RetryCount)
		}

		retry := *job
		p.after(backoff, func() {
			if err := p.queue.Push(context.Background(), &retry); err != nil {
				log.Error().Err(err).Str("job_id", retry.ID.String()).Msg("failed to requeue job")
			}
		})
		return
	}

	metrics.WorkerJobs.WithLabelValues(job.Type, "failed").Inc()
	log.Error().Err(err).
		Str("job_id", job.ID.String()).
		Str("type", job.Type).
		Str("user_id", job.UserID.String()).
		Msg("job failed permanently")

	switch job.Type {
	case models.JobDocumentProcessing:
		if err := p.documents.MarkFailed(ctx, job.ReferenceID, errMsg); err != nil {
			log.Error().Err(err).Str("document_id", job.ReferenceID.String()).Msg("failed to mark document failed")
		}
	case models.JobQuizGeneration:
		if p.quizzes != nil {
			if err := p.quizzes.MarkFailed(ctx, job.ReferenceID); err != nil {
				log.Error().Err(err).Str("quiz_id", job.ReferenceID.String()).Msg("failed to mark quiz failed")
			}
		}
	case models.JobRewardSync:
		// Logged and counted above; there is no user-facing job to fail.
		return
	}

	p.jobs.UpdateStatus(ctx, job.ID, "failed")
	p.jobs.UpdateError(ctx, job.ID, errMsg, job.RetryCount)

	p.publisher.Publish(ctx, job.UserID, models.WSMessage{
		Type: "error",
		Payload: models.ErrorEvent{
			JobID:        job.ID,
			ErrorCode:    "JOB_FAILED",
			ErrorMessage: errMsg,
		},
	})
}

func resultType(jobType string) string {
	switch jobType {
	case models.JobQuizGeneration:
		return "quiz"
	default:
		return "document"
	}
}
