package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"studentforge-backend/internal/gamification"
	"studentforge-backend/internal/metrics"
	"studentforge-backend/internal/models"
)

// Persistence steps of a reward.
const (
	StepProgress = "progress"
	StepXP       = "xp"
	StepBadges   = "badges"
	StepHistory  = "history"
)

type ProgressStore interface {
	Get(ctx context.Context, userID, documentID uuid.UUID) (*models.ReadingProgress, error)
	Upsert(ctx context.Context, p *models.ReadingProgress) error
}

type ProfileStore interface {
	Ensure(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	AwardXP(ctx context.Context, userID uuid.UUID, eventID string, amount int, reason string, levelFor func(int) int) (models.XPAward, error)
	AppendBadges(ctx context.Context, userID uuid.UUID, badges []string) ([]string, error)
	UpdateStreak(ctx context.Context, userID uuid.UUID, streak int, day time.Time) error
}

type HistoryStore interface {
	Insert(ctx context.Context, e *models.StudyHistoryEntry) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.StudyHistoryEntry, error)
	ActiveDays(ctx context.Context, userID uuid.UUID, since time.Time) ([]time.Time, error)
}

// LeaderboardSink receives a user's XP total after every successful award.
type LeaderboardSink interface {
	Record(ctx context.Context, userID uuid.UUID, xp int)
}

// RewardDelta is everything one rewarded action wants persisted. Zero-valued
// parts are skipped.
type RewardDelta struct {
	UserID   uuid.UUID
	EventID  string
	XP       int
	Reason   string
	Progress *models.ReadingProgress
	Badges   []string
	History  *models.StudyHistoryEntry
}

type ApplyResult struct {
	Award       models.XPAward
	XPApplied   bool
	Badges      []string
	SyncPending bool
	FailedSteps []string
}

// RewardApplier persists reward deltas as independent idempotent writes.
// A failed step never blocks the others; it is queued for the worker pool
// to replay.
type RewardApplier struct {
	progress    ProgressStore
	profiles    ProfileStore
	history     HistoryStore
	queue       JobQueue
	leaderboard LeaderboardSink
}

func NewRewardApplier(progress ProgressStore, profiles ProfileStore, history HistoryStore, queue JobQueue, leaderboard LeaderboardSink) *RewardApplier {
	return &RewardApplier{
		progress:    progress,
		profiles:    profiles,
		history:     history,
		queue:       queue,
		leaderboard: leaderboard,
	}
}

func (a *RewardApplier) Apply(ctx context.Context, d RewardDelta) ApplyResult {
	var res ApplyResult

	if d.Progress != nil {
		task := models.RewardSyncTask{Step: StepProgress, UserID: d.UserID, EventID: d.EventID, Progress: d.Progress}
		if err := a.Replay(ctx, task); err != nil {
			a.queueRetry(ctx, &res, task, err)
		}
	}

	if d.XP > 0 {
		task := models.RewardSyncTask{Step: StepXP, UserID: d.UserID, EventID: d.EventID, Amount: d.XP, Reason: d.Reason}
		award, err := a.awardXP(ctx, task)
		if err != nil {
			a.queueRetry(ctx, &res, task, err)
		} else {
			res.Award = award
			res.XPApplied = true
		}
	}

	if len(d.Badges) > 0 {
		task := models.RewardSyncTask{Step: StepBadges, UserID: d.UserID, EventID: d.EventID, Badges: d.Badges}
		badges, err := a.profiles.AppendBadges(ctx, d.UserID, d.Badges)
		if err != nil {
			a.queueRetry(ctx, &res, task, err)
		} else {
			res.Badges = badges
			for _, id := range d.Badges {
				metrics.BadgesUnlocked.WithLabelValues(id).Inc()
			}
		}
	}

	if d.History != nil {
		task := models.RewardSyncTask{Step: StepHistory, UserID: d.UserID, EventID: d.EventID, History: d.History}
		if err := a.Replay(ctx, task); err != nil {
			a.queueRetry(ctx, &res, task, err)
		}
	}

	return res
}

// Replay runs a single persistence step. Every step is idempotent, so the
// worker can call it again after a partial failure.
func (a *RewardApplier) Replay(ctx context.Context, t models.RewardSyncTask) error {
	switch t.Step {
	case StepProgress:
		if t.Progress == nil {
			return fmt.Errorf("progress step without payload")
		}
		return a.progress.Upsert(ctx, t.Progress)
	case StepXP:
		_, err := a.awardXP(ctx, t)
		return err
	case StepBadges:
		_, err := a.profiles.AppendBadges(ctx, t.UserID, t.Badges)
		return err
	case StepHistory:
		if t.History == nil {
			return fmt.Errorf("history step without payload")
		}
		return a.history.Insert(ctx, t.History)
	}
	return fmt.Errorf("unknown reward step %q", t.Step)
}

func (a *RewardApplier) awardXP(ctx context.Context, t models.RewardSyncTask) (models.XPAward, error) {
	award, err := a.profiles.AwardXP(ctx, t.UserID, t.EventID, t.Amount, t.Reason, gamification.LevelForXP)
	if err != nil {
		return award, err
	}
	if award.Applied {
		metrics.XPAwarded.WithLabelValues(t.Reason).Add(float64(t.Amount))
	}
	if a.leaderboard != nil {
		a.leaderboard.Record(ctx, t.UserID, award.XP)
	}
	return award, nil
}

func (a *RewardApplier) queueRetry(ctx context.Context, res *ApplyResult, t models.RewardSyncTask, cause error) {
	res.SyncPending = true
	res.FailedSteps = append(res.FailedSteps, t.Step)
	metrics.RewardPersistFailures.WithLabelValues(t.Step).Inc()

	log.Warn().Err(cause).
		Str("step", t.Step).
		Str("user_id", t.UserID.String()).
		Str("event_id", t.EventID).
		Msg("reward persistence failed, queueing retry")

	if err := a.enqueue(ctx, t); err != nil {
		log.Error().Err(err).Str("step", t.Step).Str("event_id", t.EventID).Msg("reward retry could not be queued")
	}
}

func (a *RewardApplier) enqueue(ctx context.Context, t models.RewardSyncTask) error {
	if a.queue == nil {
		return fmt.Errorf("no retry queue configured")
	}
	t.EnqueuedAt = time.Now().UTC()
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return a.queue.Push(ctx, &models.Job{
		ID:          uuid.New(),
		UserID:      t.UserID,
		Type:        models.JobRewardSync,
		ReferenceID: t.UserID,
		ConfigJSON:  payload,
		Status:      "pending",
		MaxRetries:  3,
		CreatedAt:   t.EnqueuedAt,
	})
}
