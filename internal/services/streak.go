package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	streakLookback     = 400 * 24 * time.Hour
	streakPollInterval = 1 * time.Hour
)

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ComputeStreak counts consecutive UTC days with activity ending today, or
// ending yesterday when there is nothing yet today.
func ComputeStreak(days []time.Time, now time.Time) int {
	active := make(map[time.Time]bool, len(days))
	for _, d := range days {
		active[truncateDay(d)] = true
	}

	day := truncateDay(now)
	if !active[day] {
		day = day.AddDate(0, 0, -1)
	}

	streak := 0
	for active[day] {
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak
}

type StreakService struct {
	profiles ProfileStore
	history  HistoryStore
	now      func() time.Time
}

func NewStreakService(profiles ProfileStore, history HistoryStore) *StreakService {
	return &StreakService{profiles: profiles, history: history, now: time.Now}
}

// Refresh recomputes and stores the user's streak from study history,
// counting today as active.
func (s *StreakService) Refresh(ctx context.Context, userID uuid.UUID) (int, error) {
	now := s.now().UTC()
	days, err := s.history.ActiveDays(ctx, userID, now.Add(-streakLookback))
	if err != nil {
		return 0, err
	}
	days = append(days, now)

	streak := ComputeStreak(days, now)
	if err := s.profiles.UpdateStreak(ctx, userID, streak, truncateDay(now)); err != nil {
		return streak, err
	}
	return streak, nil
}

type staleStreakResetter interface {
	ResetStaleStreaks(ctx context.Context, cutoff time.Time) (int64, error)
}

// StreakScheduler zeroes the streak of users who skipped a whole day.
type StreakScheduler struct {
	profiles staleStreakResetter
	stopChan chan struct{}
}

func NewStreakScheduler(profiles staleStreakResetter) *StreakScheduler {
	return &StreakScheduler{
		profiles: profiles,
		stopChan: make(chan struct{}),
	}
}

func (s *StreakScheduler) Start() {
	if s.profiles == nil {
		return
	}
	go s.loop()
	log.Info().Msg("streak scheduler started")
}

func (s *StreakScheduler) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
		close(s.stopChan)
	}
}

func (s *StreakScheduler) loop() {
	s.resetStale(context.Background(), time.Now().UTC())

	ticker := time.NewTicker(streakPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.resetStale(context.Background(), time.Now().UTC())
		}
	}
}

func (s *StreakScheduler) resetStale(ctx context.Context, now time.Time) {
	n, err := s.profiles.ResetStaleStreaks(ctx, staleStreakCutoff(now))
	if err != nil {
		log.Error().Err(err).Msg("streak reset failed")
		return
	}
	if n > 0 {
		log.Info().Int64("profiles", n).Msg("reset stale streaks")
	}
}

// staleStreakCutoff is the start of yesterday: a user last active before
// that has broken their streak.
func staleStreakCutoff(now time.Time) time.Time {
	return truncateDay(now).AddDate(0, 0, -1)
}
