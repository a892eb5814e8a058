package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"studentforge-backend/internal/gamification"
	"studentforge-backend/internal/models"
)

const (
	leaderboardKey          = "leaderboard:xp"
	defaultLeaderboardLimit = 20
	maxLeaderboardLimit     = 100
)

type leaderboardProfiles interface {
	TopByXP(ctx context.Context, limit int) ([]*models.Profile, error)
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Profile, error)
}

// LeaderboardService ranks users by XP in a Redis sorted set. Postgres is
// the source of truth; the set is rebuilt from it when empty.
type LeaderboardService struct {
	redis    redis.Cmdable
	profiles leaderboardProfiles
}

func NewLeaderboardService(client redis.Cmdable, profiles leaderboardProfiles) *LeaderboardService {
	return &LeaderboardService{redis: client, profiles: profiles}
}

// Record stores the user's absolute XP, so replays are harmless. XP never
// shrinks, so the score only moves up even when awards land out of order.
func (s *LeaderboardService) Record(ctx context.Context, userID uuid.UUID, xp int) {
	err := s.redis.ZAddGT(ctx, leaderboardKey, redis.Z{Score: float64(xp), Member: userID.String()}).Err()
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("leaderboard update failed")
	}
}

func ClampLeaderboardLimit(limit int) int {
	if limit <= 0 {
		return defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		return maxLeaderboardLimit
	}
	return limit
}

func (s *LeaderboardService) Top(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	limit = ClampLeaderboardLimit(limit)

	zs, err := s.redis.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(limit-1)).Result()
	if err != nil {
		log.Warn().Err(err).Msg("leaderboard read from redis failed, using database")
		return s.fromDatabase(ctx, limit)
	}
	if len(zs) == 0 {
		if _, err := s.Rebuild(ctx); err != nil {
			log.Warn().Err(err).Msg("leaderboard rebuild failed")
		}
		return s.fromDatabase(ctx, limit)
	}

	ids := make([]uuid.UUID, 0, len(zs))
	scores := make([]int, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		id, err := uuid.Parse(member)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		scores = append(scores, int(z.Score))
	}

	profiles, err := s.profiles.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard profiles: %w", err)
	}

	entries := make([]models.LeaderboardEntry, 0, len(ids))
	for i, id := range ids {
		xp := scores[i]
		e := models.LeaderboardEntry{Rank: i + 1, UserID: id, XP: xp, Level: gamification.LevelForXP(xp)}
		if p, ok := profiles[id]; ok {
			e.DisplayName = p.DisplayName
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *LeaderboardService) fromDatabase(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	profiles, err := s.profiles.TopByXP(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}
	entries := make([]models.LeaderboardEntry, 0, len(profiles))
	for i, p := range profiles {
		entries = append(entries, models.LeaderboardEntry{
			Rank:        i + 1,
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			XP:          p.XP,
			Level:       gamification.LevelForXP(p.XP),
		})
	}
	return entries, nil
}

// Rebuild replaces the sorted set with the top profiles from Postgres.
func (s *LeaderboardService) Rebuild(ctx context.Context) (int, error) {
	profiles, err := s.profiles.TopByXP(ctx, 1000)
	if err != nil {
		return 0, err
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, leaderboardKey)
	for _, p := range profiles {
		pipe.ZAdd(ctx, leaderboardKey, redis.Z{Score: float64(p.XP), Member: p.UserID.String()})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(profiles), nil
}
