package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"studentforge-backend/internal/models"
)

type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

const profileColumns = `user_id, display_name, xp, level, badges, streak_days, last_active_on, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (*models.Profile, error) {
	p := &models.Profile{}
	err := row.Scan(&p.UserID, &p.DisplayName, &p.XP, &p.Level, &p.Badges, &p.StreakDays, &p.LastActiveOn, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.Badges == nil {
		p.Badges = []string{}
	}
	return p, nil
}

// Ensure returns the profile, creating it with defaults on first access.
func (r *ProfileRepo) Ensure(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	_, err := r.pool.Exec(ctx,
		"INSERT INTO profiles (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, userID)
}

func (r *ProfileRepo) Get(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID))
}

// AwardXP adds amount to the profile exactly once per eventID. The level is
// only ever raised, to levelFor(new xp). A replayed eventID leaves the
// profile untouched and reports Applied=false.
func (r *ProfileRepo) AwardXP(ctx context.Context, userID uuid.UUID, eventID string, amount int, reason string, levelFor func(int) int) (models.XPAward, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.XPAward{}, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "INSERT INTO profiles (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID)
	if err != nil {
		return models.XPAward{}, err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO reward_events (id, user_id, amount, reason) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		eventID, userID, amount, reason,
	)
	if err != nil {
		return models.XPAward{}, err
	}

	var award models.XPAward
	if tag.RowsAffected() == 0 {
		err = tx.QueryRow(ctx, "SELECT xp, level FROM profiles WHERE user_id = $1", userID).Scan(&award.XP, &award.Level)
		award.PreviousLevel = award.Level
		if err != nil {
			return models.XPAward{}, err
		}
		return award, tx.Commit(ctx)
	}

	err = tx.QueryRow(ctx,
		`UPDATE profiles SET xp = xp + $1, updated_at = NOW() WHERE user_id = $2 RETURNING xp, level`,
		amount, userID,
	).Scan(&award.XP, &award.PreviousLevel)
	if err != nil {
		return models.XPAward{}, err
	}

	err = tx.QueryRow(ctx,
		`UPDATE profiles SET level = GREATEST(level, $1) WHERE user_id = $2 RETURNING level`,
		levelFor(award.XP), userID,
	).Scan(&award.Level)
	if err != nil {
		return models.XPAward{}, err
	}

	award.Applied = true
	return award, tx.Commit(ctx)
}

// AppendBadges adds the ids not already present, keeping existing order.
// It returns the resulting badge set.
func (r *ProfileRepo) AppendBadges(ctx context.Context, userID uuid.UUID, badges []string) ([]string, error) {
	var out []string
	err := r.pool.QueryRow(ctx,
		`UPDATE profiles SET badges = badges || ARRAY(
			SELECT b FROM unnest($1::text[]) WITH ORDINALITY AS t(b, ord)
			WHERE NOT (b = ANY(profiles.badges))
			ORDER BY ord
		), updated_at = NOW()
		WHERE user_id = $2
		RETURNING badges`,
		badges, userID,
	).Scan(&out)
	return out, err
}

// UpdateStreak stores the streak computed for activity on day.
func (r *ProfileRepo) UpdateStreak(ctx context.Context, userID uuid.UUID, streak int, day time.Time) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE profiles SET streak_days = $1, last_active_on = $2, updated_at = NOW() WHERE user_id = $3",
		streak, day, userID,
	)
	return err
}

// ResetStaleStreaks zeroes streaks of users with no activity since before cutoff.
func (r *ProfileRepo) ResetStaleStreaks(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		"UPDATE profiles SET streak_days = 0, updated_at = NOW() WHERE streak_days > 0 AND (last_active_on IS NULL OR last_active_on < $1)",
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// TopByXP backs the leaderboard when Redis has nothing cached.
func (r *ProfileRepo) TopByXP(ctx context.Context, limit int) ([]*models.Profile, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE xp > 0 ORDER BY xp DESC, user_id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ProfileRepo) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Profile, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*models.Profile, len(ids))
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out[p.UserID] = p
	}
	return out, rows.Err()
}

// RecomputeLevels rewrites every level that differs from levelFor(xp).
func (r *ProfileRepo) RecomputeLevels(ctx context.Context, levelFor func(int) int) (int, error) {
	rows, err := r.pool.Query(ctx, "SELECT user_id, xp, level FROM profiles")
	if err != nil {
		return 0, err
	}

	type fix struct {
		id    uuid.UUID
		level int
	}
	var fixes []fix
	for rows.Next() {
		var id uuid.UUID
		var xp, level int
		if err := rows.Scan(&id, &xp, &level); err != nil {
			rows.Close()
			return 0, err
		}
		if want := levelFor(xp); want != level {
			fixes = append(fixes, fix{id, want})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, f := range fixes {
		if _, err := r.pool.Exec(ctx, "UPDATE profiles SET level = $1, updated_at = NOW() WHERE user_id = $2", f.level, f.id); err != nil {
			return 0, err
		}
	}
	return len(fixes), nil
}
