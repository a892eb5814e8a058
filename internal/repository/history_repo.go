package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"studentforge-backend/internal/models"
)

type HistoryRepo struct {
	pool *pgxpool.Pool
}

func NewHistoryRepo(pool *pgxpool.Pool) *HistoryRepo {
	return &HistoryRepo{pool: pool}
}

// Insert is a no-op when an entry with the same id already exists.
func (r *HistoryRepo) Insert(ctx context.Context, e *models.StudyHistoryEntry) error {
	details := []byte(e.DetailsJSON)
	if len(details) == 0 {
		details = []byte("{}")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO study_history (id, user_id, action_type, entity_id, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		e.ID, e.UserID, e.ActionType, e.EntityID, details, e.CreatedAt,
	)
	return err
}

func (r *HistoryRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.StudyHistoryEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, action_type, entity_id, details, created_at
		 FROM study_history WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*models.StudyHistoryEntry{}
	for rows.Next() {
		e := &models.StudyHistoryEntry{}
		var details []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.ActionType, &e.EntityID, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.DetailsJSON = json.RawMessage(details)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ActiveDays returns the distinct UTC dates with activity since since, newest first.
func (r *HistoryRepo) ActiveDays(ctx context.Context, userID uuid.UUID, since time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT (created_at AT TIME ZONE 'UTC')::date AS day
		 FROM study_history WHERE user_id = $1 AND created_at >= $2
		 ORDER BY day DESC`,
		userID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}
