package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studentforge-backend/internal/models"
)

type ProgressRepo struct {
	pool *pgxpool.Pool
}

func NewProgressRepo(pool *pgxpool.Pool) *ProgressRepo {
	return &ProgressRepo{pool: pool}
}

// Get returns nil, nil when the user never read the document.
func (r *ProgressRepo) Get(ctx context.Context, userID, documentID uuid.UUID) (*models.ReadingProgress, error) {
	p := &models.ReadingProgress{}
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, document_id, last_page, completion_percentage, updated_at
		 FROM reading_progress WHERE user_id = $1 AND document_id = $2`,
		userID, documentID,
	).Scan(&p.UserID, &p.DocumentID, &p.LastPage, &p.CompletionPercentage, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ProgressRepo) Upsert(ctx context.Context, p *models.ReadingProgress) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO reading_progress (user_id, document_id, last_page, completion_percentage)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, document_id)
		 DO UPDATE SET last_page = EXCLUDED.last_page,
		               completion_percentage = EXCLUDED.completion_percentage,
		               updated_at = NOW()
		 RETURNING updated_at`,
		p.UserID, p.DocumentID, p.LastPage, p.CompletionPercentage,
	).Scan(&p.UpdatedAt)
}
