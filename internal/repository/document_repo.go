package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"studentforge-backend/internal/models"
)

type DocumentRepo struct {
	pool *pgxpool.Pool
}

func NewDocumentRepo(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{pool: pool}
}

const documentColumns = `id, user_id, title, file_type, storage_key, size_bytes, page_count, status, error_message, created_at`

func (r *DocumentRepo) Create(ctx context.Context, d *models.Document) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = "pending"
	}

	query := `INSERT INTO documents (id, user_id, title, file_type, storage_key, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		d.ID, d.UserID, d.Title, d.FileType, d.StorageKey, d.SizeBytes, d.Status,
	).Scan(&d.CreatedAt)
}

func (r *DocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	d := &models.Document{}
	err := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id).Scan(
		&d.ID, &d.UserID, &d.Title, &d.FileType, &d.StorageKey, &d.SizeBytes,
		&d.PageCount, &d.Status, &d.ErrorMessage, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// GetText returns the extracted text, empty while processing.
func (r *DocumentRepo) GetText(ctx context.Context, id uuid.UUID) (string, error) {
	var text *string
	if err := r.pool.QueryRow(ctx, "SELECT text_content FROM documents WHERE id = $1", id).Scan(&text); err != nil {
		return "", err
	}
	if text == nil {
		return "", nil
	}
	return *text, nil
}

func (r *DocumentRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.DocumentWithProgress, error) {
	query := `SELECT d.id, d.user_id, d.title, d.file_type, d.storage_key, d.size_bytes, d.page_count,
			d.status, d.error_message, d.created_at,
			COALESCE(p.last_page, 0), COALESCE(p.completion_percentage, 0)
		FROM documents d
		LEFT JOIN reading_progress p ON p.document_id = d.id AND p.user_id = d.user_id
		WHERE d.user_id = $1
		ORDER BY d.created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []*models.DocumentWithProgress{}
	for rows.Next() {
		d := &models.DocumentWithProgress{}
		err := rows.Scan(
			&d.ID, &d.UserID, &d.Title, &d.FileType, &d.StorageKey, &d.SizeBytes, &d.PageCount,
			&d.Status, &d.ErrorMessage, &d.CreatedAt, &d.LastPage, &d.CompletionPercentage,
		)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *DocumentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, "UPDATE documents SET status = $1 WHERE id = $2", status, id)
	return err
}

// SaveExtraction stores the processed text and marks the document ready.
func (r *DocumentRepo) SaveExtraction(ctx context.Context, id uuid.UUID, text string, pageCount int) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE documents SET text_content = $1, page_count = $2, status = 'completed', error_message = NULL WHERE id = $3",
		text, pageCount, id,
	)
	return err
}

func (r *DocumentRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.pool.Exec(ctx, "UPDATE documents SET status = 'failed', error_message = $1 WHERE id = $2", errMsg, id)
	return err
}

func (r *DocumentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	return err
}
