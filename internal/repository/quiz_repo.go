package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"studentforge-backend/internal/models"
)

type QuizRepo struct {
	pool *pgxpool.Pool
}

func NewQuizRepo(pool *pgxpool.Pool) *QuizRepo {
	return &QuizRepo{pool: pool}
}

const quizColumns = `id, user_id, document_id, title, difficulty, status, questions, question_count, created_at`

func scanQuiz(row interface{ Scan(...any) error }) (*models.Quiz, error) {
	q := &models.Quiz{}
	var questions []byte
	err := row.Scan(&q.ID, &q.UserID, &q.DocumentID, &q.Title, &q.Difficulty, &q.Status, &questions, &q.QuestionCount, &q.CreatedAt)
	if err != nil {
		return nil, err
	}
	q.QuestionsJSON = json.RawMessage(questions)
	return q, nil
}

func (r *QuizRepo) Create(ctx context.Context, q *models.Quiz) error {
	q.ID = uuid.New()
	q.Status = "pending"
	questions := []byte(q.QuestionsJSON)
	if len(questions) == 0 {
		questions = []byte("[]")
	}

	query := `INSERT INTO quizzes (id, user_id, document_id, title, difficulty, status, questions, question_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		q.ID, q.UserID, q.DocumentID, q.Title, q.Difficulty, q.Status, questions, q.QuestionCount,
	).Scan(&q.CreatedAt)
}

func (r *QuizRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Quiz, error) {
	return scanQuiz(r.pool.QueryRow(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id = $1`, id))
}

func (r *QuizRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Quiz, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	quizzes := []*models.Quiz{}
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, err
		}
		quizzes = append(quizzes, q)
	}
	return quizzes, rows.Err()
}

func (r *QuizRepo) UpdateQuestions(ctx context.Context, id uuid.UUID, questions json.RawMessage, count int) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE quizzes SET questions = $1, question_count = $2, status = 'completed' WHERE id = $3",
		[]byte(questions), count, id,
	)
	return err
}

func (r *QuizRepo) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "UPDATE quizzes SET status = 'failed' WHERE id = $1", id)
	return err
}

// Quiz Attempts

func (r *QuizRepo) CreateAttempt(ctx context.Context, a *models.QuizAttempt) error {
	a.ID = uuid.New()
	a.StartedAt = time.Now()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO quiz_attempts (id, quiz_id, user_id, started_at) VALUES ($1, $2, $3, $4)`,
		a.ID, a.QuizID, a.UserID, a.StartedAt,
	)
	return err
}

func (r *QuizRepo) GetAttemptByID(ctx context.Context, id uuid.UUID) (*models.QuizAttempt, error) {
	a := &models.QuizAttempt{}
	var answers []byte
	query := `SELECT id, quiz_id, user_id, answers, score_percent, correct_count, xp_awarded, started_at, completed_at
		FROM quiz_attempts WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.QuizID, &a.UserID, &answers, &a.ScorePercent, &a.CorrectCount,
		&a.XPAwarded, &a.StartedAt, &a.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	a.AnswersJSON = json.RawMessage(answers)
	return a, nil
}

// SubmitAttempt closes an open attempt. It reports false when the attempt
// was already completed.
func (r *QuizRepo) SubmitAttempt(ctx context.Context, attemptID uuid.UUID, score float64, correct, xp int, answers json.RawMessage) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE quiz_attempts SET answers = $1, score_percent = $2, correct_count = $3, xp_awarded = $4, completed_at = NOW()
		 WHERE id = $5 AND completed_at IS NULL`,
		[]byte(answers), score, correct, xp, attemptID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
