package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"studentforge-backend/internal/middleware"
	"studentforge-backend/internal/models"
)

type quizService interface {
	Generate(ctx context.Context, userID uuid.UUID, req models.GenerateQuizRequest) (*models.Quiz, *models.Job, error)
	List(ctx context.Context, userID uuid.UUID) ([]*models.Quiz, error)
	Get(ctx context.Context, userID, quizID uuid.UUID) (*models.Quiz, error)
	Start(ctx context.Context, userID, quizID uuid.UUID) (*models.QuizAttempt, error)
	Submit(ctx context.Context, userID, attemptID uuid.UUID, req models.SubmitQuizRequest) (*models.QuizResult, error)
}

type QuizHandler struct {
	quizzes quizService
}

func NewQuizHandler(quizzes quizService) *QuizHandler {
	return &QuizHandler{quizzes: quizzes}
}

// questionView is a quiz question without its answer key.
type questionView struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

func hideAnswers(raw json.RawMessage) []questionView {
	var questions []models.QuizQuestion
	json.Unmarshal(raw, &questions)
	out := make([]questionView, 0, len(questions))
	for _, q := range questions {
		out = append(out, questionView{Question: q.Question, Options: q.Options})
	}
	return out
}

func (h *QuizHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateQuizRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	quiz, job, err := h.quizzes.Generate(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":  job.ID,
		"quiz_id": quiz.ID,
	})
}

func (h *QuizHandler) List(w http.ResponseWriter, r *http.Request) {
	quizzes, err := h.quizzes.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if quizzes == nil {
		quizzes = []*models.Quiz{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"quizzes": quizzes})
}

func (h *QuizHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "quiz")
	if !ok {
		return
	}

	quiz, err := h.quizzes.Get(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":             quiz.ID,
		"document_id":    quiz.DocumentID,
		"title":          quiz.Title,
		"difficulty":     quiz.Difficulty,
		"status":         quiz.Status,
		"question_count": quiz.QuestionCount,
		"questions":      hideAnswers(quiz.QuestionsJSON),
		"created_at":     quiz.CreatedAt,
	})
}

func (h *QuizHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "quiz")
	if !ok {
		return
	}

	attempt, err := h.quizzes.Start(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"attempt_id": attempt.ID,
		"started_at": attempt.StartedAt,
	})
}

func (h *QuizHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "attempt")
	if !ok {
		return
	}

	var req models.SubmitQuizRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.quizzes.Submit(r.Context(), middleware.GetUserID(r.Context()), id, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
