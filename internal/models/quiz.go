package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Quiz struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	DocumentID    uuid.UUID       `json:"document_id"`
	Title         string          `json:"title"`
	Difficulty    string          `json:"difficulty"`
	Status        string          `json:"status"` // "pending" | "completed" | "failed"
	QuestionsJSON json.RawMessage `json:"questions"`
	QuestionCount int             `json:"question_count"`
	CreatedAt     time.Time       `json:"created_at"`
}

type QuizAttempt struct {
	ID           uuid.UUID       `json:"id"`
	QuizID       uuid.UUID       `json:"quiz_id"`
	UserID       uuid.UUID       `json:"user_id"`
	AnswersJSON  json.RawMessage `json:"answers"`
	ScorePercent *float64        `json:"score_percent"`
	CorrectCount *int            `json:"correct_count"`
	XPAwarded    int             `json:"xp_awarded"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at"`
}

type GenerateQuizRequest struct {
	DocumentID   uuid.UUID `json:"document_id" validate:"required"`
	Title        string    `json:"title" validate:"max=200"`
	NumQuestions int       `json:"num_questions" validate:"omitempty,min=1,max=30"`
	Difficulty   string    `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
}

type QuizQuestion struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation"`
}

type QuizAnswer struct {
	QuestionIndex int `json:"question_index" validate:"min=0"`
	AnswerIndex   int `json:"answer_index" validate:"min=0"`
}

type SubmitQuizRequest struct {
	Answers []QuizAnswer `json:"answers" validate:"required,dive"`
}

type QuizResult struct {
	AttemptID    uuid.UUID   `json:"attempt_id"`
	CorrectCount int         `json:"correct_count"`
	Total        int         `json:"total"`
	ScorePercent float64     `json:"score_percent"`
	XPAwarded    int         `json:"xp_awarded"`
	Level        int         `json:"level"`
	LevelUp      bool        `json:"level_up"`
	SyncPending  bool        `json:"sync_pending"`
	Events       []WSMessage `json:"events"`
}
