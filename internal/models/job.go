package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job types, one Redis list per type.
const (
	JobDocumentProcessing = "document-processing"
	JobQuizGeneration     = "quiz-generation"
	JobRewardSync         = "reward-sync"
)

type Job struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Type         string          `json:"type"`
	ReferenceID  uuid.UUID       `json:"reference_id"`
	ConfigJSON   json.RawMessage `json:"config"`
	Status       string          `json:"status"` // "pending" | "processing" | "completed" | "failed"
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	ErrorMessage *string         `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at"`
}

// RewardSyncTask is the payload of a reward-sync job: one persistence step
// that failed inline and must be replayed.
type RewardSyncTask struct {
	Step       string             `json:"step"` // "progress" | "xp" | "badges" | "history"
	UserID     uuid.UUID          `json:"user_id"`
	EventID    string             `json:"event_id,omitempty"`
	Amount     int                `json:"amount,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Progress   *ReadingProgress   `json:"progress,omitempty"`
	Badges     []string           `json:"badges,omitempty"`
	History    *StudyHistoryEntry `json:"history,omitempty"`
	Attempt    int                `json:"attempt"`
	EnqueuedAt time.Time          `json:"enqueued_at"`
}

// WebSocket message envelope.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type StatusUpdate struct {
	JobID    uuid.UUID `json:"job_id"`
	Step     int       `json:"step"`
	StepName string    `json:"step_name"`
}

type CompletedEvent struct {
	JobID      uuid.UUID `json:"job_id"`
	ResultID   uuid.UUID `json:"result_id"`
	ResultType string    `json:"result_type"`
}

type ErrorEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
