package models

import (
	"time"

	"github.com/google/uuid"
)

type Document struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Title        string    `json:"title"`
	FileType     string    `json:"file_type"` // "pdf" | "docx" | "pptx" | "txt"
	StorageKey   string    `json:"-"`
	SizeBytes    int64     `json:"size_bytes"`
	PageCount    int       `json:"page_count"`
	TextContent  *string   `json:"-"`
	Status       string    `json:"status"` // "pending" | "processing" | "completed" | "failed"
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// DocumentWithProgress is a library row with the caller's reading position.
type DocumentWithProgress struct {
	Document
	LastPage             int `json:"last_page"`
	CompletionPercentage int `json:"completion_percentage"`
}
