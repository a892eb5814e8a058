package services

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"studentforge-backend/internal/models"
)

// MaxDocumentSize is the upload limit.
const MaxDocumentSize = 50 * 1024 * 1024

type DocumentStore interface {
	Create(ctx context.Context, d *models.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.DocumentWithProgress, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	SaveExtraction(ctx context.Context, id uuid.UUID, text string, pageCount int) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type DocumentService struct {
	documents DocumentStore
	jobs      JobRecorder
	queue     JobQueue
	storage   Storage
	extractor *FileExtractService
	publisher Publisher
}

func NewDocumentService(documents DocumentStore, jobs JobRecorder, queue JobQueue, storage Storage, extractor *FileExtractService, publisher Publisher) *DocumentService {
	return &DocumentService{
		documents: documents,
		jobs:      jobs,
		queue:     queue,
		storage:   storage,
		extractor: extractor,
		publisher: publisher,
	}
}

// Upload stores the file, records a pending document and queues its
// processing job.
func (s *DocumentService) Upload(ctx context.Context, userID uuid.UUID, filename, title, contentType string, data []byte) (*models.Document, *models.Job, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !IsSupportedExtension(ext) {
		return nil, nil, &ValidationError{Fields: map[string]string{"file": "must be one of: " + strings.Join(SupportedExtensions, " ")}}
	}
	if len(data) == 0 {
		return nil, nil, &ValidationError{Fields: map[string]string{"file": "is empty"}}
	}
	if len(data) > MaxDocumentSize {
		return nil, nil, &ValidationError{Fields: map[string]string{"file": "must be at most 50MB"}}
	}
	if !MatchesSignature(ext, data) {
		return nil, nil, &ValidationError{Fields: map[string]string{"file": "content does not match the " + ext + " format"}}
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}

	doc := &models.Document{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		FileType:  strings.TrimPrefix(ext, "."),
		SizeBytes: int64(len(data)),
	}
	doc.StorageKey = DocumentStorageKey(userID.String(), doc.ID.String(), ext)

	if err := s.storage.Put(ctx, doc.StorageKey, bytes.NewReader(data), doc.SizeBytes, contentType); err != nil {
		return nil, nil, fmt.Errorf("store file: %w", err)
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		return nil, nil, fmt.Errorf("create document: %w", err)
	}

	job := &models.Job{
		UserID:      userID,
		Type:        models.JobDocumentProcessing,
		ReferenceID: doc.ID,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.queue.Push(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("enqueue job: %w", err)
	}

	log.Info().
		Str("document_id", doc.ID.String()).
		Str("user_id", userID.String()).
		Str("file_type", doc.FileType).
		Int64("size_bytes", doc.SizeBytes).
		Msg("document uploaded")
	return doc, job, nil
}

// Process extracts text and page count for a document-processing job.
func (s *DocumentService) Process(ctx context.Context, job *models.Job) error {
	doc, err := s.documents.GetByID(ctx, job.ReferenceID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if err := s.documents.UpdateStatus(ctx, doc.ID, "processing"); err != nil {
		return err
	}

	s.publisher.Publish(ctx, job.UserID, models.WSMessage{
		Type:    "status_update",
		Payload: models.StatusUpdate{JobID: job.ID, Step: 1, StepName: "Extracting Text"},
	})

	data, err := s.storage.Get(ctx, doc.StorageKey)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	extraction, err := s.extractor.Extract(doc.StorageKey, data)
	if err != nil {
		return err
	}
	return s.documents.SaveExtraction(ctx, doc.ID, extraction.Text, extraction.PageCount)
}

// MarkFailed is called once a processing job has used up its retries.
func (s *DocumentService) MarkFailed(ctx context.Context, documentID uuid.UUID, reason string) error {
	return s.documents.MarkFailed(ctx, documentID, reason)
}

func (s *DocumentService) List(ctx context.Context, userID uuid.UUID) ([]*models.DocumentWithProgress, error) {
	return s.documents.ListByUser(ctx, userID)
}

func (s *DocumentService) Get(ctx context.Context, userID, id uuid.UUID) (*models.Document, error) {
	doc, err := s.documents.GetByID(ctx, id)
	if err != nil {
		if isNoRows(err) {
			return nil, &NotFoundError{Message: "Document not found"}
		}
		return nil, err
	}
	if doc.UserID != userID {
		return nil, &NotFoundError{Message: "Document not found"}
	}
	return doc, nil
}

func (s *DocumentService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.documents.Delete(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := s.storage.Delete(ctx, doc.StorageKey); err != nil {
		log.Warn().Err(err).Str("storage_key", doc.StorageKey).Msg("delete stored file")
	}
	return nil
}
