package handlers

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"studentforge-backend/internal/middleware"
	"studentforge-backend/internal/models"
	"studentforge-backend/internal/services"
)

type documentService interface {
	Upload(ctx context.Context, userID uuid.UUID, filename, title, contentType string, data []byte) (*models.Document, *models.Job, error)
	List(ctx context.Context, userID uuid.UUID) ([]*models.DocumentWithProgress, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*models.Document, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

type DocumentHandler struct {
	documents documentService
}

func NewDocumentHandler(documents documentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Multipart overhead on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxDocumentSize+1<<20)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "File too large or invalid form", r))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"file": "is required"}, r))
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !services.IsSupportedExtension(ext) {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"file": "must be one of: " + strings.Join(services.SupportedExtensions, " ")}, r))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Failed to read file", r))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	doc, job, err := h.documents.Upload(r.Context(), middleware.GetUserID(r.Context()),
		header.Filename, r.FormValue("title"), contentType, data)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"document": doc,
		"job_id":   job.ID,
	})
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.documents.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*models.DocumentWithProgress{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "document")
	if !ok {
		return
	}

	doc, err := h.documents.Get(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "document")
	if !ok {
		return
	}

	if err := h.documents.Delete(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted"})
}

func (h *DocumentHandler) SupportedFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"extensions":     services.SupportedExtensions,
		"max_size_bytes": services.MaxDocumentSize,
	})
}
