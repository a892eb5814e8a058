package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"studentforge-backend/internal/gamification"
	"studentforge-backend/internal/middleware"
	"studentforge-backend/internal/models"
	"studentforge-backend/internal/services"
)

type readingService interface {
	Start(ctx context.Context, userID uuid.UUID, req models.StartReadingRequest) (*models.ReadingSession, error)
	Get(ctx context.Context, userID, sessionID uuid.UUID) (*models.ReadingSession, error)
	Turn(ctx context.Context, userID, sessionID uuid.UUID, dir gamification.Direction, eventID string) (*models.TurnResult, error)
	End(ctx context.Context, userID, sessionID uuid.UUID, aborted bool) (*models.SessionSummary, error)
}

type ReadingHandler struct {
	reading readingService
}

func NewReadingHandler(reading readingService) *ReadingHandler {
	return &ReadingHandler{reading: reading}
}

func (h *ReadingHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req models.StartReadingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.reading.Start(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *ReadingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "session")
	if !ok {
		return
	}

	sess, err := h.reading.Get(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *ReadingHandler) Turn(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "session")
	if !ok {
		return
	}

	var req models.TurnPageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := services.Validate(req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	dir, err := gamification.ParseDirection(req.Direction)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"direction": "must be forward or backward"}, r))
		return
	}

	res, err := h.reading.Turn(r.Context(), middleware.GetUserID(r.Context()), id, dir, req.EventID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ReadingHandler) End(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "session")
	if !ok {
		return
	}

	var req models.EndReadingRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	summary, err := h.reading.End(r.Context(), middleware.GetUserID(r.Context()), id, req.Aborted)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
