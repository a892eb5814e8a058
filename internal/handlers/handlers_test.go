package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"studentforge-backend/internal/gamification"
	"studentforge-backend/internal/middleware"
	"studentforge-backend/internal/models"
	"studentforge-backend/internal/services"
)

func newRequest(method, target string, body []byte, userID uuid.UUID, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	return req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.APIError {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error
}

// ─── Errors ───

func TestHandleServiceError_Mapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &services.ValidationError{Fields: map[string]string{"x": "bad"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"conflict", &services.ConflictError{Message: "busy"}, http.StatusConflict, "CONFLICT"},
		{"wrapped not found", fmt.Errorf("load: %w", &services.NotFoundError{Message: "gone"}), http.StatusNotFound, "NOT_FOUND"},
		{"forbidden", &services.ForbiddenError{Message: "no"}, http.StatusForbidden, "FORBIDDEN"},
		{"rate limited", &services.RateLimitError{Message: "slow down"}, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(middleware.RequestIDHeader, "req-1")
			rr := httptest.NewRecorder()
			handleServiceError(rr, req, tc.err)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			apiErr := decodeError(t, rr)
			if apiErr.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, apiErr.Code)
			}
			if apiErr.RequestID != "req-1" {
				t.Fatalf("expected request id to be echoed, got %q", apiErr.RequestID)
			}
		})
	}
}

// ─── Reading Sessions ───

type stubReading struct {
	turnCalls int
	lastDir   gamification.Direction
	lastEvent string
	aborted   *bool
	turnErr   error
}

func (s *stubReading) Start(ctx context.Context, userID uuid.UUID, req models.StartReadingRequest) (*models.ReadingSession, error) {
	return &models.ReadingSession{ID: uuid.New(), UserID: userID, DocumentID: req.DocumentID, Theme: req.Theme}, nil
}

func (s *stubReading) Get(ctx context.Context, userID, sessionID uuid.UUID) (*models.ReadingSession, error) {
	return nil, &services.NotFoundError{Message: "Reading session not found"}
}

func (s *stubReading) Turn(ctx context.Context, userID, sessionID uuid.UUID, dir gamification.Direction, eventID string) (*models.TurnResult, error) {
	s.turnCalls++
	s.lastDir = dir
	s.lastEvent = eventID
	if s.turnErr != nil {
		return nil, s.turnErr
	}
	return &models.TurnResult{SessionID: sessionID, Page: 2, TotalPages: 10, XPDelta: 10}, nil
}

func (s *stubReading) End(ctx context.Context, userID, sessionID uuid.UUID, aborted bool) (*models.SessionSummary, error) {
	s.aborted = &aborted
	return &models.SessionSummary{SessionID: sessionID, Aborted: aborted}, nil
}

func TestReadingHandler_Turn(t *testing.T) {
	stub := &stubReading{}
	h := &ReadingHandler{reading: stub}
	sessionID := uuid.New()

	body := []byte(`{"direction":"next","event_id":"evt-1"}`)
	req := newRequest(http.MethodPost, "/api/v1/reading-sessions/"+sessionID.String()+"/turn", body, uuid.New(), map[string]string{"id": sessionID.String()})
	rr := httptest.NewRecorder()
	h.Turn(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if stub.lastDir != gamification.Forward || stub.lastEvent != "evt-1" {
		t.Fatalf("expected forward turn with evt-1, got %v %q", stub.lastDir, stub.lastEvent)
	}

	var res models.TurnResult
	json.NewDecoder(rr.Body).Decode(&res)
	if res.Page != 2 || res.XPDelta != 10 {
		t.Fatalf("unexpected turn result %+v", res)
	}
}

func TestReadingHandler_TurnValidation(t *testing.T) {
	tests := []struct {
		name string
		id   string
		body string
	}{
		{"bad session id", "not-a-uuid", `{"direction":"forward","event_id":"e"}`},
		{"unknown direction", uuid.NewString(), `{"direction":"sideways","event_id":"e"}`},
		{"missing event id", uuid.NewString(), `{"direction":"forward"}`},
		{"unknown field", uuid.NewString(), `{"direction":"forward","event_id":"e","xp":1000}`},
		{"malformed json", uuid.NewString(), `{"direction":`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubReading{}
			h := &ReadingHandler{reading: stub}
			req := newRequest(http.MethodPost, "/turn", []byte(tc.body), uuid.New(), map[string]string{"id": tc.id})
			rr := httptest.NewRecorder()
			h.Turn(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if stub.turnCalls != 0 {
				t.Fatalf("service should not be called for invalid input")
			}
		})
	}
}

func TestReadingHandler_TurnOnEndedSession(t *testing.T) {
	stub := &stubReading{turnErr: &services.NotFoundError{Message: "Reading session not found"}}
	h := &ReadingHandler{reading: stub}
	id := uuid.NewString()

	req := newRequest(http.MethodPost, "/turn", []byte(`{"direction":"forward","event_id":"late"}`), uuid.New(), map[string]string{"id": id})
	rr := httptest.NewRecorder()
	h.Turn(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestReadingHandler_End(t *testing.T) {
	id := uuid.NewString()

	t.Run("empty body completes normally", func(t *testing.T) {
		stub := &stubReading{}
		h := &ReadingHandler{reading: stub}
		req := newRequest(http.MethodPost, "/end", nil, uuid.New(), map[string]string{"id": id})
		rr := httptest.NewRecorder()
		h.End(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if stub.aborted == nil || *stub.aborted {
			t.Fatalf("expected a non-aborted end")
		}
	})

	t.Run("aborted", func(t *testing.T) {
		stub := &stubReading{}
		h := &ReadingHandler{reading: stub}
		req := newRequest(http.MethodPost, "/end", []byte(`{"aborted":true}`), uuid.New(), map[string]string{"id": id})
		rr := httptest.NewRecorder()
		h.End(rr, req)

		if stub.aborted == nil || !*stub.aborted {
			t.Fatalf("expected aborted end")
		}
	})
}

func TestReadingHandler_StartUsesCaller(t *testing.T) {
	h := &ReadingHandler{reading: &stubReading{}}
	userID := uuid.New()
	docID := uuid.New()

	body, _ := json.Marshal(map[string]interface{}{"document_id": docID, "theme": "space"})
	req := newRequest(http.MethodPost, "/api/v1/reading-sessions", body, userID, nil)
	rr := httptest.NewRecorder()
	h.Start(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	var sess models.ReadingSession
	json.NewDecoder(rr.Body).Decode(&sess)
	if sess.UserID != userID || sess.DocumentID != docID || sess.Theme != "space" {
		t.Fatalf("unexpected session %+v", sess)
	}
}

// ─── Quizzes ───

type stubQuizzes struct {
	quiz      *models.Quiz
	submitErr error
}

func (s *stubQuizzes) Generate(ctx context.Context, userID uuid.UUID, req models.GenerateQuizRequest) (*models.Quiz, *models.Job, error) {
	return &models.Quiz{ID: uuid.New()}, &models.Job{ID: uuid.New()}, nil
}

func (s *stubQuizzes) List(ctx context.Context, userID uuid.UUID) ([]*models.Quiz, error) {
	return nil, nil
}

func (s *stubQuizzes) Get(ctx context.Context, userID, quizID uuid.UUID) (*models.Quiz, error) {
	return s.quiz, nil
}

func (s *stubQuizzes) Start(ctx context.Context, userID, quizID uuid.UUID) (*models.QuizAttempt, error) {
	return &models.QuizAttempt{ID: uuid.New(), QuizID: quizID, UserID: userID}, nil
}

func (s *stubQuizzes) Submit(ctx context.Context, userID, attemptID uuid.UUID, req models.SubmitQuizRequest) (*models.QuizResult, error) {
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &models.QuizResult{AttemptID: attemptID, CorrectCount: len(req.Answers)}, nil
}

func TestQuizHandler_GetHidesAnswers(t *testing.T) {
	questions, _ := json.Marshal([]models.QuizQuestion{
		{Question: "2+2?", Options: []string{"3", "4"}, CorrectIndex: 1, Explanation: "math"},
	})
	quiz := &models.Quiz{ID: uuid.New(), Status: "completed", QuestionsJSON: questions, QuestionCount: 1}
	h := &QuizHandler{quizzes: &stubQuizzes{quiz: quiz}}

	req := newRequest(http.MethodGet, "/", nil, uuid.New(), map[string]string{"id": quiz.ID.String()})
	rr := httptest.NewRecorder()
	h.Get(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if strings.Contains(body, "correct_index") || strings.Contains(body, "explanation") {
		t.Fatalf("answer key leaked: %s", body)
	}
	if !strings.Contains(body, `"2+2?"`) {
		t.Fatalf("expected question text in body: %s", body)
	}
}

func TestQuizHandler_GenerateAccepted(t *testing.T) {
	h := &QuizHandler{quizzes: &stubQuizzes{}}
	body := []byte(`{"document_id":"` + uuid.NewString() + `","num_questions":5}`)

	req := newRequest(http.MethodPost, "/api/v1/quizzes/generate", body, uuid.New(), nil)
	rr := httptest.NewRecorder()
	h.Generate(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["job_id"] == "" || resp["quiz_id"] == "" {
		t.Fatalf("expected job and quiz ids, got %v", resp)
	}
}

func TestQuizHandler_SubmitTwice(t *testing.T) {
	h := &QuizHandler{quizzes: &stubQuizzes{submitErr: &services.ConflictError{Message: "Attempt already submitted"}}}
	id := uuid.NewString()

	req := newRequest(http.MethodPost, "/submit", []byte(`{"answers":[{"question_index":0,"answer_index":1}]}`), uuid.New(), map[string]string{"id": id})
	rr := httptest.NewRecorder()
	h.Submit(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

// ─── Documents ───

type stubDocuments struct {
	uploaded  []byte
	filename  string
	title     string
	deleteErr error
}

func (s *stubDocuments) Upload(ctx context.Context, userID uuid.UUID, filename, title, contentType string, data []byte) (*models.Document, *models.Job, error) {
	s.uploaded = data
	s.filename = filename
	s.title = title
	return &models.Document{ID: uuid.New(), UserID: userID, Title: title, Status: "pending"}, &models.Job{ID: uuid.New()}, nil
}

func (s *stubDocuments) List(ctx context.Context, userID uuid.UUID) ([]*models.DocumentWithProgress, error) {
	return nil, nil
}

func (s *stubDocuments) Get(ctx context.Context, userID, id uuid.UUID) (*models.Document, error) {
	return nil, &services.NotFoundError{Message: "Document not found"}
}

func (s *stubDocuments) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return s.deleteErr
}

func multipartUpload(t *testing.T, filename, title string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(content)
	if title != "" {
		mw.WriteField("title", title)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, uuid.New()))
}

func TestDocumentHandler_Upload(t *testing.T) {
	stub := &stubDocuments{}
	h := &DocumentHandler{documents: stub}

	rr := httptest.NewRecorder()
	h.Upload(rr, multipartUpload(t, "notes.txt", "Week 1", []byte("hello world")))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if string(stub.uploaded) != "hello world" || stub.filename != "notes.txt" || stub.title != "Week 1" {
		t.Fatalf("unexpected upload %q %q %q", stub.uploaded, stub.filename, stub.title)
	}
}

func TestDocumentHandler_UploadRejectsExtension(t *testing.T) {
	stub := &stubDocuments{}
	h := &DocumentHandler{documents: stub}

	rr := httptest.NewRecorder()
	h.Upload(rr, multipartUpload(t, "virus.exe", "", []byte("MZ")))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if apiErr := decodeError(t, rr); apiErr.Fields["file"] == "" {
		t.Fatalf("expected a file field error, got %+v", apiErr)
	}
	if stub.uploaded != nil {
		t.Fatalf("service should not be called")
	}
}

func TestDocumentHandler_DeleteForbidden(t *testing.T) {
	h := &DocumentHandler{documents: &stubDocuments{deleteErr: &services.ForbiddenError{Message: "Access denied"}}}
	id := uuid.NewString()

	req := newRequest(http.MethodDelete, "/", nil, uuid.New(), map[string]string{"id": id})
	rr := httptest.NewRecorder()
	h.Delete(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

// ─── Profile ───

type stubProfiles struct{ profile *models.Profile }

func (s *stubProfiles) Ensure(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	p := *s.profile
	p.UserID = userID
	return &p, nil
}

type stubHistory struct{ lastLimit int }

func (s *stubHistory) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.StudyHistoryEntry, error) {
	s.lastLimit = limit
	return nil, nil
}

type stubLeaderboard struct{ lastLimit int }

func (s *stubLeaderboard) Top(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	s.lastLimit = limit
	return []models.LeaderboardEntry{{Rank: 1, XP: 900, Level: 2}}, nil
}

type stubCatalog struct{}

func (stubCatalog) Registry() []gamification.Badge {
	return []gamification.Badge{
		{ID: "first_steps", Name: "First Steps", Tier: "bronze"},
		{ID: "bookworm", Name: "Bookworm", Tier: "gold"},
	}
}

func newProfileHandler(p *models.Profile) (*ProfileHandler, *stubHistory, *stubLeaderboard) {
	hist := &stubHistory{}
	lb := &stubLeaderboard{}
	return NewProfileHandler(&stubProfiles{profile: p}, hist, stubCatalog{}, lb), hist, lb
}

func TestProfileHandler_Me(t *testing.T) {
	h, _, _ := newProfileHandler(&models.Profile{XP: 620, Level: 2})

	rr := httptest.NewRecorder()
	h.Me(rr, newRequest(http.MethodGet, "/", nil, uuid.New(), nil))

	var resp models.ProfileResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.XPToNextLevel != gamification.XPForNextLevel(620) {
		t.Fatalf("expected xp_to_next_level %d, got %d", gamification.XPForNextLevel(620), resp.XPToNextLevel)
	}
	if resp.Badges == nil {
		t.Fatal("badges should serialize as an empty list")
	}
}

func TestProfileHandler_BadgesFlagsOwned(t *testing.T) {
	h, _, _ := newProfileHandler(&models.Profile{Badges: []string{"bookworm"}})

	rr := httptest.NewRecorder()
	h.Badges(rr, newRequest(http.MethodGet, "/", nil, uuid.New(), nil))

	var resp struct {
		Badges []models.BadgeView `json:"badges"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Badges) != 2 {
		t.Fatalf("expected full catalog, got %d badges", len(resp.Badges))
	}
	if resp.Badges[0].Owned || !resp.Badges[1].Owned {
		t.Fatalf("unexpected owned flags %+v", resp.Badges)
	}
}

func TestProfileHandler_HistoryLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", defaultHistoryLimit},
		{"?limit=5", 5},
		{"?limit=0", defaultHistoryLimit},
		{"?limit=abc", defaultHistoryLimit},
		{"?limit=1000", maxHistoryLimit},
	}

	for _, tc := range tests {
		h, hist, _ := newProfileHandler(&models.Profile{})
		rr := httptest.NewRecorder()
		h.History(rr, newRequest(http.MethodGet, "/api/v1/profile/history"+tc.query, nil, uuid.New(), nil))

		if hist.lastLimit != tc.want {
			t.Errorf("query %q: expected limit %d, got %d", tc.query, tc.want, hist.lastLimit)
		}
	}
}

func TestProfileHandler_Leaderboard(t *testing.T) {
	h, _, lb := newProfileHandler(&models.Profile{})

	rr := httptest.NewRecorder()
	h.Leaderboard(rr, newRequest(http.MethodGet, "/api/v1/leaderboard?limit=3", nil, uuid.New(), nil))

	if rr.Code != http.StatusOK || lb.lastLimit != 3 {
		t.Fatalf("expected 200 with limit 3, got %d / %d", rr.Code, lb.lastLimit)
	}
}
