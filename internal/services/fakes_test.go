package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"studentforge-backend/internal/models"
)

var errDown = errors.New("connection refused")

func testUser() uuid.UUID {
	return uuid.MustParse("11111111-1111-1111-1111-111111111111")
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*models.Profile
	events   map[string]bool
	failXP   int // number of AwardXP calls to fail
	failBad  bool
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: map[uuid.UUID]*models.Profile{}, events: map[string]bool{}}
}

func (f *fakeProfiles) get(id uuid.UUID) *models.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		p = &models.Profile{UserID: id, Level: 1, Badges: []string{}}
		f.profiles[id] = p
	}
	return p
}

func (f *fakeProfiles) Ensure(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	p := *f.get(id)
	p.Badges = append([]string{}, p.Badges...)
	return &p, nil
}

func (f *fakeProfiles) AwardXP(_ context.Context, id uuid.UUID, eventID string, amount int, _ string, levelFor func(int) int) (models.XPAward, error) {
	p := f.get(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failXP > 0 {
		f.failXP--
		return models.XPAward{}, errDown
	}
	if f.events[eventID] {
		return models.XPAward{XP: p.XP, Level: p.Level, PreviousLevel: p.Level}, nil
	}
	f.events[eventID] = true
	prev := p.Level
	p.XP += amount
	if l := levelFor(p.XP); l > p.Level {
		p.Level = l
	}
	return models.XPAward{Applied: true, XP: p.XP, PreviousLevel: prev, Level: p.Level}, nil
}

func (f *fakeProfiles) AppendBadges(_ context.Context, id uuid.UUID, badges []string) ([]string, error) {
	p := f.get(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBad {
		return nil, errDown
	}
	for _, b := range badges {
		found := false
		for _, have := range p.Badges {
			if have == b {
				found = true
			}
		}
		if !found {
			p.Badges = append(p.Badges, b)
		}
	}
	return append([]string{}, p.Badges...), nil
}

func (f *fakeProfiles) UpdateStreak(_ context.Context, id uuid.UUID, streak int, day time.Time) error {
	p := f.get(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	p.StreakDays = streak
	p.LastActiveOn = &day
	return nil
}

type fakeProgress struct {
	mu    sync.Mutex
	rows  map[[2]uuid.UUID]models.ReadingProgress
	calls int
	fail  bool
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{rows: map[[2]uuid.UUID]models.ReadingProgress{}}
}

func (f *fakeProgress) Get(_ context.Context, userID, docID uuid.UUID) (*models.ReadingProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[[2]uuid.UUID{userID, docID}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeProgress) Upsert(_ context.Context, p *models.ReadingProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errDown
	}
	f.rows[[2]uuid.UUID{p.UserID, p.DocumentID}] = *p
	return nil
}

type fakeHistory struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*models.StudyHistoryEntry
	days    []time.Time
	fail    bool
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{entries: map[uuid.UUID]*models.StudyHistoryEntry{}}
}

func (f *fakeHistory) Insert(_ context.Context, e *models.StudyHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errDown
	}
	if _, ok := f.entries[e.ID]; !ok {
		f.entries[e.ID] = e
	}
	return nil
}

func (f *fakeHistory) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]*models.StudyHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.StudyHistoryEntry
	for _, e := range f.entries {
		if e.UserID == userID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeHistory) ActiveDays(_ context.Context, _ uuid.UUID, _ time.Time) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time{}, f.days...), nil
}

type fakeDocuments struct {
	docs  map[uuid.UUID]*models.Document
	texts map[uuid.UUID]string
}

func newFakeDocuments(docs ...*models.Document) *fakeDocuments {
	f := &fakeDocuments{docs: map[uuid.UUID]*models.Document{}, texts: map[uuid.UUID]string{}}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *fakeDocuments) GetByID(_ context.Context, id uuid.UUID) (*models.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return d, nil
}

func (f *fakeDocuments) GetText(_ context.Context, id uuid.UUID) (string, error) {
	return f.texts[id], nil
}

func (f *fakeDocuments) Create(_ context.Context, d *models.Document) error {
	if d.Status == "" {
		d.Status = "pending"
	}
	f.docs[d.ID] = d
	return nil
}

func (f *fakeDocuments) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.DocumentWithProgress, error) {
	out := []*models.DocumentWithProgress{}
	for _, d := range f.docs {
		if d.UserID == userID {
			out = append(out, &models.DocumentWithProgress{Document: *d})
		}
	}
	return out, nil
}

func (f *fakeDocuments) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	f.docs[id].Status = status
	return nil
}

func (f *fakeDocuments) SaveExtraction(_ context.Context, id uuid.UUID, text string, pageCount int) error {
	d := f.docs[id]
	d.Status = "completed"
	d.PageCount = pageCount
	f.texts[id] = text
	return nil
}

func (f *fakeDocuments) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	d := f.docs[id]
	d.Status = "failed"
	d.ErrorMessage = &errMsg
	return nil
}

func (f *fakeDocuments) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.docs, id)
	return nil
}

type fakeJobs struct {
	created []*models.Job
}

func (f *fakeJobs) Create(_ context.Context, j *models.Job) error {
	j.ID = uuid.New()
	j.Status = "pending"
	j.MaxRetries = 3
	f.created = append(f.created, j)
	return nil
}

type fakeQuizzes struct {
	quizzes  map[uuid.UUID]*models.Quiz
	attempts map[uuid.UUID]*models.QuizAttempt
}

func newFakeQuizzes() *fakeQuizzes {
	return &fakeQuizzes{quizzes: map[uuid.UUID]*models.Quiz{}, attempts: map[uuid.UUID]*models.QuizAttempt{}}
}

func (f *fakeQuizzes) Create(_ context.Context, q *models.Quiz) error {
	q.ID = uuid.New()
	q.Status = "pending"
	f.quizzes[q.ID] = q
	return nil
}

func (f *fakeQuizzes) GetByID(_ context.Context, id uuid.UUID) (*models.Quiz, error) {
	q, ok := f.quizzes[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return q, nil
}

func (f *fakeQuizzes) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.Quiz, error) {
	out := []*models.Quiz{}
	for _, q := range f.quizzes {
		if q.UserID == userID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeQuizzes) UpdateQuestions(_ context.Context, id uuid.UUID, questions json.RawMessage, count int) error {
	q := f.quizzes[id]
	q.QuestionsJSON = questions
	q.QuestionCount = count
	q.Status = "completed"
	return nil
}

func (f *fakeQuizzes) MarkFailed(_ context.Context, id uuid.UUID) error {
	f.quizzes[id].Status = "failed"
	return nil
}

func (f *fakeQuizzes) CreateAttempt(_ context.Context, a *models.QuizAttempt) error {
	a.ID = uuid.New()
	a.StartedAt = time.Now()
	f.attempts[a.ID] = a
	return nil
}

func (f *fakeQuizzes) GetAttemptByID(_ context.Context, id uuid.UUID) (*models.QuizAttempt, error) {
	a, ok := f.attempts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (f *fakeQuizzes) SubmitAttempt(_ context.Context, id uuid.UUID, score float64, correct, xp int, answers json.RawMessage) (bool, error) {
	a := f.attempts[id]
	if a.CompletedAt != nil {
		return false, nil
	}
	now := time.Now()
	a.CompletedAt = &now
	a.ScorePercent = &score
	a.CorrectCount = &correct
	a.XPAwarded = xp
	a.AnswersJSON = answers
	return true, nil
}

type fakeLeaderboard struct {
	mu     sync.Mutex
	scores map[uuid.UUID]int
}

func (f *fakeLeaderboard) Record(_ context.Context, id uuid.UUID, xp int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scores == nil {
		f.scores = map[uuid.UUID]int{}
	}
	f.scores[id] = xp
}
