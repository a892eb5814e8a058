package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studentforge-backend/internal/gamification"
	"studentforge-backend/internal/models"
)

type stubGenerator struct {
	questions []models.QuizQuestion
	gotText   string
}

func (g *stubGenerator) GenerateQuizQuestions(_ context.Context, _ *models.Job, text string) ([]models.QuizQuestion, error) {
	g.gotText = text
	return g.questions, nil
}

type quizFixture struct {
	svc       *QuizService
	deps      applierDeps
	quizzes   *fakeQuizzes
	documents *fakeDocuments
	jobs      *fakeJobs
	generator *stubGenerator
	publisher *MemoryPublisher
	doc       *models.Document
}

func newQuizFixture() *quizFixture {
	applier, deps := newTestApplier()
	doc := &models.Document{ID: uuid.New(), UserID: testUser(), Title: "Genetics", PageCount: 12, Status: "completed"}
	f := &quizFixture{
		deps:      deps,
		quizzes:   newFakeQuizzes(),
		documents: newFakeDocuments(doc),
		jobs:      &fakeJobs{},
		generator: &stubGenerator{questions: []models.QuizQuestion{
			{Question: "DNA base pairing with A?", Options: []string{"T", "G"}, CorrectIndex: 0},
			{Question: "Unit of heredity?", Options: []string{"Cell", "Gene"}, CorrectIndex: 1},
			{Question: "Helix count?", Options: []string{"1", "2"}, CorrectIndex: 1},
		}},
		publisher: NewMemoryPublisher(),
		doc:       doc,
	}
	f.documents.texts[doc.ID] = "Genes are made of DNA."
	f.svc = NewQuizService(
		f.quizzes, f.documents, f.jobs, deps.queue, f.generator,
		deps.profiles, applier, gamification.MustBadgeEvaluator(),
		NewStreakService(deps.profiles, deps.history), f.publisher,
	)
	return f
}

// readyQuiz generates a quiz and runs its job inline.
func (f *quizFixture) readyQuiz(t *testing.T) *models.Quiz {
	t.Helper()
	quiz, job, err := f.svc.Generate(context.Background(), testUser(), models.GenerateQuizRequest{DocumentID: f.doc.ID, NumQuestions: 3})
	require.NoError(t, err)
	require.NoError(t, f.svc.ProcessGeneration(context.Background(), job))
	return quiz
}

func TestQuiz_GenerateQueuesJob(t *testing.T) {
	f := newQuizFixture()

	quiz, job, err := f.svc.Generate(context.Background(), testUser(), models.GenerateQuizRequest{DocumentID: f.doc.ID})
	require.NoError(t, err)

	assert.Equal(t, "Genetics Quiz", quiz.Title)
	assert.Equal(t, "medium", quiz.Difficulty)
	assert.Equal(t, models.JobQuizGeneration, job.Type)
	assert.Equal(t, quiz.ID, job.ReferenceID)
	require.Equal(t, 1, f.deps.queue.Len())

	var cfg models.GenerateQuizRequest
	require.NoError(t, json.Unmarshal(job.ConfigJSON, &cfg))
	assert.Equal(t, defaultQuizQuestions, cfg.NumQuestions)

	require.NoError(t, f.svc.ProcessGeneration(context.Background(), job))
	assert.Equal(t, "completed", f.quizzes.quizzes[quiz.ID].Status)
	assert.Equal(t, 3, f.quizzes.quizzes[quiz.ID].QuestionCount)
	assert.Equal(t, "Genes are made of DNA.", f.generator.gotText)
}

func TestQuiz_GenerateRejectsUnprocessedDocument(t *testing.T) {
	f := newQuizFixture()
	f.doc.Status = "processing"

	_, _, err := f.svc.Generate(context.Background(), testUser(), models.GenerateQuizRequest{DocumentID: f.doc.ID})
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)

	_, _, err = f.svc.Generate(context.Background(), testUser(), models.GenerateQuizRequest{DocumentID: f.doc.ID, NumQuestions: 99})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "NumQuestions")
}

func TestQuiz_StartRequiresReadyQuiz(t *testing.T) {
	f := newQuizFixture()
	quiz, _, err := f.svc.Generate(context.Background(), testUser(), models.GenerateQuizRequest{DocumentID: f.doc.ID})
	require.NoError(t, err)

	_, err = f.svc.Start(context.Background(), testUser(), quiz.ID)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)

	_, err = f.svc.Start(context.Background(), uuid.New(), quiz.ID)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestQuiz_SubmitAwardsXPOnce(t *testing.T) {
	f := newQuizFixture()
	quiz := f.readyQuiz(t)
	attempt, err := f.svc.Start(context.Background(), testUser(), quiz.ID)
	require.NoError(t, err)

	req := models.SubmitQuizRequest{Answers: []models.QuizAnswer{
		{QuestionIndex: 0, AnswerIndex: 0},
		{QuestionIndex: 1, AnswerIndex: 1},
		{QuestionIndex: 2, AnswerIndex: 0},
	}}
	res, err := f.svc.Submit(context.Background(), testUser(), attempt.ID, req)
	require.NoError(t, err)

	assert.Equal(t, 2, res.CorrectCount)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 40, res.XPAwarded)
	assert.InDelta(t, 66.67, res.ScorePercent, 0.01)
	assert.False(t, res.SyncPending)
	assert.Equal(t, []string{models.EventXPAwarded}, eventTypes(res.Events))
	assert.Equal(t, 40, f.deps.profiles.get(testUser()).XP)

	entry := f.deps.history.entries[attempt.ID]
	require.NotNil(t, entry)
	assert.Equal(t, ActionQuizCompleted, entry.ActionType)
	assert.Equal(t, quiz.ID, entry.EntityID)

	_, err = f.svc.Submit(context.Background(), testUser(), attempt.ID, req)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.Equal(t, 40, f.deps.profiles.get(testUser()).XP)
}

func TestQuiz_SubmitUnlocksXPBadgesAndLevel(t *testing.T) {
	f := newQuizFixture()
	p := f.deps.profiles.get(testUser())
	p.XP = 990
	p.Level = 2
	quiz := f.readyQuiz(t)
	attempt, err := f.svc.Start(context.Background(), testUser(), quiz.ID)
	require.NoError(t, err)

	res, err := f.svc.Submit(context.Background(), testUser(), attempt.ID, models.SubmitQuizRequest{
		Answers: []models.QuizAnswer{{QuestionIndex: 0, AnswerIndex: 0}},
	})
	require.NoError(t, err)

	assert.True(t, res.LevelUp)
	assert.Equal(t, 3, res.Level)
	assert.Equal(t,
		[]string{models.EventXPAwarded, models.EventBadgeUnlocked, models.EventLevelUp},
		eventTypes(res.Events))
	assert.Contains(t, f.deps.profiles.get(testUser()).Badges, gamification.BadgeXPCollector)
	assert.Len(t, f.publisher.Messages(testUser()), 3)
}

func TestGradeQuiz(t *testing.T) {
	questions := []models.QuizQuestion{
		{CorrectIndex: 0}, {CorrectIndex: 1},
	}

	answer := func(q, a int) models.QuizAnswer { return models.QuizAnswer{QuestionIndex: q, AnswerIndex: a} }

	assert.Equal(t, 2, GradeQuiz(questions, []models.QuizAnswer{answer(0, 0), answer(1, 1)}))
	assert.Equal(t, 1, GradeQuiz(questions, []models.QuizAnswer{answer(0, 0), answer(0, 0), answer(5, 0)}), "duplicates and unknown questions")
	assert.Zero(t, GradeQuiz(nil, []models.QuizAnswer{answer(0, 0)}))
}
