package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"studentforge-backend/internal/gamification"
	"studentforge-backend/internal/models"
)

const (
	XPPerCorrectAnswer    = 20
	ReasonQuizCompleted   = "quiz_completed"
	ActionQuizCompleted   = "quiz_completed"
	defaultQuizDifficulty = "medium"
)

type QuizStore interface {
	Create(ctx context.Context, q *models.Quiz) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Quiz, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Quiz, error)
	UpdateQuestions(ctx context.Context, id uuid.UUID, questions json.RawMessage, count int) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
	CreateAttempt(ctx context.Context, a *models.QuizAttempt) error
	GetAttemptByID(ctx context.Context, id uuid.UUID) (*models.QuizAttempt, error)
	SubmitAttempt(ctx context.Context, attemptID uuid.UUID, score float64, correct, xp int, answers json.RawMessage) (bool, error)
}

// JobRecorder keeps the durable row of a queued job.
type JobRecorder interface {
	Create(ctx context.Context, j *models.Job) error
}

type DocumentTextGetter interface {
	DocumentGetter
	GetText(ctx context.Context, id uuid.UUID) (string, error)
}

// QuizGenerator turns document text into questions.
type QuizGenerator interface {
	GenerateQuizQuestions(ctx context.Context, job *models.Job, documentText string) ([]models.QuizQuestion, error)
}

type QuizService struct {
	quizzes   QuizStore
	documents DocumentTextGetter
	jobs      JobRecorder
	queue     JobQueue
	generator QuizGenerator
	profiles  ProfileStore
	applier   *RewardApplier
	badges    *gamification.BadgeEvaluator
	streaks   StreakRefresher
	publisher Publisher
	now       func() time.Time
}

func NewQuizService(
	quizzes QuizStore,
	documents DocumentTextGetter,
	jobs JobRecorder,
	queue JobQueue,
	generator QuizGenerator,
	profiles ProfileStore,
	applier *RewardApplier,
	badges *gamification.BadgeEvaluator,
	streaks StreakRefresher,
	publisher Publisher,
) *QuizService {
	return &QuizService{
		quizzes:   quizzes,
		documents: documents,
		jobs:      jobs,
		queue:     queue,
		generator: generator,
		profiles:  profiles,
		applier:   applier,
		badges:    badges,
		streaks:   streaks,
		publisher: publisher,
		now:       time.Now,
	}
}

// Generate creates a pending quiz for a processed document and queues the
// generation job.
func (s *QuizService) Generate(ctx context.Context, userID uuid.UUID, req models.GenerateQuizRequest) (*models.Quiz, *models.Job, error) {
	if err := Validate(req); err != nil {
		return nil, nil, err
	}
	if s.generator == nil {
		return nil, nil, &ConflictError{Message: "Quiz generation is not configured"}
	}
	if req.NumQuestions == 0 {
		req.NumQuestions = defaultQuizQuestions
	}
	if req.Difficulty == "" {
		req.Difficulty = defaultQuizDifficulty
	}

	doc, err := s.documents.GetByID(ctx, req.DocumentID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil, &NotFoundError{Message: "Document not found"}
		}
		return nil, nil, fmt.Errorf("load document: %w", err)
	}
	if doc.UserID != userID {
		return nil, nil, &NotFoundError{Message: "Document not found"}
	}
	if doc.Status != "completed" {
		return nil, nil, &ConflictError{Message: "Document is still being processed"}
	}

	title := req.Title
	if title == "" {
		title = doc.Title + " Quiz"
	}
	quiz := &models.Quiz{UserID: userID, DocumentID: doc.ID, Title: title, Difficulty: req.Difficulty}
	if err := s.quizzes.Create(ctx, quiz); err != nil {
		return nil, nil, fmt.Errorf("create quiz: %w", err)
	}

	config, _ := json.Marshal(req)
	job := &models.Job{
		UserID:      userID,
		Type:        models.JobQuizGeneration,
		ReferenceID: quiz.ID,
		ConfigJSON:  config,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.queue.Push(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("enqueue job: %w", err)
	}

	log.Info().Str("quiz_id", quiz.ID.String()).Str("job_id", job.ID.String()).Msg("quiz generation queued")
	return quiz, job, nil
}

// ProcessGeneration runs a quiz-generation job.
func (s *QuizService) ProcessGeneration(ctx context.Context, job *models.Job) error {
	quiz, err := s.quizzes.GetByID(ctx, job.ReferenceID)
	if err != nil {
		return fmt.Errorf("load quiz: %w", err)
	}
	text, err := s.documents.GetText(ctx, quiz.DocumentID)
	if err != nil {
		return fmt.Errorf("load document text: %w", err)
	}
	if text == "" {
		return fmt.Errorf("document %s has no text", quiz.DocumentID)
	}

	questions, err := s.generator.GenerateQuizQuestions(ctx, job, text)
	if err != nil {
		return err
	}
	data, err := json.Marshal(questions)
	if err != nil {
		return err
	}
	return s.quizzes.UpdateQuestions(ctx, quiz.ID, data, len(questions))
}

// MarkFailed is called once a generation job has used up its retries.
func (s *QuizService) MarkFailed(ctx context.Context, quizID uuid.UUID) error {
	return s.quizzes.MarkFailed(ctx, quizID)
}

func (s *QuizService) List(ctx context.Context, userID uuid.UUID) ([]*models.Quiz, error) {
	return s.quizzes.ListByUser(ctx, userID)
}

func (s *QuizService) Get(ctx context.Context, userID, quizID uuid.UUID) (*models.Quiz, error) {
	quiz, err := s.quizzes.GetByID(ctx, quizID)
	if err != nil {
		if isNoRows(err) {
			return nil, &NotFoundError{Message: "Quiz not found"}
		}
		return nil, err
	}
	if quiz.UserID != userID {
		return nil, &NotFoundError{Message: "Quiz not found"}
	}
	return quiz, nil
}

func (s *QuizService) Start(ctx context.Context, userID, quizID uuid.UUID) (*models.QuizAttempt, error) {
	quiz, err := s.Get(ctx, userID, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.Status != "completed" {
		return nil, &ConflictError{Message: "Quiz is not ready yet"}
	}

	attempt := &models.QuizAttempt{QuizID: quiz.ID, UserID: userID}
	if err := s.quizzes.CreateAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	return attempt, nil
}

// Submit grades an attempt and pays XPPerCorrectAnswer for every correct
// answer. The attempt id is the reward event id, so a resubmission never
// pays twice.
func (s *QuizService) Submit(ctx context.Context, userID, attemptID uuid.UUID, req models.SubmitQuizRequest) (*models.QuizResult, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	attempt, err := s.quizzes.GetAttemptByID(ctx, attemptID)
	if err != nil {
		if isNoRows(err) {
			return nil, &NotFoundError{Message: "Attempt not found"}
		}
		return nil, err
	}
	if attempt.UserID != userID {
		return nil, &NotFoundError{Message: "Attempt not found"}
	}
	if attempt.CompletedAt != nil {
		return nil, &ConflictError{Message: "Attempt already submitted"}
	}

	quiz, err := s.quizzes.GetByID(ctx, attempt.QuizID)
	if err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	var questions []models.QuizQuestion
	if err := json.Unmarshal(quiz.QuestionsJSON, &questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}

	correct := GradeQuiz(questions, req.Answers)
	score := 0.0
	if len(questions) > 0 {
		score = float64(correct) / float64(len(questions)) * 100
	}
	xp := correct * XPPerCorrectAnswer

	answers, _ := json.Marshal(req.Answers)
	ok, err := s.quizzes.SubmitAttempt(ctx, attempt.ID, score, correct, xp, answers)
	if err != nil {
		return nil, fmt.Errorf("save attempt: %w", err)
	}
	if !ok {
		return nil, &ConflictError{Message: "Attempt already submitted"}
	}

	profile, err := s.profiles.Ensure(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	streak := profile.StreakDays
	if s.streaks != nil {
		if n, err := s.streaks.Refresh(ctx, userID); err != nil {
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("streak refresh failed")
		} else {
			streak = n
		}
	}

	unlocked := s.badges.Evaluate(gamification.Evidence{
		TotalXP:    profile.XP + xp,
		StreakDays: streak,
	}, profile.Badges)
	ids := gamification.IDs(unlocked)

	details, _ := json.Marshal(models.QuizHistoryDetails{
		QuizID:       quiz.ID,
		CorrectCount: correct,
		Total:        len(questions),
		XPEarned:     xp,
	})
	applied := s.applier.Apply(ctx, RewardDelta{
		UserID:  userID,
		EventID: attempt.ID.String(),
		XP:      xp,
		Reason:  ReasonQuizCompleted,
		Badges:  ids,
		History: &models.StudyHistoryEntry{
			ID:          attempt.ID,
			UserID:      userID,
			ActionType:  ActionQuizCompleted,
			EntityID:    quiz.ID,
			DetailsJSON: details,
			CreatedAt:   s.now().UTC(),
		},
	})

	result := &models.QuizResult{
		AttemptID:    attempt.ID,
		CorrectCount: correct,
		Total:        len(questions),
		ScorePercent: score,
		XPAwarded:    xp,
		SyncPending:  applied.SyncPending,
		Events:       []models.WSMessage{},
	}
	if applied.XPApplied {
		result.Level = applied.Award.Level
		result.LevelUp = applied.Award.LevelUp()
	} else {
		result.Level = gamification.LevelForXP(profile.XP + xp)
		result.LevelUp = result.Level > gamification.LevelForXP(profile.XP)
	}

	if xp > 0 {
		result.Events = append(result.Events, models.WSMessage{
			Type:    models.EventXPAwarded,
			Payload: models.XPAwardedEvent{Theme: models.ThemePlain, Amount: xp, Reason: ReasonQuizCompleted},
		})
	}
	result.Events = append(result.Events, badgeEvents(models.ThemePlain, unlocked, 1)...)
	if result.LevelUp {
		result.Events = append(result.Events, models.WSMessage{
			Type:    models.EventLevelUp,
			Payload: models.LevelUpEvent{Theme: models.ThemePlain, NewLevel: result.Level},
		})
	}
	for _, ev := range result.Events {
		s.publisher.Publish(ctx, userID, ev)
	}

	log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("user_id", userID.String()).
		Int("correct", correct).
		Int("xp", xp).
		Msg("quiz submitted")
	return result, nil
}

// GradeQuiz counts correct answers. Each question counts once; out-of-range
// indexes are ignored.
func GradeQuiz(questions []models.QuizQuestion, answers []models.QuizAnswer) int {
	seen := make(map[int]bool, len(answers))
	correct := 0
	for _, a := range answers {
		if a.QuestionIndex < 0 || a.QuestionIndex >= len(questions) || seen[a.QuestionIndex] {
			continue
		}
		seen[a.QuestionIndex] = true
		if questions[a.QuestionIndex].CorrectIndex == a.AnswerIndex {
			correct++
		}
	}
	return correct
}
