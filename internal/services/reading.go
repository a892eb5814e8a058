package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"studentforge-backend/internal/gamification"
	"studentforge-backend/internal/metrics"
	"studentforge-backend/internal/models"
)

const (
	ReasonPageTurn       = "page_turn"
	ActionReadingSession = "reading_session"
)

type DocumentGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
}

type StreakRefresher interface {
	Refresh(ctx context.Context, userID uuid.UUID) (int, error)
}

// ReadingService turns page-turn events into rewards: tracker, calculator,
// badge evaluator, then the applier. Turns of one session run one at a time.
type ReadingService struct {
	documents DocumentGetter
	progress  ProgressStore
	profiles  ProfileStore
	sessions  SessionStore
	applier   *RewardApplier
	badges    *gamification.BadgeEvaluator
	streaks   StreakRefresher
	publisher Publisher
	now       func() time.Time
}

func NewReadingService(
	documents DocumentGetter,
	progress ProgressStore,
	profiles ProfileStore,
	sessions SessionStore,
	applier *RewardApplier,
	badges *gamification.BadgeEvaluator,
	streaks StreakRefresher,
	publisher Publisher,
) *ReadingService {
	return &ReadingService{
		documents: documents,
		progress:  progress,
		profiles:  profiles,
		sessions:  sessions,
		applier:   applier,
		badges:    badges,
		streaks:   streaks,
		publisher: publisher,
		now:       time.Now,
	}
}

func (s *ReadingService) Start(ctx context.Context, userID uuid.UUID, req models.StartReadingRequest) (*models.ReadingSession, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	doc, err := s.documents.GetByID(ctx, req.DocumentID)
	if err != nil {
		if isNoRows(err) {
			return nil, &NotFoundError{Message: "Document not found"}
		}
		return nil, fmt.Errorf("load document: %w", err)
	}
	if doc.UserID != userID {
		return nil, &NotFoundError{Message: "Document not found"}
	}

	profile, err := s.profiles.Ensure(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	page := 1
	if p, err := s.progress.Get(ctx, userID, doc.ID); err != nil {
		log.Warn().Err(err).Str("document_id", doc.ID.String()).Msg("reading progress unavailable, starting at page 1")
	} else if p != nil && p.LastPage > 1 {
		page = p.LastPage
	}
	if doc.PageCount > 0 && page > doc.PageCount {
		page = doc.PageCount
	}

	theme := req.Theme
	if theme == "" {
		theme = models.ThemePlain
	}

	sess := &models.ReadingSession{
		ID:                uuid.New(),
		UserID:            userID,
		DocumentID:        doc.ID,
		Theme:             theme,
		TotalPages:        doc.PageCount,
		CurrentPage:       page,
		BaseXP:            profile.XP,
		OwnedBadges:       append([]string{}, profile.Badges...),
		StreakDays:        profile.StreakDays,
		BadgesUnlocked:    []string{},
		MilestonesAwarded: []int{},
		TZOffsetMinutes:   req.TZOffsetMinutes,
		StartedAt:         s.now().UTC(),
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	log.Info().
		Str("session_id", sess.ID.String()).
		Str("user_id", userID.String()).
		Str("document_id", doc.ID.String()).
		Int("page", page).
		Int("total_pages", doc.PageCount).
		Msg("reading session started")
	return sess, nil
}

func (s *ReadingService) Get(ctx context.Context, userID, sessionID uuid.UUID) (*models.ReadingSession, error) {
	sess, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Completed {
		return nil, &NotFoundError{Message: "Reading session not found"}
	}
	return sess, nil
}

// owned loads a session of userID, completed ones included.
func (s *ReadingService) owned(ctx context.Context, userID, sessionID uuid.UUID) (*models.ReadingSession, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, s.sessionErr(err)
	}
	if sess.UserID != userID {
		return nil, &NotFoundError{Message: "Reading session not found"}
	}
	return sess, nil
}

func (s *ReadingService) sessionErr(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return &NotFoundError{Message: "Reading session not found"}
	case errors.Is(err, ErrSessionBusy):
		return &ConflictError{Message: "Another page turn is still being processed"}
	}
	return err
}

// locked loads the session under its lock and checks ownership.
func (s *ReadingService) locked(ctx context.Context, userID, sessionID uuid.UUID) (*models.ReadingSession, func(), error) {
	unlock, err := s.sessions.Lock(ctx, sessionID)
	if err != nil {
		return nil, nil, s.sessionErr(err)
	}
	sess, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return sess, unlock, nil
}

// Turn moves the session one page. Retrying any of the last RecentTurnLimit
// event ids returns the first result without rewarding again; that includes
// the turn that completed the session, until its record expires.
func (s *ReadingService) Turn(ctx context.Context, userID, sessionID uuid.UUID, dir gamification.Direction, eventID string) (*models.TurnResult, error) {
	if eventID == "" {
		return nil, &ValidationError{Fields: map[string]string{"event_id": "is required"}}
	}

	sess, unlock, err := s.locked(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if res := sess.Replay(eventID); res != nil {
		return res, nil
	}
	if sess.Completed {
		return nil, &NotFoundError{Message: "Reading session not found"}
	}

	metrics.PageTurns.WithLabelValues(dir.String()).Inc()

	prev := sess.CurrentPage
	page, moved := gamification.NextPage(prev, dir, sess.TotalPages)
	sess.CurrentPage = page

	res := &models.TurnResult{
		SessionID:      sess.ID,
		Page:           page,
		TotalPages:     sess.TotalPages,
		Completion:     gamification.CompletionPercentage(page, sess.TotalPages),
		XPEarned:       sess.XPEarned,
		BadgesUnlocked: []string{},
		Level:          gamification.LevelForXP(sess.BaseXP + sess.XPEarned),
		Events:         []models.WSMessage{},
	}

	// Backward and rejected turns only move the displayed page.
	if !moved || dir != gamification.Forward {
		sess.Remember(eventID, res)
		if err := s.sessions.Save(ctx, sess); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
		return res, nil
	}

	s.rewardForwardTurn(ctx, sess, prev, eventID, res)

	if res.SessionComplete {
		summary, final := s.finish(ctx, sess, false, len(res.BadgesUnlocked)+1)
		res.Events = append(res.Events, summary.Events...)
		res.BadgesUnlocked = append(res.BadgesUnlocked, final...)
		res.SyncPending = res.SyncPending || summary.SyncPending
		sess.Completed = true
		sess.Remember(eventID, res)
		if err := s.sessions.Retire(ctx, sess); err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("retire finished session")
		}
		return res, nil
	}

	sess.Remember(eventID, res)
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return res, nil
}

func (s *ReadingService) rewardForwardTurn(ctx context.Context, sess *models.ReadingSession, prev int, eventID string, res *models.TurnResult) {
	now := s.now()
	sess.PagesRead++

	reward := gamification.CalculateReward(prev, sess.CurrentPage, sess.TotalPages).Without(sess.MilestonesAwarded)
	prevTotal := sess.BaseXP + sess.XPEarned
	sess.XPEarned += reward.XPDelta
	for _, m := range reward.Milestones {
		sess.MilestonesAwarded = append(sess.MilestonesAwarded, m.Percent)
	}
	total := sess.BaseXP + sess.XPEarned

	res.SessionComplete = sess.CurrentPage >= sess.TotalPages
	unlocked := s.badges.Evaluate(gamification.Evidence{
		CurrentPage:           sess.CurrentPage,
		PagesReadThisSession:  sess.PagesRead,
		Completion:            gamification.CompletionRatio(sess.CurrentPage, sess.TotalPages),
		SessionElapsedSeconds: sess.ElapsedSeconds(now),
		SessionComplete:       res.SessionComplete,
		WallClockHour:         localHour(now, sess.TZOffsetMinutes),
		TotalXP:               total,
		StreakDays:            sess.StreakDays,
	}, sess.OwnedBadges)
	ids := gamification.IDs(unlocked)
	sess.OwnedBadges = append(sess.OwnedBadges, ids...)
	sess.BadgesUnlocked = append(sess.BadgesUnlocked, ids...)

	applied := s.applier.Apply(ctx, RewardDelta{
		UserID:  sess.UserID,
		EventID: rewardEventID(sess.ID, eventID),
		XP:      reward.XPDelta,
		Reason:  ReasonPageTurn,
		Progress: &models.ReadingProgress{
			UserID:               sess.UserID,
			DocumentID:           sess.DocumentID,
			LastPage:             sess.CurrentPage,
			CompletionPercentage: res.Completion,
		},
		Badges: ids,
	})

	res.XPDelta = reward.XPDelta
	res.XPEarned = sess.XPEarned
	res.MilestoneLabel = reward.MilestoneLabel
	res.BadgesUnlocked = ids
	res.SyncPending = applied.SyncPending
	if applied.XPApplied && applied.Award.Applied {
		res.Level = applied.Award.Level
		res.LevelUp = applied.Award.LevelUp()
	} else {
		// Persisted totals are unknown; the session counters stay authoritative.
		res.Level = gamification.LevelForXP(total)
		res.LevelUp = res.Level > gamification.LevelForXP(prevTotal)
	}

	res.Events = s.rewardEvents(sess.Theme, reward, unlocked, res)
	for _, ev := range res.Events {
		s.publisher.Publish(ctx, sess.UserID, ev)
	}
}

func (s *ReadingService) rewardEvents(theme string, reward gamification.Reward, unlocked []gamification.Badge, res *models.TurnResult) []models.WSMessage {
	events := []models.WSMessage{}
	if reward.XPDelta > 0 {
		events = append(events, models.WSMessage{
			Type:    models.EventXPAwarded,
			Payload: models.XPAwardedEvent{Theme: theme, Amount: reward.XPDelta, Reason: ReasonPageTurn},
		})
	}
	if reward.MilestoneLabel != "" {
		events = append(events, models.WSMessage{
			Type:    models.EventMilestoneReached,
			Payload: models.MilestoneReachedEvent{Theme: theme, Label: reward.MilestoneLabel},
		})
	}
	events = append(events, badgeEvents(theme, unlocked, 1)...)
	if res.LevelUp {
		events = append(events, models.WSMessage{
			Type:    models.EventLevelUp,
			Payload: models.LevelUpEvent{Theme: theme, NewLevel: res.Level},
		})
	}
	return events
}

func badgeEvents(theme string, unlocked []gamification.Badge, firstSeq int) []models.WSMessage {
	events := make([]models.WSMessage, 0, len(unlocked))
	for i, b := range unlocked {
		events = append(events, models.WSMessage{
			Type: models.EventBadgeUnlocked,
			Payload: models.BadgeUnlockedEvent{
				Theme:       theme,
				BadgeID:     b.ID,
				Name:        b.Name,
				Description: b.Description,
				Icon:        b.Icon,
				Sequence:    firstSeq + i,
			},
		})
	}
	return events
}

// End closes the session, recording it in study history. Aborting costs no XP.
func (s *ReadingService) End(ctx context.Context, userID, sessionID uuid.UUID, aborted bool) (*models.SessionSummary, error) {
	sess, unlock, err := s.locked(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if sess.Completed {
		return nil, &NotFoundError{Message: "Reading session not found"}
	}

	summary, _ := s.finish(ctx, sess, aborted, 1)
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("delete ended session")
	}
	return &summary, nil
}

// finish writes the history entry, refreshes the streak and awards the
// badges that depend on it. It returns the summary, whose last event is
// always session_ended, and the badges unlocked here.
func (s *ReadingService) finish(ctx context.Context, sess *models.ReadingSession, aborted bool, firstSeq int) (models.SessionSummary, []string) {
	now := s.now()
	elapsed := sess.ElapsedSeconds(now)
	completion := gamification.CompletionPercentage(sess.CurrentPage, sess.TotalPages)

	streak := sess.StreakDays
	if s.streaks != nil && sess.PagesRead > 0 {
		if n, err := s.streaks.Refresh(ctx, sess.UserID); err != nil {
			log.Warn().Err(err).Str("user_id", sess.UserID.String()).Msg("streak refresh failed")
		} else {
			streak = n
		}
	}

	complete := !aborted && sess.TotalPages > 0 && sess.CurrentPage >= sess.TotalPages
	var unlocked []gamification.Badge
	if sess.TotalPages > 0 {
		unlocked = s.badges.Evaluate(gamification.Evidence{
			CurrentPage:           sess.CurrentPage,
			PagesReadThisSession:  sess.PagesRead,
			Completion:            gamification.CompletionRatio(sess.CurrentPage, sess.TotalPages),
			SessionElapsedSeconds: elapsed,
			SessionComplete:       complete,
			WallClockHour:         localHour(now, sess.TZOffsetMinutes),
			TotalXP:               sess.BaseXP + sess.XPEarned,
			StreakDays:            streak,
		}, sess.OwnedBadges)
	}
	ids := gamification.IDs(unlocked)
	sess.OwnedBadges = append(sess.OwnedBadges, ids...)
	sess.BadgesUnlocked = append(sess.BadgesUnlocked, ids...)

	details, _ := json.Marshal(models.ReadingSessionDetails{
		TimeSpentSeconds: elapsed,
		PagesRead:        sess.PagesRead,
		XPEarned:         sess.XPEarned,
		Completion:       completion,
		Aborted:          aborted,
		Badges:           sess.BadgesUnlocked,
		Theme:            sess.Theme,
	})
	applied := s.applier.Apply(ctx, RewardDelta{
		UserID:  sess.UserID,
		EventID: rewardEventID(sess.ID, "end"),
		Badges:  ids,
		History: &models.StudyHistoryEntry{
			ID:          sess.ID,
			UserID:      sess.UserID,
			ActionType:  ActionReadingSession,
			EntityID:    sess.DocumentID,
			DetailsJSON: details,
			CreatedAt:   now.UTC(),
		},
	})

	summary := models.SessionSummary{
		SessionID:        sess.ID,
		DocumentID:       sess.DocumentID,
		TimeSpentSeconds: elapsed,
		PagesRead:        sess.PagesRead,
		XPEarned:         sess.XPEarned,
		Completion:       completion,
		BadgesUnlocked:   append([]string{}, sess.BadgesUnlocked...),
		Aborted:          aborted,
		SyncPending:      applied.SyncPending,
	}

	events := badgeEvents(sess.Theme, unlocked, firstSeq)
	events = append(events, models.WSMessage{
		Type:    models.EventSessionEnded,
		Payload: models.SessionEndedEvent{Theme: sess.Theme, Summary: summary},
	})
	for _, ev := range events {
		s.publisher.Publish(ctx, sess.UserID, ev)
	}
	summary.Events = events

	log.Info().
		Str("session_id", sess.ID.String()).
		Str("user_id", sess.UserID.String()).
		Int("pages_read", sess.PagesRead).
		Int("xp_earned", sess.XPEarned).
		Bool("aborted", aborted).
		Msg("reading session ended")
	return summary, ids
}

// rewardEventID scopes a client event id to its session so ids only need
// to be unique per session.
func rewardEventID(sessionID uuid.UUID, eventID string) string {
	return sessionID.String() + ":" + eventID
}

// localHour converts now to the reader's wall clock; offset is minutes east of UTC.
func localHour(now time.Time, offsetMinutes int) int {
	return now.UTC().Add(time.Duration(offsetMinutes) * time.Minute).Hour()
}
