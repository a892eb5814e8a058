package models

import (
	"time"

	"github.com/google/uuid"
)

// UI shells that render reading events.
const (
	ThemePlain = "plain"
	ThemeSpace = "space"
)

type ReadingProgress struct {
	UserID               uuid.UUID `json:"user_id"`
	DocumentID           uuid.UUID `json:"document_id"`
	LastPage             int       `json:"last_page"`
	CompletionPercentage int       `json:"completion_percentage"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ReadingSession is the live state of one reading interaction. It only
// exists in the session store and is dropped when the session ends.
type ReadingSession struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	DocumentID        uuid.UUID `json:"document_id"`
	Theme             string    `json:"theme"`
	TotalPages        int       `json:"total_pages"`
	CurrentPage       int       `json:"current_page"`
	PagesRead         int       `json:"pages_read"`
	XPEarned          int       `json:"xp_earned"`
	BaseXP            int       `json:"base_xp"`
	OwnedBadges       []string  `json:"owned_badges"`
	StreakDays        int       `json:"streak_days"`
	BadgesUnlocked    []string  `json:"badges_unlocked"`
	MilestonesAwarded []int     `json:"milestones_awarded"`
	TZOffsetMinutes   int       `json:"tz_offset_minutes"`
	StartedAt         time.Time `json:"started_at"`

	// Completed sessions linger briefly so the final turn can be replayed.
	Completed bool         `json:"completed,omitempty"`
	Recent    []TurnRecord `json:"recent,omitempty"`
}

// RecentTurnLimit bounds how many turn results a session remembers.
const RecentTurnLimit = 32

type TurnRecord struct {
	EventID string      `json:"event_id"`
	Result  *TurnResult `json:"result"`
}

// Replay returns the result already computed for eventID, if remembered.
func (s *ReadingSession) Replay(eventID string) *TurnResult {
	for i := len(s.Recent) - 1; i >= 0; i-- {
		if s.Recent[i].EventID == eventID {
			return s.Recent[i].Result
		}
	}
	return nil
}

func (s *ReadingSession) Remember(eventID string, res *TurnResult) {
	s.Recent = append(s.Recent, TurnRecord{EventID: eventID, Result: res})
	if n := len(s.Recent) - RecentTurnLimit; n > 0 {
		s.Recent = append([]TurnRecord(nil), s.Recent[n:]...)
	}
}

func (s *ReadingSession) ElapsedSeconds(now time.Time) int {
	return int(now.Sub(s.StartedAt).Seconds())
}

type StartReadingRequest struct {
	DocumentID      uuid.UUID `json:"document_id" validate:"required"`
	Theme           string    `json:"theme" validate:"omitempty,oneof=plain space"`
	TZOffsetMinutes int       `json:"tz_offset_minutes" validate:"min=-840,max=840"`
}

type TurnPageRequest struct {
	Direction string `json:"direction" validate:"required,oneof=forward backward next prev"`
	EventID   string `json:"event_id" validate:"required,max=128"`
}

type EndReadingRequest struct {
	Aborted bool `json:"aborted"`
}

type TurnResult struct {
	SessionID       uuid.UUID   `json:"session_id"`
	Page            int         `json:"page"`
	TotalPages      int         `json:"total_pages"`
	Completion      int         `json:"completion_percentage"`
	XPDelta         int         `json:"xp_delta"`
	XPEarned        int         `json:"xp_earned"`
	MilestoneLabel  string      `json:"milestone_label,omitempty"`
	BadgesUnlocked  []string    `json:"badges_unlocked"`
	Level           int         `json:"level"`
	LevelUp         bool        `json:"level_up"`
	SessionComplete bool        `json:"session_complete"`
	SyncPending     bool        `json:"sync_pending"`
	Events          []WSMessage `json:"events"`
}

type SessionSummary struct {
	SessionID        uuid.UUID   `json:"session_id"`
	DocumentID       uuid.UUID   `json:"document_id"`
	TimeSpentSeconds int         `json:"time_spent_seconds"`
	PagesRead        int         `json:"pages_read"`
	XPEarned         int         `json:"xp_earned"`
	Completion       int         `json:"completion_percentage"`
	BadgesUnlocked   []string    `json:"badges_unlocked"`
	Aborted          bool        `json:"aborted"`
	SyncPending      bool        `json:"sync_pending"`
	Events           []WSMessage `json:"events"`
}

// Reward event types, pushed to the UI in this order within one turn.
const (
	EventXPAwarded        = "xp_awarded"
	EventMilestoneReached = "milestone_reached"
	EventBadgeUnlocked    = "badge_unlocked"
	EventLevelUp          = "level_up"
	EventSessionEnded     = "session_ended"
)

type XPAwardedEvent struct {
	Theme  string `json:"theme"`
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

type MilestoneReachedEvent struct {
	Theme string `json:"theme"`
	Label string `json:"label"`
}

type BadgeUnlockedEvent struct {
	Theme       string `json:"theme"`
	BadgeID     string `json:"badge_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Sequence    int    `json:"sequence"`
}

type LevelUpEvent struct {
	Theme    string `json:"theme"`
	NewLevel int    `json:"new_level"`
}

type SessionEndedEvent struct {
	Theme   string         `json:"theme"`
	Summary SessionSummary `json:"summary"`
}
