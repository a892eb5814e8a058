package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Profile struct {
	UserID       uuid.UUID  `json:"user_id"`
	DisplayName  string     `json:"display_name"`
	XP           int        `json:"xp"`
	Level        int        `json:"level"`
	Badges       []string   `json:"badges"`
	StreakDays   int        `json:"streak_days"`
	LastActiveOn *time.Time `json:"last_active_on,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type ProfileResponse struct {
	Profile
	XPToNextLevel int `json:"xp_to_next_level"`
}

// XPAward is the outcome of one idempotent XP increment.
type XPAward struct {
	Applied       bool `json:"applied"` // false when the event id was already recorded
	XP            int  `json:"xp"`
	PreviousLevel int  `json:"previous_level"`
	Level         int  `json:"level"`
}

func (a XPAward) LevelUp() bool { return a.Level > a.PreviousLevel }

type StudyHistoryEntry struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	ActionType  string          `json:"action_type"` // "reading_session" | "quiz_completed"
	EntityID    uuid.UUID       `json:"entity_id"`
	DetailsJSON json.RawMessage `json:"details"`
	CreatedAt   time.Time       `json:"created_at"`
}

type ReadingSessionDetails struct {
	TimeSpentSeconds int      `json:"time_spent_seconds"`
	PagesRead        int      `json:"pages_read"`
	XPEarned         int      `json:"xp_earned"`
	Completion       int      `json:"completion_percentage"`
	Aborted          bool     `json:"aborted"`
	Badges           []string `json:"badges,omitempty"`
	Theme            string   `json:"theme"`
}

type QuizHistoryDetails struct {
	QuizID       uuid.UUID `json:"quiz_id"`
	CorrectCount int       `json:"correct_count"`
	Total        int       `json:"total"`
	XPEarned     int       `json:"xp_earned"`
}

type LeaderboardEntry struct {
	Rank        int       `json:"rank"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	XP          int       `json:"xp"`
	Level       int       `json:"level"`
}

type BadgeView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Tier        string `json:"tier"`
	Owned       bool   `json:"owned"`
}
