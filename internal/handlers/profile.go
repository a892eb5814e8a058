package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"studentforge-backend/internal/gamification"
	"studentforge-backend/internal/middleware"
	"studentforge-backend/internal/models"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type profileReader interface {
	Ensure(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

type historyReader interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.StudyHistoryEntry, error)
}

type leaderboardReader interface {
	Top(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
}

type badgeCatalog interface {
	Registry() []gamification.Badge
}

type ProfileHandler struct {
	profiles    profileReader
	history     historyReader
	badges      badgeCatalog
	leaderboard leaderboardReader
}

func NewProfileHandler(profiles profileReader, history historyReader, badges badgeCatalog, leaderboard leaderboardReader) *ProfileHandler {
	return &ProfileHandler{
		profiles:    profiles,
		history:     history,
		badges:      badges,
		leaderboard: leaderboard,
	}
}

func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Ensure(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if p.Badges == nil {
		p.Badges = []string{}
	}
	writeJSON(w, http.StatusOK, models.ProfileResponse{
		Profile:       *p,
		XPToNextLevel: gamification.XPForNextLevel(p.XP),
	})
}

// Badges lists the whole catalog, flagging the ones the caller owns.
func (h *ProfileHandler) Badges(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Ensure(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	owned := make(map[string]bool, len(p.Badges))
	for _, id := range p.Badges {
		owned[id] = true
	}

	registry := h.badges.Registry()
	views := make([]models.BadgeView, 0, len(registry))
	for _, b := range registry {
		views = append(views, models.BadgeView{
			ID:          b.ID,
			Name:        b.Name,
			Description: b.Description,
			Icon:        b.Icon,
			Tier:        string(b.Tier),
			Owned:       owned[b.ID],
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"badges": views})
}

func (h *ProfileHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", defaultHistoryLimit)
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	entries, err := h.history.ListByUser(r.Context(), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.StudyHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

func (h *ProfileHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.leaderboard.Top(r.Context(), intQuery(r, "limit", 0))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}
