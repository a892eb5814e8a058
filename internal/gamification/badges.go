package gamification

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Badge ids, in discovery order.
const (
	BadgeFirstPage         = "first_page"
	BadgeOnARoll           = "on_a_roll"
	BadgeChapterChampion   = "chapter_champion"
	BadgeHalfwayHero       = "halfway_hero"
	BadgeDocumentMaster    = "document_master"
	BadgeSpeedReader       = "speed_reader"
	BadgeNightOwl          = "night_owl"
	BadgeEarlyBird         = "early_bird"
	BadgeXPCollector       = "xp_collector"
	BadgeLevelUp           = "level_up"
	BadgeConsistentLearner = "consistent_learner"
	BadgeStudyWarrior      = "study_warrior"
)

// Tier is the rarity shown next to a badge.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// Evidence is everything a badge rule may look at.
type Evidence struct {
	CurrentPage           int
	PagesReadThisSession  int
	Completion            float64 // 0..1
	SessionElapsedSeconds int
	SessionComplete       bool
	WallClockHour         int // 0..23, user local time
	TotalXP               int // profile xp + xp earned so far
	StreakDays            int
}

// Badge is a one-time achievement.
type Badge struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Tier        Tier   `json:"tier"`

	Condition func(Evidence) bool `json:"-"`
}

type badgeRule struct {
	id   string
	cond func(Evidence) bool
}

var rules = []badgeRule{
	{BadgeFirstPage, func(e Evidence) bool { return e.CurrentPage >= 1 }},
	{BadgeOnARoll, func(e Evidence) bool { return e.PagesReadThisSession >= 5 }},
	{BadgeChapterChampion, func(e Evidence) bool { return e.Completion >= 0.25 }},
	{BadgeHalfwayHero, func(e Evidence) bool { return e.Completion >= 0.50 }},
	{BadgeDocumentMaster, func(e Evidence) bool { return e.Completion >= 1.0 || e.SessionComplete }},
	{BadgeSpeedReader, func(e Evidence) bool { return e.SessionComplete && e.SessionElapsedSeconds < 600 }},
	{BadgeNightOwl, func(e Evidence) bool {
		return e.SessionComplete && (e.WallClockHour >= 22 || e.WallClockHour <= 2)
	}},
	{BadgeEarlyBird, func(e Evidence) bool {
		return e.SessionComplete && e.WallClockHour >= 5 && e.WallClockHour <= 8
	}},
	{BadgeXPCollector, func(e Evidence) bool { return e.TotalXP >= 1000 }},
	{BadgeLevelUp, func(e Evidence) bool { return LevelForXP(e.TotalXP) >= 5 }},
	{BadgeConsistentLearner, func(e Evidence) bool { return e.StreakDays >= 3 }},
	{BadgeStudyWarrior, func(e Evidence) bool { return e.StreakDays >= 7 }},
}

//go:embed badges.yaml
var catalogYAML []byte

type catalogEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Icon        string `yaml:"icon"`
	Tier        Tier   `yaml:"tier"`
}

type catalog struct {
	Badges map[string]catalogEntry `yaml:"badges"`
}

// BadgeEvaluator holds the ordered badge registry.
type BadgeEvaluator struct {
	registry []Badge
	byID     map[string]Badge
}

// NewBadgeEvaluator builds the registry from the embedded catalog.
func NewBadgeEvaluator() (*BadgeEvaluator, error) {
	return newBadgeEvaluator(catalogYAML)
}

// MustBadgeEvaluator is NewBadgeEvaluator for package-level setup.
func MustBadgeEvaluator() *BadgeEvaluator {
	e, err := NewBadgeEvaluator()
	if err != nil {
		panic(err)
	}
	return e
}

func newBadgeEvaluator(data []byte) (*BadgeEvaluator, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse badge catalog: %w", err)
	}

	e := &BadgeEvaluator{byID: make(map[string]Badge, len(rules))}
	for _, r := range rules {
		meta, ok := c.Badges[r.id]
		if !ok {
			return nil, fmt.Errorf("badge %q missing from catalog", r.id)
		}
		b := Badge{
			ID:          r.id,
			Name:        meta.Name,
			Description: meta.Description,
			Icon:        meta.Icon,
			Tier:        meta.Tier,
			Condition:   r.cond,
		}
		e.registry = append(e.registry, b)
		e.byID[b.ID] = b
	}
	return e, nil
}

// Registry returns a copy of all badges in discovery order.
func (e *BadgeEvaluator) Registry() []Badge {
	out := make([]Badge, len(e.registry))
	copy(out, e.registry)
	return out
}

// Lookup returns the badge with the given id.
func (e *BadgeEvaluator) Lookup(id string) (Badge, bool) {
	b, ok := e.byID[id]
	return b, ok
}

// Evaluate returns the badges that qualify on ev and are not in owned,
// in discovery order.
func (e *BadgeEvaluator) Evaluate(ev Evidence, owned []string) []Badge {
	have := make(map[string]struct{}, len(owned))
	for _, id := range owned {
		have[id] = struct{}{}
	}

	var unlocked []Badge
	for _, b := range e.registry {
		if _, ok := have[b.ID]; ok {
			continue
		}
		if b.Condition(ev) {
			unlocked = append(unlocked, b)
		}
	}
	return unlocked
}

// IDs extracts badge ids preserving order.
func IDs(badges []Badge) []string {
	ids := make([]string, len(badges))
	for i, b := range badges {
		ids[i] = b.ID
	}
	return ids
}
