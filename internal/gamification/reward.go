package gamification

import "fmt"

// BasePageXP is paid for every forward page turn.
const BasePageXP = 10

// Milestone is a completion threshold that pays a one-off bonus.
type Milestone struct {
	Percent int    `json:"percent"`
	Bonus   int    `json:"bonus"`
	Label   string `json:"label"`
}

// Milestones in ascending order.
var Milestones = []Milestone{
	{Percent: 25, Bonus: 50, Label: "25% Complete"},
	{Percent: 50, Bonus: 75, Label: "50% Complete"},
	{Percent: 75, Bonus: 100, Label: "75% Complete"},
	{Percent: 100, Bonus: 200, Label: "Document Complete"},
}

// Reward is the XP produced by a single forward page turn.
type Reward struct {
	XPDelta int `json:"xp_delta"`
	// MilestoneLabel is the label of the highest milestone crossed, empty if none.
	MilestoneLabel string      `json:"milestone_label,omitempty"`
	Milestones     []Milestone `json:"milestones,omitempty"`
}

func (r Reward) String() string {
	if r.MilestoneLabel == "" {
		return fmt.Sprintf("+%d XP", r.XPDelta)
	}
	return fmt.Sprintf("+%d XP (%s)", r.XPDelta, r.MilestoneLabel)
}

// crossed reports whether moving from prev to next pages crosses pct percent
// of total. Integer math keeps 5/20 exactly at 25%.
func crossed(prev, next, total, pct int) bool {
	return next*100 >= pct*total && prev*100 < pct*total
}

// CalculateReward computes the XP for turning from prevPage to newPage.
// An unknown page count or a turn that did not advance yields the zero Reward.
func CalculateReward(prevPage, newPage, total int) Reward {
	if total <= 0 || newPage <= prevPage {
		return Reward{}
	}

	r := Reward{XPDelta: BasePageXP}
	for _, m := range Milestones {
		if crossed(prevPage, newPage, total, m.Percent) {
			r.XPDelta += m.Bonus
			r.MilestoneLabel = m.Label
			r.Milestones = append(r.Milestones, m)
		}
	}
	return r
}

// Without drops milestones already paid out and recomputes the delta.
func (r Reward) Without(paid []int) Reward {
	if len(r.Milestones) == 0 || len(paid) == 0 {
		return r
	}
	seen := make(map[int]bool, len(paid))
	for _, p := range paid {
		seen[p] = true
	}

	out := Reward{XPDelta: BasePageXP}
	for _, m := range r.Milestones {
		if seen[m.Percent] {
			continue
		}
		out.XPDelta += m.Bonus
		out.MilestoneLabel = m.Label
		out.Milestones = append(out.Milestones, m)
	}
	return out
}
