package gamification

import (
	"fmt"
	"math"
	"strings"
)

// Direction of a page turn.
type Direction int

const (
	Backward Direction = -1
	Forward  Direction = 1
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// ParseDirection accepts the values sent by the reader UI.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward", "next":
		return Forward, nil
	case "backward", "prev", "previous":
		return Backward, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// NextPage moves current one page in dir, bounded to [1, total].
// moved is false when the turn was rejected: forward past the last page,
// backward before the first one, or a document whose page count is unknown.
func NextPage(current int, dir Direction, total int) (page int, moved bool) {
	if total <= 0 {
		return current, false
	}
	if dir == Forward && current >= total {
		return current, false
	}

	next := current + int(dir)
	if next < 1 {
		next = 1
	}
	if next > total {
		next = total
	}
	return next, next != current
}

// CompletionPercentage is round(page/total*100), clamped to 0..100.
func CompletionPercentage(page, total int) int {
	if total <= 0 || page <= 0 {
		return 0
	}
	pct := int(math.Round(float64(page) / float64(total) * 100))
	if pct > 100 {
		return 100
	}
	return pct
}

// CompletionRatio is page/total in the 0..1 range, 0 when total is unknown.
func CompletionRatio(page, total int) float64 {
	if total <= 0 || page <= 0 {
		return 0
	}
	r := float64(page) / float64(total)
	if r > 1 {
		return 1
	}
	return r
}
