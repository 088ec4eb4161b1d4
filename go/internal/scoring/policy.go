// Package scoring holds the injectable scoring policy. The exact point
// formula is a product decision, so the engines take a Policy rather than
// hard-coding one.
package scoring

import (
	"time"
)

// Policy computes the points awarded for one answered question.
type Policy interface {
	// Score returns the points for an answer. timeSpent is how long the
	// answerer took, limit is the full time allowed for the question
	// (zero when no deadline applies, e.g. challenge mode).
	Score(correct bool, timeSpent, limit time.Duration) int
}

// Standard awards a flat amount per correct answer plus a linear time bonus
// that decays to zero at the deadline.
type Standard struct {
	PointsPerCorrect int `yaml:"points_per_correct"`
	MaxTimeBonus     int `yaml:"max_time_bonus"`
}

// DefaultStandard is the policy used when the config names none.
func DefaultStandard() Standard {
	return Standard{PointsPerCorrect: 10, MaxTimeBonus: 5}
}

func (p Standard) Score(correct bool, timeSpent, limit time.Duration) int {
	if !correct {
		return 0
	}
	points := p.PointsPerCorrect
	if limit > 0 && timeSpent >= 0 && timeSpent < limit {
		remaining := float64(limit-timeSpent) / float64(limit)
		points += int(remaining * float64(p.MaxTimeBonus))
	}
	return points
}
