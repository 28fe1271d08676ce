package srs

import (
	"math"
	"time"

	"github.com/schoolmaps/studyengine/internal/domain"
)

// easeFloor is the lower bound on a card's ease factor. Repeated failures
// shrink the ease factor but never push it below this value.
const easeFloor = 1.3

// easePenalty is subtracted from the ease factor on a failed review.
const easePenalty = 0.2

// Outcome is the binary feedback signal for a Learn-mode review.
type Outcome bool

const (
	Knew       Outcome = true
	DidNotKnow Outcome = false
)

// State is a card's scheduling state, decoupled from the rest of the card.
type State struct {
	Interval   int
	EaseFactor float64
	DueDate    time.Time
}

// Review computes the next scheduling state for a card with the given
// interval and ease factor, following a simplified SM-2 rule.
//
// On success the interval steps 0→1, 1→6, then grows by ceil(interval×ease)
// with the ease factor unchanged. On failure the interval resets to 1 and
// the ease factor drops by 0.2, floored at 1.3. The new due date is now
// advanced by the new interval in whole days.
func Review(interval int, easeFactor float64, outcome Outcome, now time.Time) State {
	if easeFactor == 0 {
		easeFactor = domain.InitialEaseFactor
	}

	var next State
	if outcome == Knew {
		switch {
		case interval <= 0:
			next.Interval = 1
		case interval == 1:
			next.Interval = 6
		default:
			next.Interval = int(math.Ceil(float64(interval) * easeFactor))
		}
		next.EaseFactor = easeFactor
	} else {
		// Failed cards come back tomorrow and get a little harder to grow.
		next.Interval = 1
		next.EaseFactor = math.Max(easeFloor, easeFactor-easePenalty)
	}

	next.DueDate = now.AddDate(0, 0, next.Interval)
	return next
}

// Reset returns the scheduling state of a brand-new card: immediately due,
// interval 0, default ease factor.
func Reset(now time.Time) State {
	return State{
		Interval:   domain.InitialInterval,
		EaseFactor: domain.InitialEaseFactor,
		DueDate:    now,
	}
}
