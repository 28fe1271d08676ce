package session

import "errors"

// Sentinel errors for the session package. Check with errors.Is.
var (
	// ErrNoCards blocks session entry into a set with no cards at all.
	ErrNoCards = errors.New("session: no cards in set")

	// ErrInsufficientCards blocks multiple-choice entry when the set has
	// fewer than two cards, since no distractor can be generated.
	ErrInsufficientCards = errors.New("session: multiple choice needs at least 2 cards")

	// ErrAllLearned signals a Learn-mode entry into a set whose cards are
	// all scheduled in the future.
	ErrAllLearned = errors.New("session: no cards due")

	// ErrWrongMode is returned when an operation is invoked on a session
	// of a different study mode.
	ErrWrongMode = errors.New("session: operation not valid for this mode")
)
