package domain

import "time"

// Default scheduling state for a card that has never been reviewed.
const (
	InitialInterval   = 0
	InitialEaseFactor = 2.5
)

// Card is a single question-answer pair with its spaced-repetition state.
// A freshly created card has Interval 0 and DueDate now (immediately due).
type Card struct {
	ID         string
	SetID      string
	Question   string
	Answer     string
	DueDate    time.Time
	Interval   int     // days until the next review
	EaseFactor float64 // SM-2 multiplier, floor 1.3
	CreatedAt  time.Time
}

// Due reports whether the card is due for review at the given time.
func (c Card) Due(now time.Time) bool {
	return !c.DueDate.After(now)
}

// Set is a named collection of cards belonging to one subject.
// CardCount is denormalized and maintained by the store on add/delete.
type Set struct {
	ID        string
	Name      string
	Subject   string
	CardCount int
	CreatedAt time.Time
}

// Mode identifies one of the three study modes.
type Mode string

const (
	ModeLearn Mode = "learn" // spaced-repetition drill over due cards
	ModeCram  Mode = "cram"  // linear ungraded review of the whole set
	ModeMC    Mode = "mc"    // multiple choice over the whole set
)

// Valid reports whether m is one of the known study modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeLearn, ModeCram, ModeMC:
		return true
	}
	return false
}

// Stats accumulates per-session results. Total is fixed at session start;
// Correct+Incorrect never exceeds Total.
type Stats struct {
	Correct   int
	Incorrect int
	Total     int
}

// Summary is what a finished session reports back to the caller.
type Summary struct {
	Stats
	Mode Mode
}
