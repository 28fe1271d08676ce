// Package flow models the study screens as a closed state machine.
// Transitions are exhaustive over the View enum; there is no string-keyed
// dispatch and no multi-level history, back navigation is one hop.
package flow

import (
	"errors"

	"github.com/schoolmaps/studyengine/internal/domain"
	"github.com/schoolmaps/studyengine/internal/session"
)

// View is one screen of the study flow.
type View int

const (
	Subjects View = iota
	Sets
	ModeSelection
	Manage
	Learn
	Cram
	MC
	Summary
	AllLearned
	NoCards
)

var viewNames = map[View]string{
	Subjects:      "subjects",
	Sets:          "sets",
	ModeSelection: "mode-selection",
	Manage:        "manage",
	Learn:         "learn",
	Cram:          "cram",
	MC:            "mc",
	Summary:       "summary",
	AllLearned:    "all-learned",
	NoCards:       "no-cards",
}

func (v View) String() string {
	if name, ok := viewNames[v]; ok {
		return name
	}
	return "unknown"
}

// ParseView is the inverse of String, for views arriving over the wire.
func ParseView(name string) (View, bool) {
	for v, n := range viewNames {
		if n == name {
			return v, true
		}
	}
	return Subjects, false
}

// ForMode maps a study mode to its active-session view.
func ForMode(mode domain.Mode) View {
	switch mode {
	case domain.ModeLearn:
		return Learn
	case domain.ModeCram:
		return Cram
	case domain.ModeMC:
		return MC
	}
	return ModeSelection
}

// Back returns the view one navigation level up. Every study, summary and
// terminal view returns to mode selection; mode selection and card
// management return to the set list; the set list returns to subjects.
func Back(v View) View {
	switch v {
	case Learn, Cram, MC, Summary, AllLearned, NoCards:
		return ModeSelection
	case ModeSelection, Manage:
		return Sets
	case Sets, Subjects:
		return Subjects
	}
	return Subjects
}

// RouteEntry turns a session-entry outcome into the view to show. Entry
// guards never bubble up as failures: an empty set lands on the no-cards
// view, a one-card set re-opens mode selection for multiple choice, and a
// fully scheduled set lands on the all-learned terminal view. Any other
// error is reported to the caller for user-visible messaging.
func RouteEntry(mode domain.Mode, err error) (View, error) {
	switch {
	case err == nil:
		return ForMode(mode), nil
	case errors.Is(err, session.ErrNoCards):
		return NoCards, nil
	case errors.Is(err, session.ErrInsufficientCards):
		return ModeSelection, nil
	case errors.Is(err, session.ErrAllLearned):
		return AllLearned, nil
	}
	return ModeSelection, err
}

// AfterResult maps a card-transition result to the next view, or keeps the
// session view when more cards remain.
func AfterResult(mode domain.Mode, res session.Result) View {
	switch res {
	case session.Complete:
		return Summary
	case session.AllLearned:
		return AllLearned
	}
	return ForMode(mode)
}
