package session

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/schoolmaps/studyengine/internal/domain"
	"github.com/schoolmaps/studyengine/internal/srs"
	"github.com/schoolmaps/studyengine/internal/store"
)

// defaultBatchSize caps a Learn-mode session: due cards are studied in
// chunks of this many, not all at once.
const defaultBatchSize = 20

// maxDistractors is the number of wrong answers sampled per multiple-choice
// card, for four choices total when the set is large enough.
const maxDistractors = 3

// Result tells the caller what to do after a card transition.
type Result int

const (
	// Next means more cards remain in the session queue.
	Next Result = iota
	// Complete means the queue drained; show the session summary.
	Complete
	// AllLearned means a Learn session drained and the store has no due
	// cards left for the set.
	AllLearned
)

// Config configures an Engine. Zero values produce sensible defaults.
type Config struct {
	BatchSize int              // zero → 20
	Now       func() time.Time // nil → time.Now
	Rand      *rand.Rand       // nil → seeded from wall clock
}

// Engine builds study sessions over a card store.
type Engine struct {
	store     store.CardStore
	batchSize int
	now       func() time.Time
	rng       *rand.Rand
}

// NewEngine creates an Engine from the given config.
func NewEngine(cs store.CardStore, cfg Config) *Engine {
	batch := cfg.BatchSize
	if batch == 0 {
		batch = defaultBatchSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{store: cs, batchSize: batch, now: now, rng: rng}
}

// Session is one bounded run through a subset of a set's cards.
//
// The card snapshot is taken once at session start; later store changes
// apply to the next session, never mid-session. A Session is not safe for
// concurrent use; the caller serializes card transitions.
type Session struct {
	engine *Engine
	mode   domain.Mode
	setID  string

	queue   []domain.Card // cards remaining, front is current
	all     []domain.Card // mc only: distractor pool
	choices []string      // mc only: current card's shuffled choices

	stats domain.Stats
	last  Result // terminal result once the queue drains
	done  bool
}

// EnterMode starts a session for the given set and mode.
//
// Entry guards run before any queue is built: an empty set returns
// ErrNoCards for every mode, multiple choice returns ErrInsufficientCards
// below two cards, and Learn returns ErrAllLearned when nothing is due.
func (e *Engine) EnterMode(ctx context.Context, setID string, mode domain.Mode) (*Session, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("session: unknown mode %q", mode)
	}

	set, err := e.store.GetSet(ctx, setID)
	if err != nil {
		return nil, err
	}
	if set.CardCount == 0 {
		return nil, ErrNoCards
	}

	s := &Session{engine: e, mode: mode, setID: setID}

	switch mode {
	case domain.ModeLearn:
		due, err := e.store.QueryDue(ctx, setID, e.now(), e.batchSize)
		if err != nil {
			return nil, err
		}
		if len(due) == 0 {
			return nil, ErrAllLearned
		}
		// The due query ordered by urgency; presentation order is shuffled
		// so the earliest-due cards get no positional preference.
		e.shuffleCards(due)
		s.queue = due

	case domain.ModeCram, domain.ModeMC:
		all, err := e.store.QueryAll(ctx, setID)
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return nil, ErrNoCards
		}
		if mode == domain.ModeMC {
			if len(all) < 2 {
				return nil, ErrInsufficientCards
			}
			s.all = all
		}
		queue := make([]domain.Card, len(all))
		copy(queue, all)
		e.shuffleCards(queue)
		s.queue = queue
	}

	s.stats.Total = len(s.queue)
	if s.mode == domain.ModeMC {
		s.buildChoices()
	}
	return s, nil
}

// ResetProgress puts every card of a set back to the freshly-created
// scheduling state in one atomic commit. Idempotent.
func (e *Engine) ResetProgress(ctx context.Context, setID string) error {
	cards, err := e.store.QueryAll(ctx, setID)
	if err != nil {
		return err
	}
	fresh := srs.Reset(e.now())
	upds := make([]store.CardUpdate, 0, len(cards))
	for _, c := range cards {
		upds = append(upds, store.SchedulingUpdate(c.ID, fresh.Interval, fresh.EaseFactor, fresh.DueDate))
	}
	return e.store.BatchUpdate(ctx, setID, upds)
}

// Mode returns the session's study mode.
func (s *Session) Mode() domain.Mode { return s.mode }

// Current returns the card at the front of the queue, if any.
func (s *Session) Current() (domain.Card, bool) {
	if s.done || len(s.queue) == 0 {
		return domain.Card{}, false
	}
	return s.queue[0], true
}

// Remaining returns how many cards are left in the queue.
func (s *Session) Remaining() int { return len(s.queue) }

// Choices returns the shuffled answer choices for the current card.
// Only meaningful for multiple-choice sessions.
func (s *Session) Choices() []string { return s.choices }

// Summary reports the session's accumulated stats.
func (s *Session) Summary() domain.Summary {
	return domain.Summary{Stats: s.stats, Mode: s.mode}
}

// SubmitFeedback records a Learn-mode recall result for the current card.
//
// The scheduler output is persisted before the queue advances; if the write
// fails the session is untouched and the same feedback may be resubmitted.
// Failed cards are rescheduled for tomorrow, not retried this session.
// Feedback with no current card is a no-op.
func (s *Session) SubmitFeedback(ctx context.Context, knewIt bool) (Result, error) {
	if s.mode != domain.ModeLearn {
		return s.last, ErrWrongMode
	}
	card, ok := s.Current()
	if !ok {
		// Stale UI state, e.g. a double-tap after the last card.
		return s.last, nil
	}

	next := srs.Review(card.Interval, card.EaseFactor, srs.Outcome(knewIt), s.engine.now())
	upd := store.SchedulingUpdate(card.ID, next.Interval, next.EaseFactor, next.DueDate)
	if err := s.engine.store.UpdateCard(ctx, s.setID, upd); err != nil {
		return Next, err
	}

	if knewIt {
		s.stats.Correct++
	} else {
		s.stats.Incorrect++
	}
	s.queue = s.queue[1:]

	if len(s.queue) > 0 {
		return Next, nil
	}
	return s.finishLearn(ctx)
}

// finishLearn decides between the summary and the all-learned terminal
// state by re-querying the store, since the session batch may have been
// capped below the full due count.
func (s *Session) finishLearn(ctx context.Context) (Result, error) {
	s.done = true
	due, err := s.engine.store.QueryDue(ctx, s.setID, s.engine.now(), 1)
	if err != nil {
		// The set may have been deleted mid-session; the session is over
		// either way, the caller decides how to surface the error.
		s.last = Complete
		return Complete, err
	}
	if len(due) == 0 {
		s.last = AllLearned
	} else {
		s.last = Complete
	}
	return s.last, nil
}

// Advance moves a Cram session to the next card. Cram is ungraded: every
// advance counts as correct, so a finished session always reports a full
// score. Advancing past the end is a no-op.
func (s *Session) Advance() (Result, error) {
	if s.mode != domain.ModeCram {
		return s.last, ErrWrongMode
	}
	if _, ok := s.Current(); !ok {
		return s.last, nil
	}
	s.stats.Correct++
	s.queue = s.queue[1:]
	if len(s.queue) > 0 {
		return Next, nil
	}
	s.done = true
	s.last = Complete
	return Complete, nil
}

// SubmitChoice records a multiple-choice answer for the current card.
// The first pick is terminal: the queue advances immediately and the
// choice set is rebuilt for the next card. Scheduling state is never
// touched. A pick with no current card is a no-op.
func (s *Session) SubmitChoice(choice string) (correct bool, res Result, err error) {
	if s.mode != domain.ModeMC {
		return false, s.last, ErrWrongMode
	}
	card, ok := s.Current()
	if !ok {
		return false, s.last, nil
	}

	correct = choice == card.Answer
	if correct {
		s.stats.Correct++
	} else {
		s.stats.Incorrect++
	}
	s.queue = s.queue[1:]

	if len(s.queue) == 0 {
		s.done = true
		s.last = Complete
		s.choices = nil
		return correct, Complete, nil
	}
	s.buildChoices()
	return correct, Next, nil
}

// buildChoices samples distractors for the current card and shuffles them
// together with the correct answer.
func (s *Session) buildChoices() {
	card, ok := s.Current()
	if !ok {
		s.choices = nil
		return
	}
	wrong := distractors(s.all, card, maxDistractors, s.engine.rng)
	choices := append(wrong, card.Answer)
	s.engine.rng.Shuffle(len(choices), func(i, j int) {
		choices[i], choices[j] = choices[j], choices[i]
	})
	s.choices = choices
}

func (e *Engine) shuffleCards(cards []domain.Card) {
	e.rng.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
}
