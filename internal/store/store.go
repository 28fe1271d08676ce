package store

import (
	"context"
	"errors"
	"time"

	"github.com/schoolmaps/studyengine/internal/domain"
)

// Sentinel errors for the store package. Check with errors.Is.
var (
	ErrSetNotFound  = errors.New("store: set not found")
	ErrCardNotFound = errors.New("store: card not found")
)

// CardUpdate is a partial update of a single card. Nil fields are left
// untouched by UpdateCard and BatchUpdate.
type CardUpdate struct {
	CardID     string
	Question   *string
	Answer     *string
	DueDate    *time.Time
	Interval   *int
	EaseFactor *float64
}

// SchedulingUpdate builds a CardUpdate touching only the scheduling fields.
func SchedulingUpdate(cardID string, interval int, easeFactor float64, dueDate time.Time) CardUpdate {
	return CardUpdate{
		CardID:     cardID,
		Interval:   &interval,
		EaseFactor: &easeFactor,
		DueDate:    &dueDate,
	}
}

// NewCard is the payload for inserting a card. Scheduling state is assigned
// by the store: new cards are immediately due with default ease.
type NewCard struct {
	Question string
	Answer   string
}

// CardStore is the document-store contract the study engine consumes.
//
// Implementations must keep each set's denormalized card count equal to the
// true number of child cards, and must apply BatchUpdate atomically.
type CardStore interface {
	// QueryDue returns the cards of a set due at or before now, ordered by
	// due date ascending, capped at limit (limit <= 0 means no cap).
	QueryDue(ctx context.Context, setID string, now time.Time, limit int) ([]domain.Card, error)

	// QueryAll returns every card of a set, in no particular order.
	QueryAll(ctx context.Context, setID string) ([]domain.Card, error)

	// UpdateCard applies a partial update to one card. Unset fields are
	// not clobbered.
	UpdateCard(ctx context.Context, setID string, upd CardUpdate) error

	// BatchUpdate applies partial updates to several cards in one atomic
	// commit. Either every update lands or none does.
	BatchUpdate(ctx context.Context, setID string, upds []CardUpdate) error

	// Subscribe registers for full-snapshot pushes of a set's cards. Each
	// committed write to the set delivers the current card list on the
	// returned channel; slow consumers may miss intermediate snapshots.
	// The cancel func releases the subscription and closes the channel.
	Subscribe(setID string) (<-chan []domain.Card, func())

	// GetSet returns a set by ID, or ErrSetNotFound.
	GetSet(ctx context.Context, setID string) (*domain.Set, error)

	// ListSets returns the sets tagged with a subject, newest first.
	ListSets(ctx context.Context, subject string) ([]domain.Set, error)

	// CreateSet creates an empty set and returns it.
	CreateSet(ctx context.Context, name, subject string) (*domain.Set, error)

	// DeleteSet removes a set and all of its cards in one commit.
	DeleteSet(ctx context.Context, setID string) error

	// AddCards inserts cards into a set with fresh scheduling state and
	// bumps the set's card count in the same commit.
	AddCards(ctx context.Context, setID string, cards []NewCard) ([]domain.Card, error)
}
