package session

import (
	"math/rand"

	"github.com/schoolmaps/studyengine/internal/domain"
)

// distractors samples up to max wrong answers for the target card from its
// sibling cards, without replacement. The target card is never a source,
// and siblings sharing the target's answer text are skipped so the correct
// answer appears exactly once in the final choice set. When fewer than max
// usable siblings exist, all of them are used.
func distractors(pool []domain.Card, target domain.Card, max int, rng *rand.Rand) []string {
	siblings := make([]domain.Card, 0, len(pool))
	for _, c := range pool {
		if c.ID != target.ID && c.Answer != target.Answer {
			siblings = append(siblings, c)
		}
	}
	rng.Shuffle(len(siblings), func(i, j int) {
		siblings[i], siblings[j] = siblings[j], siblings[i]
	})
	if len(siblings) > max {
		siblings = siblings[:max]
	}
	answers := make([]string, len(siblings))
	for i, c := range siblings {
		answers[i] = c.Answer
	}
	return answers
}
