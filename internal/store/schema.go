package store

const schema = `
-- 'sets' groups flashcards by subject. card_count is denormalized and kept
-- in step with the cards table inside every write transaction.
CREATE TABLE IF NOT EXISTS sets (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    subject TEXT NOT NULL,
    card_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
);

-- 'cards' holds each flashcard and its scheduling state. A new card is
-- immediately due: interval 0, ease_factor 2.5, due_date = insert time.
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    set_id TEXT NOT NULL,
    question TEXT NOT NULL,
    answer TEXT NOT NULL,
    due_date DATETIME NOT NULL,
    interval INTEGER NOT NULL DEFAULT 0,
    ease_factor REAL NOT NULL DEFAULT 2.5,
    created_at DATETIME NOT NULL,

    FOREIGN KEY(set_id) REFERENCES sets(id)
);

CREATE INDEX IF NOT EXISTS idx_cards_set_due ON cards(set_id, due_date);
CREATE INDEX IF NOT EXISTS idx_sets_subject ON sets(subject);
`
