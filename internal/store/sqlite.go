package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Registers the sqlite driver

	"github.com/schoolmaps/studyengine/internal/domain"
)

// Config configures a DB. Zero values produce sensible defaults.
type Config struct {
	Now func() time.Time // creation timestamps and due dates, nil → time.Now
}

// DB is a CardStore backed by SQLite.
type DB struct {
	conn *sql.DB
	now  func() time.Time

	mu     sync.Mutex
	subs   map[string]map[int]chan []domain.Card // setID -> subID -> channel
	nextID int
}

var _ CardStore = (*DB)(nil)

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	return OpenConfig(dsn, Config{})
}

// OpenConfig is Open with an explicit config, letting callers inject the
// clock new rows are stamped with so it can match the session engine's.
func OpenConfig(dsn string, cfg Config) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &DB{
		conn: conn,
		now:  now,
		subs: make(map[string]map[int]chan []domain.Card),
	}, nil
}

// Close closes the database connection and all open subscriptions.
func (db *DB) Close() error {
	db.mu.Lock()
	for setID, chans := range db.subs {
		for id, ch := range chans {
			close(ch)
			delete(chans, id)
		}
		delete(db.subs, setID)
	}
	db.mu.Unlock()
	return db.conn.Close()
}

// QueryDue returns a set's due cards ordered by due date ascending.
func (db *DB) QueryDue(ctx context.Context, setID string, now time.Time, limit int) ([]domain.Card, error) {
	if err := db.checkSet(ctx, setID); err != nil {
		return nil, err
	}
	q := `
		SELECT id, set_id, question, answer, due_date, interval, ease_factor, created_at
		FROM cards WHERE set_id = ? AND due_date <= ?
		ORDER BY due_date ASC
	`
	args := []interface{}{setID, now}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query due cards for set %s: %w", setID, err)
	}
	defer rows.Close()
	return scanCards(rows)
}

// QueryAll returns every card of a set.
func (db *DB) QueryAll(ctx context.Context, setID string) ([]domain.Card, error) {
	if err := db.checkSet(ctx, setID); err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, set_id, question, answer, due_date, interval, ease_factor, created_at
		FROM cards WHERE set_id = ?
	`, setID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards for set %s: %w", setID, err)
	}
	defer rows.Close()
	return scanCards(rows)
}

// UpdateCard applies a partial update to one card, leaving unset fields alone.
func (db *DB) UpdateCard(ctx context.Context, setID string, upd CardUpdate) error {
	set, args := buildUpdate(upd)
	if len(set) == 0 {
		return nil
	}
	args = append(args, upd.CardID, setID)
	res, err := db.conn.ExecContext(ctx,
		"UPDATE cards SET "+strings.Join(set, ", ")+" WHERE id = ? AND set_id = ?",
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to update card %s: %w", upd.CardID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for card %s: %w", upd.CardID, err)
	}
	if n == 0 {
		if err := db.checkSet(ctx, setID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrCardNotFound, upd.CardID)
	}
	db.notify(ctx, setID)
	return nil
}

// BatchUpdate applies several partial updates in one transaction.
func (db *DB) BatchUpdate(ctx context.Context, setID string, upds []CardUpdate) error {
	if len(upds) == 0 {
		return nil
	}
	if err := db.checkSet(ctx, setID); err != nil {
		return err
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch update for set %s: %w", setID, err)
	}
	defer tx.Rollback()

	for _, upd := range upds {
		set, args := buildUpdate(upd)
		if len(set) == 0 {
			continue
		}
		args = append(args, upd.CardID, setID)
		if _, err := tx.ExecContext(ctx,
			"UPDATE cards SET "+strings.Join(set, ", ")+" WHERE id = ? AND set_id = ?",
			args...,
		); err != nil {
			return fmt.Errorf("failed to batch-update card %s: %w", upd.CardID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch update for set %s: %w", setID, err)
	}
	db.notify(ctx, setID)
	return nil
}

// Subscribe registers a snapshot channel for a set. The channel is buffered;
// when the consumer lags, older snapshots are dropped in favor of the latest.
func (db *DB) Subscribe(setID string) (<-chan []domain.Card, func()) {
	ch := make(chan []domain.Card, 1)

	db.mu.Lock()
	id := db.nextID
	db.nextID++
	if db.subs[setID] == nil {
		db.subs[setID] = make(map[int]chan []domain.Card)
	}
	db.subs[setID][id] = ch
	db.mu.Unlock()

	cancel := func() {
		db.mu.Lock()
		defer db.mu.Unlock()
		if c, ok := db.subs[setID][id]; ok {
			delete(db.subs[setID], id)
			close(c)
		}
	}
	return ch, cancel
}

// GetSet returns a set by ID.
func (db *DB) GetSet(ctx context.Context, setID string) (*domain.Set, error) {
	var s domain.Set
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, name, subject, card_count, created_at
		FROM sets WHERE id = ?
	`, setID)
	err := row.Scan(&s.ID, &s.Name, &s.Subject, &s.CardCount, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrSetNotFound, setID)
		}
		return nil, fmt.Errorf("failed to find set %s: %w", setID, err)
	}
	return &s, nil
}

// ListSets returns the sets for a subject, newest first.
func (db *DB) ListSets(ctx context.Context, subject string) ([]domain.Set, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, subject, card_count, created_at
		FROM sets WHERE subject = ?
		ORDER BY created_at DESC
	`, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to list sets for subject %s: %w", subject, err)
	}
	defer rows.Close()

	var sets []domain.Set
	for rows.Next() {
		var s domain.Set
		if err := rows.Scan(&s.ID, &s.Name, &s.Subject, &s.CardCount, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan set row: %w", err)
		}
		sets = append(sets, s)
	}
	return sets, rows.Err()
}

// CreateSet inserts an empty set.
func (db *DB) CreateSet(ctx context.Context, name, subject string) (*domain.Set, error) {
	s := domain.Set{
		ID:        uuid.NewString(),
		Name:      name,
		Subject:   subject,
		CreatedAt: db.now(),
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sets (id, name, subject, card_count, created_at)
		VALUES (?, ?, ?, 0, ?)
	`, s.ID, s.Name, s.Subject, s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert set %s: %w", name, err)
	}
	return &s, nil
}

// DeleteSet removes a set and all of its cards in one transaction.
func (db *DB) DeleteSet(ctx context.Context, setID string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete for set %s: %w", setID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE set_id = ?`, setID); err != nil {
		return fmt.Errorf("failed to delete cards of set %s: %w", setID, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sets WHERE id = ?`, setID)
	if err != nil {
		return fmt.Errorf("failed to delete set %s: %w", setID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result for set %s: %w", setID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSetNotFound, setID)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete for set %s: %w", setID, err)
	}
	db.notify(ctx, setID)
	return nil
}

// AddCards inserts cards with fresh scheduling state and bumps the set's
// card count inside the same transaction.
func (db *DB) AddCards(ctx context.Context, setID string, cards []NewCard) ([]domain.Card, error) {
	if err := db.checkSet(ctx, setID); err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin insert for set %s: %w", setID, err)
	}
	defer tx.Rollback()

	now := db.now()
	inserted := make([]domain.Card, 0, len(cards))
	for _, nc := range cards {
		c := domain.Card{
			ID:         uuid.NewString(),
			SetID:      setID,
			Question:   nc.Question,
			Answer:     nc.Answer,
			DueDate:    now,
			Interval:   domain.InitialInterval,
			EaseFactor: domain.InitialEaseFactor,
			CreatedAt:  now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cards (id, set_id, question, answer, due_date, interval, ease_factor, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, c.SetID, c.Question, c.Answer, c.DueDate, c.Interval, c.EaseFactor, c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to insert card into set %s: %w", setID, err)
		}
		inserted = append(inserted, c)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sets SET card_count = card_count + ? WHERE id = ?
	`, len(inserted), setID); err != nil {
		return nil, fmt.Errorf("failed to bump card count for set %s: %w", setID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit insert for set %s: %w", setID, err)
	}
	db.notify(ctx, setID)
	return inserted, nil
}

// checkSet translates a missing set row into ErrSetNotFound.
func (db *DB) checkSet(ctx context.Context, setID string) error {
	var one int
	err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM sets WHERE id = ?`, setID).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrSetNotFound, setID)
	}
	if err != nil {
		return fmt.Errorf("failed to check set %s: %w", setID, err)
	}
	return nil
}

// notify pushes the current card snapshot to every subscriber of a set.
// Delivery is latest-wins: a full channel is drained before the new
// snapshot goes in, so writers never block on slow consumers.
func (db *DB) notify(ctx context.Context, setID string) {
	db.mu.Lock()
	chans := make([]chan []domain.Card, 0, len(db.subs[setID]))
	for _, ch := range db.subs[setID] {
		chans = append(chans, ch)
	}
	db.mu.Unlock()
	if len(chans) == 0 {
		return
	}

	snapshot, err := db.QueryAll(ctx, setID)
	if err != nil {
		// The set may have just been deleted; subscribers see an empty snapshot.
		if errors.Is(err, ErrSetNotFound) {
			snapshot = nil
		} else {
			slog.Warn("failed to snapshot set for subscribers", "set_id", setID, "error", err)
			return
		}
	}
	for _, ch := range chans {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

func buildUpdate(upd CardUpdate) ([]string, []interface{}) {
	var set []string
	var args []interface{}
	if upd.Question != nil {
		set = append(set, "question = ?")
		args = append(args, *upd.Question)
	}
	if upd.Answer != nil {
		set = append(set, "answer = ?")
		args = append(args, *upd.Answer)
	}
	if upd.DueDate != nil {
		set = append(set, "due_date = ?")
		args = append(args, *upd.DueDate)
	}
	if upd.Interval != nil {
		set = append(set, "interval = ?")
		args = append(args, *upd.Interval)
	}
	if upd.EaseFactor != nil {
		set = append(set, "ease_factor = ?")
		args = append(args, *upd.EaseFactor)
	}
	return set, args
}

func scanCards(rows *sql.Rows) ([]domain.Card, error) {
	var cards []domain.Card
	for rows.Next() {
		var c domain.Card
		if err := rows.Scan(
			&c.ID,
			&c.SetID,
			&c.Question,
			&c.Answer,
			&c.DueDate,
			&c.Interval,
			&c.EaseFactor,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}
