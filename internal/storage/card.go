package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/examcards/internal/domain"
)

const cardColumns = `id, exam_id, topic, front, back, is_active, source_id, created_at`

func scanCard(row interface{ Scan(...any) error }) (domain.Card, error) {
	var (
		c        domain.Card
		sourceID sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.ExamID, &c.Topic, &c.Front, &c.Back, &c.Active, &sourceID, &c.CreatedAt)
	c.SourceID = sourceID.Int64
	return c, err
}

func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// InsertCard inserts a new, active card into the database.
func (db *DB) InsertCard(ctx context.Context, card domain.Card, sourceID int64) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(`
		INSERT INTO cards (`+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		card.ID,
		card.ExamID,
		card.Topic,
		card.Front,
		card.Back,
		true,
		nullableID(sourceID),
		utc(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert card %s: %w", card.ID, err)
	}
	return nil
}

// FindCard retrieves a card by its id. It returns nil, nil when the card does not exist.
func (db *DB) FindCard(ctx context.Context, id string) (*domain.Card, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT `+cardColumns+` FROM cards WHERE id = ?
	`), id)

	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Card not found
		}
		return nil, fmt.Errorf("failed to find card %s: %w", id, err)
	}
	return &c, nil
}

// ActivateCard marks a previously deactivated card active again under sourceID.
func (db *DB) ActivateCard(ctx context.Context, id string, sourceID int64) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE cards SET is_active = ?, source_id = ? WHERE id = ?
	`), true, nullableID(sourceID), id)
	if err != nil {
		return fmt.Errorf("failed to activate card %s: %w", id, err)
	}
	return nil
}

// DeactivateCard hides a card from future card pools. Its review states are kept.
func (db *DB) DeactivateCard(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE cards SET is_active = ? WHERE id = ?
	`), false, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate card %s: %w", id, err)
	}
	return nil
}

// GetCardsBySourceID retrieves all active cards associated with a specific source ID.
func (db *DB) GetCardsBySourceID(ctx context.Context, sourceID int64) ([]domain.Card, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT `+cardColumns+` FROM cards WHERE source_id = ? AND is_active = ?
	`), sourceID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for source ID %d: %w", sourceID, err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row for source ID %d: %w", sourceID, err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// ActiveCardIDs resolves an exam to its card pool, in creation order.
func (db *DB) ActiveCardIDs(ctx context.Context, examID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT id FROM cards
		WHERE exam_id = ? AND is_active = ?
		ORDER BY created_at ASC, id ASC
	`), examID, true)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get card pool for exam %s: %w", domain.ErrStorage, examID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: failed to scan card id: %w", domain.ErrStorage, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetCards retrieves the cards with the given ids, keyed by id.
func (db *DB) GetCards(ctx context.Context, ids []string) (map[string]domain.Card, error) {
	cards := make(map[string]domain.Card, len(ids))
	for _, chunk := range chunks(ids) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := db.conn.QueryContext(ctx, db.rebind(`
			SELECT `+cardColumns+` FROM cards WHERE id IN (`+placeholders(len(chunk))+`)
		`), args...)
		if err != nil {
			return nil, fmt.Errorf("failed to get cards: %w", err)
		}
		for rows.Next() {
			c, err := scanCard(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan card row: %w", err)
			}
			cards[c.ID] = c
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate cards: %w", err)
		}
	}
	return cards, nil
}
