package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/conorfennell/examcards/internal/domain"
)

const reviewStateColumns = `learner_id, card_id, mastery_level, review_count, next_review_at, updated_at`

func scanReviewState(row interface{ Scan(...any) error }) (domain.ReviewState, error) {
	var s domain.ReviewState
	err := row.Scan(&s.LearnerID, &s.CardID, &s.MasteryLevel, &s.ReviewCount, &s.NextReviewAt, &s.UpdatedAt)
	s.NextReviewAt = s.NextReviewAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, err
}

// Get retrieves the review state for a pair. A missing record is reported as unseen.
func (db *DB) Get(ctx context.Context, learnerID, cardID string) (domain.Progress, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT `+reviewStateColumns+`
		FROM review_states WHERE learner_id = ? AND card_id = ?
	`), learnerID, cardID)

	s, err := scanReviewState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Unseen(), nil
		}
		return domain.Progress{}, fmt.Errorf("%w: failed to get review state for card %s: %w", domain.ErrStorage, cardID, err)
	}
	return domain.Reviewed(s), nil
}

// Upsert creates or replaces the state for a pair in a single statement. The write is
// rejected with domain.ErrStaleWrite unless the stored review count is exactly one less
// than state.ReviewCount (zero when absent).
func (db *DB) Upsert(ctx context.Context, state domain.ReviewState) error {
	if state.ReviewCount < 1 {
		return fmt.Errorf("%w: review count must be positive, got %d", domain.ErrInvalidInput, state.ReviewCount)
	}

	var (
		res sql.Result
		err error
	)
	if state.ReviewCount == 1 {
		res, err = db.conn.ExecContext(ctx, db.rebind(`
			INSERT INTO review_states (`+reviewStateColumns+`)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (learner_id, card_id) DO NOTHING
		`),
			state.LearnerID,
			state.CardID,
			state.MasteryLevel,
			state.ReviewCount,
			utc(state.NextReviewAt),
			utc(state.UpdatedAt),
		)
	} else {
		res, err = db.conn.ExecContext(ctx, db.rebind(`
			UPDATE review_states
			SET mastery_level = ?, review_count = ?, next_review_at = ?, updated_at = ?
			WHERE learner_id = ? AND card_id = ? AND review_count = ?
		`),
			state.MasteryLevel,
			state.ReviewCount,
			utc(state.NextReviewAt),
			utc(state.UpdatedAt),
			state.LearnerID,
			state.CardID,
			state.ReviewCount-1,
		)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to upsert review state for card %s: %w", domain.ErrStorage, state.CardID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to read affected rows for card %s: %w", domain.ErrStorage, state.CardID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %w: card %s was modified since review count %d",
			domain.ErrStorage, domain.ErrStaleWrite, state.CardID, state.ReviewCount-1)
	}
	return nil
}

// FindDue returns states in pool whose next review is at or before now,
// most overdue first, capped at limit.
func (db *DB) FindDue(ctx context.Context, learnerID string, pool []string, now time.Time, limit int) ([]domain.ReviewState, error) {
	if limit <= 0 || len(pool) == 0 {
		return nil, nil
	}

	var due []domain.ReviewState
	for _, chunk := range chunks(pool) {
		args := make([]any, 0, len(chunk)+3)
		args = append(args, learnerID, utc(now))
		for _, id := range chunk {
			args = append(args, id)
		}
		args = append(args, limit)

		rows, err := db.conn.QueryContext(ctx, db.rebind(`
			SELECT `+reviewStateColumns+`
			FROM review_states
			WHERE learner_id = ? AND next_review_at <= ? AND card_id IN (`+placeholders(len(chunk))+`)
			ORDER BY next_review_at ASC, card_id ASC
			LIMIT ?
		`), args...)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to find due cards for learner %s: %w", domain.ErrStorage, learnerID, err)
		}
		for rows.Next() {
			s, err := scanReviewState(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("%w: failed to scan review state row: %w", domain.ErrStorage, err)
			}
			due = append(due, s)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to iterate due cards: %w", domain.ErrStorage, err)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		if !due[i].NextReviewAt.Equal(due[j].NextReviewAt) {
			return due[i].NextReviewAt.Before(due[j].NextReviewAt)
		}
		return due[i].CardID < due[j].CardID
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// FindUnseen returns ids in pool that have no review state for learnerID and are
// not excluded, preserving pool order, capped at limit.
func (db *DB) FindUnseen(ctx context.Context, learnerID string, pool, exclude []string, limit int) ([]string, error) {
	if limit <= 0 || len(pool) == 0 {
		return nil, nil
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	for _, chunk := range chunks(pool) {
		args := make([]any, 0, len(chunk)+1)
		args = append(args, learnerID)
		for _, id := range chunk {
			args = append(args, id)
		}

		rows, err := db.conn.QueryContext(ctx, db.rebind(`
			SELECT card_id FROM review_states
			WHERE learner_id = ? AND card_id IN (`+placeholders(len(chunk))+`)
		`), args...)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to find seen cards for learner %s: %w", domain.ErrStorage, learnerID, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("%w: failed to scan card id: %w", domain.ErrStorage, err)
			}
			skip[id] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to iterate seen cards: %w", domain.ErrStorage, err)
		}
	}

	var unseen []string
	for _, id := range pool {
		if len(unseen) == limit {
			break
		}
		if _, ok := skip[id]; ok {
			continue
		}
		skip[id] = struct{}{}
		unseen = append(unseen, id)
	}
	return unseen, nil
}

// AppendReviewLog records a review event in the audit trail.
func (db *DB) AppendReviewLog(ctx context.Context, entry domain.ReviewLog) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(`
		INSERT INTO review_log (id, learner_id, card_id, quality, mastery_before, mastery_after, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`),
		entry.ID,
		entry.LearnerID,
		entry.CardID,
		int(entry.Quality),
		entry.MasteryBefore,
		entry.MasteryAfter,
		utc(entry.ReviewedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to append review log for card %s: %w", domain.ErrStorage, entry.CardID, err)
	}
	return nil
}

// ReviewLogs returns the audit trail for a pair, oldest first.
func (db *DB) ReviewLogs(ctx context.Context, learnerID, cardID string) ([]domain.ReviewLog, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT id, learner_id, card_id, quality, mastery_before, mastery_after, reviewed_at
		FROM review_log WHERE learner_id = ? AND card_id = ?
		ORDER BY reviewed_at ASC
	`), learnerID, cardID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get review log for card %s: %w", domain.ErrStorage, cardID, err)
	}
	defer rows.Close()

	var logs []domain.ReviewLog
	for rows.Next() {
		var l domain.ReviewLog
		var q int
		if err := rows.Scan(&l.ID, &l.LearnerID, &l.CardID, &q, &l.MasteryBefore, &l.MasteryAfter, &l.ReviewedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan review log row: %w", domain.ErrStorage, err)
		}
		l.Quality = domain.Quality(q)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ExamProgress summarizes a learner's flashcard progress for an exam.
type ExamProgress struct {
	ExamID          string `json:"examId"`
	TotalCards      int    `json:"totalCards"`
	SeenCards       int    `json:"seenCards"`
	MasteredCards   int    `json:"masteredCards"`
	DueCards        int    `json:"dueCards"`
	PercentMastered int    `json:"percentMastered"`
}

// ExamProgress computes totals over the exam's active cards.
func (db *DB) ExamProgress(ctx context.Context, learnerID, examID string, now time.Time) (ExamProgress, error) {
	p := ExamProgress{ExamID: examID}

	err := db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT COUNT(*) FROM cards WHERE exam_id = ? AND is_active = ?
	`), examID, true).Scan(&p.TotalCards)
	if err != nil {
		return p, fmt.Errorf("%w: failed to count cards for exam %s: %w", domain.ErrStorage, examID, err)
	}

	err = db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN rs.mastery_level >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN rs.next_review_at <= ? THEN 1 ELSE 0 END), 0)
		FROM review_states rs
		JOIN cards c ON c.id = rs.card_id
		WHERE rs.learner_id = ? AND c.exam_id = ? AND c.is_active = ?
	`), domain.MasteredThreshold, utc(now), learnerID, examID, true).Scan(&p.SeenCards, &p.MasteredCards, &p.DueCards)
	if err != nil {
		return p, fmt.Errorf("%w: failed to summarize progress for exam %s: %w", domain.ErrStorage, examID, err)
	}

	if p.TotalCards > 0 {
		p.PercentMastered = int(math.Round(float64(p.MasteredCards) / float64(p.TotalCards) * 100))
	}
	return p, nil
}
