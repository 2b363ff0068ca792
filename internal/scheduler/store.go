package scheduler

import (
	"context"
	"time"

	"github.com/conorfennell/examcards/internal/domain"
)

// Store is durable keyed storage for review states.
//
// Get returns domain.Unseen() for a pair that was never reviewed; absence is not an error.
// Upsert must be atomic per pair and reject a state whose ReviewCount is not exactly one
// more than the stored count (0 when absent) with an error wrapping domain.ErrStaleWrite.
// FindDue returns states with NextReviewAt <= now, most overdue first.
// FindUnseen returns pool ids without a state, in pool order.
type Store interface {
	Get(ctx context.Context, learnerID, cardID string) (domain.Progress, error)
	Upsert(ctx context.Context, state domain.ReviewState) error
	FindDue(ctx context.Context, learnerID string, pool []string, now time.Time, limit int) ([]domain.ReviewState, error)
	FindUnseen(ctx context.Context, learnerID string, pool, exclude []string, limit int) ([]string, error)
}

// ReviewLogWriter is implemented by stores that keep an audit trail of reviews.
type ReviewLogWriter interface {
	AppendReviewLog(ctx context.Context, entry domain.ReviewLog) error
}
