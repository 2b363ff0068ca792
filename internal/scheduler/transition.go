package scheduler

import (
	"fmt"
	"time"

	"github.com/conorfennell/examcards/internal/domain"
)

// intervals maps a mastery level to the number of days until the next review.
var intervals = [...]int{1, 3, 7, 14, 30, 60}

// fallbackIntervalDays applies to any level outside the table.
const fallbackIntervalDays = 60

// IntervalDays returns the review interval for a mastery level.
func IntervalDays(level int) int {
	if level < 0 || level >= len(intervals) {
		return fallbackIntervalDays
	}
	return intervals[level]
}

// FormatInterval renders an interval for display, e.g. "1 day" or "7 days".
func FormatInterval(days int) string {
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

// nextLevel applies the asymmetric mastery policy: a success gains one level,
// a failure costs two and a hesitant recall costs one.
func nextLevel(level int, q domain.Quality) int {
	switch {
	case q >= 3:
		level++
	case q <= 1:
		level -= 2
	default:
		level--
	}
	return min(domain.MaxMastery, max(domain.MinMastery, level))
}

// RecordReview computes the state that follows a review of quality q at now.
// It performs no I/O. A quality outside [0, 5] is rejected, never clamped.
func RecordReview(learnerID, cardID string, prior domain.Progress, q domain.Quality, now time.Time) (domain.ReviewState, error) {
	if !q.IsValid() {
		return domain.ReviewState{}, fmt.Errorf("%w: quality %d outside [%d, %d]", domain.ErrInvalidInput, int(q), domain.MinQuality, domain.MaxQuality)
	}

	prev, _ := prior.State()
	level := nextLevel(prev.MasteryLevel, q)

	return domain.ReviewState{
		LearnerID:    learnerID,
		CardID:       cardID,
		MasteryLevel: level,
		ReviewCount:  prev.ReviewCount + 1,
		NextReviewAt: now.AddDate(0, 0, IntervalDays(level)),
		UpdatedAt:    now,
	}, nil
}
