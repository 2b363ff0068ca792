package scheduler

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/conorfennell/examcards/internal/domain"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func reviewedAt(level, count int) domain.Progress {
	return domain.Reviewed(domain.ReviewState{
		LearnerID:    "learner",
		CardID:       "card",
		MasteryLevel: level,
		ReviewCount:  count,
		NextReviewAt: t0,
		UpdatedAt:    t0.AddDate(0, 0, -1),
	})
}

func TestRecordReviewScenarios(t *testing.T) {
	testCases := []struct {
		name      string
		prior     domain.Progress
		quality   domain.Quality
		wantLevel int
		wantCount int
		wantDays  int
	}{
		{"new card perfect recall", domain.Unseen(), 5, 1, 1, 3},
		{"level 4 no recall", reviewedAt(4, 6), 0, 2, 7, 7},
		{"level 0 hesitant clamps at floor", reviewedAt(0, 2), 2, 0, 3, 1},
		{"level 5 perfect clamps at ceiling", reviewedAt(5, 9), 5, 5, 10, 60},
		{"level 3 adequate", reviewedAt(3, 3), 3, 4, 4, 30},
		{"level 1 failed", reviewedAt(1, 1), 1, 0, 2, 1},
		{"new card failed", domain.Unseen(), 0, 0, 1, 1},
		{"level 2 hesitant", reviewedAt(2, 4), 2, 1, 5, 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RecordReview("learner", "card", tc.prior, tc.quality, t0)
			if err != nil {
				t.Fatalf("RecordReview() returned an unexpected error: %v", err)
			}
			if got.MasteryLevel != tc.wantLevel {
				t.Errorf("MasteryLevel = %d, want %d", got.MasteryLevel, tc.wantLevel)
			}
			if got.ReviewCount != tc.wantCount {
				t.Errorf("ReviewCount = %d, want %d", got.ReviewCount, tc.wantCount)
			}
			if want := t0.AddDate(0, 0, tc.wantDays); !got.NextReviewAt.Equal(want) {
				t.Errorf("NextReviewAt = %v, want %v", got.NextReviewAt, want)
			}
			if !got.UpdatedAt.Equal(t0) {
				t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, t0)
			}
			if got.LearnerID != "learner" || got.CardID != "card" {
				t.Errorf("identity not carried over: %+v", got)
			}
		})
	}
}

func TestRecordReviewRejectsInvalidQuality(t *testing.T) {
	for _, q := range []domain.Quality{-1, 6, 7, 100} {
		_, err := RecordReview("learner", "card", domain.Unseen(), q, t0)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("quality %d: expected ErrInvalidInput, got %v", q, err)
		}
	}
}

func TestRecordReviewProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		progress := domain.Unseen()
		now := t0
		for step := 0; step < 50; step++ {
			q := domain.Quality(rng.Intn(6))
			before, _ := progress.State()

			next, err := RecordReview("learner", "card", progress, q, now)
			if err != nil {
				t.Fatalf("run %d step %d: unexpected error: %v", run, step, err)
			}
			if next.MasteryLevel < domain.MinMastery || next.MasteryLevel > domain.MaxMastery {
				t.Fatalf("run %d step %d: mastery %d out of bounds", run, step, next.MasteryLevel)
			}
			if next.ReviewCount != before.ReviewCount+1 {
				t.Fatalf("run %d step %d: review count %d, want %d", run, step, next.ReviewCount, before.ReviewCount+1)
			}
			if !next.NextReviewAt.After(now) {
				t.Fatalf("run %d step %d: next review %v not after %v", run, step, next.NextReviewAt, now)
			}

			progress = domain.Reviewed(next)
			now = now.Add(time.Duration(rng.Intn(72)) * time.Hour)
		}
	}
}

func TestRepeatedFailuresStayAtFloor(t *testing.T) {
	progress := reviewedAt(5, 40)
	for i := 0; i < 1000; i++ {
		next, err := RecordReview("learner", "card", progress, 0, t0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		progress = domain.Reviewed(next)
	}
	s, _ := progress.State()
	if s.MasteryLevel != 0 {
		t.Errorf("MasteryLevel = %d, want 0", s.MasteryLevel)
	}
	if s.ReviewCount != 1040 {
		t.Errorf("ReviewCount = %d, want 1040", s.ReviewCount)
	}
}

func TestIntervalDays(t *testing.T) {
	prev := 0
	for level := domain.MinMastery; level <= domain.MaxMastery; level++ {
		days := IntervalDays(level)
		if days < 1 {
			t.Errorf("IntervalDays(%d) = %d, want >= 1", level, days)
		}
		if days < prev {
			t.Errorf("IntervalDays(%d) = %d is shorter than level %d (%d)", level, days, level-1, prev)
		}
		prev = days
	}
	if IntervalDays(-1) != 60 || IntervalDays(6) != 60 {
		t.Error("expected out-of-range levels to fall back to 60 days")
	}
}

func TestFormatInterval(t *testing.T) {
	if got := FormatInterval(1); got != "1 day" {
		t.Errorf("FormatInterval(1) = %q", got)
	}
	if got := FormatInterval(7); got != "7 days" {
		t.Errorf("FormatInterval(7) = %q", got)
	}
}
