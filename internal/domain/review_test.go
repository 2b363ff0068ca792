package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestQualityIsValid(t *testing.T) {
	for q := Quality(-2); q <= 7; q++ {
		want := q >= 0 && q <= 5
		if got := q.IsValid(); got != want {
			t.Errorf("Quality(%d).IsValid() = %v, want %v", q, got, want)
		}
	}
}

func TestMasteryLabel(t *testing.T) {
	testCases := []struct {
		level int
		want  string
	}{
		{0, LabelNew},
		{1, LabelNew},
		{2, LabelLearning},
		{3, LabelLearning},
		{4, LabelMastered},
		{5, LabelMastered},
	}
	for _, tc := range testCases {
		if got := MasteryLabel(tc.level); got != tc.want {
			t.Errorf("MasteryLabel(%d) = %q, want %q", tc.level, got, tc.want)
		}
	}
}

func TestProgress(t *testing.T) {
	t.Run("zero value is unseen", func(t *testing.T) {
		var p Progress
		if !p.IsUnseen() {
			t.Error("expected zero Progress to be unseen")
		}
		if _, ok := p.State(); ok {
			t.Error("expected State() to report absence")
		}
		if p.Label() != LabelNew {
			t.Errorf("expected label %q, got %q", LabelNew, p.Label())
		}
	})

	t.Run("reviewed at level 0 is not unseen", func(t *testing.T) {
		p := Reviewed(ReviewState{CardID: "c1", ReviewCount: 1})
		if p.IsUnseen() {
			t.Error("reviewed progress reported as unseen")
		}
		s, ok := p.State()
		if !ok || s.CardID != "c1" {
			t.Errorf("unexpected state %+v, ok=%v", s, ok)
		}
	})

	t.Run("json", func(t *testing.T) {
		b, err := json.Marshal(Unseen())
		if err != nil || string(b) != "null" {
			t.Errorf("Unseen() marshaled to %s, %v", b, err)
		}
		b, err = json.Marshal(Reviewed(ReviewState{MasteryLevel: 3, ReviewCount: 2}))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(b, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if decoded["masteryLevel"] != float64(3) {
			t.Errorf("masteryLevel = %v, want 3", decoded["masteryLevel"])
		}
	})
}

func TestReviewStateIsDue(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	s := ReviewState{NextReviewAt: now}
	if !s.IsDue(now) {
		t.Error("expected due at NextReviewAt")
	}
	if s.IsDue(now.Add(-time.Second)) {
		t.Error("expected not due before NextReviewAt")
	}
}

func TestStaleWriteWrapping(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrStorage, ErrStaleWrite)
	if !errors.Is(err, ErrStorage) || !errors.Is(err, ErrStaleWrite) {
		t.Error("expected stale write to match both sentinels")
	}
	if errors.Is(err, ErrInvalidInput) {
		t.Error("stale write must not match ErrInvalidInput")
	}
}
