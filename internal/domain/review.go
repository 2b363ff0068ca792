package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	MinMastery = 0
	MaxMastery = 5

	MinQuality Quality = 0
	MaxQuality Quality = 5
)

// Quality is a learner's self-assessed recall for one review event,
// from 0 (no recall) to 5 (perfect recall).
type Quality int

// IsValid reports whether q lies within [0, 5].
func (q Quality) IsValid() bool {
	return q >= MinQuality && q <= MaxQuality
}

func (q Quality) String() string {
	if q.IsValid() {
		return fmt.Sprintf("%d", int(q))
	}
	return fmt.Sprintf("Quality(%d)", int(q))
}

// ReviewState is the scheduling record for one (learner, card) pair.
// A record only exists once the pair has been reviewed at least once.
type ReviewState struct {
	LearnerID    string    `json:"learnerId"`
	CardID       string    `json:"cardId"`
	MasteryLevel int       `json:"masteryLevel"`
	ReviewCount  int       `json:"reviewCount"`
	NextReviewAt time.Time `json:"nextReviewAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsDue reports whether the card is eligible for re-selection at now.
func (s ReviewState) IsDue(now time.Time) bool {
	return !now.Before(s.NextReviewAt)
}

// Progress is either Unseen or Reviewed(ReviewState). The zero value is Unseen.
type Progress struct {
	state    ReviewState
	reviewed bool
}

// Unseen is the progress of a pair that has never been reviewed.
func Unseen() Progress {
	return Progress{}
}

// Reviewed wraps an existing review state.
func Reviewed(s ReviewState) Progress {
	return Progress{state: s, reviewed: true}
}

// State returns the review state and true, or a zero state and false when unseen.
func (p Progress) State() (ReviewState, bool) {
	return p.state, p.reviewed
}

// IsUnseen reports whether the pair has never been reviewed.
func (p Progress) IsUnseen() bool {
	return !p.reviewed
}

// Level returns the mastery level, treating unseen as 0.
func (p Progress) Level() int {
	if !p.reviewed {
		return MinMastery
	}
	return p.state.MasteryLevel
}

// Label returns the display label for this progress.
func (p Progress) Label() string {
	if !p.reviewed {
		return LabelNew
	}
	return MasteryLabel(p.state.MasteryLevel)
}

// MarshalJSON encodes Unseen as null.
func (p Progress) MarshalJSON() ([]byte, error) {
	if !p.reviewed {
		return []byte("null"), nil
	}
	return json.Marshal(p.state)
}

const (
	LabelNew      = "New"
	LabelLearning = "Learning"
	LabelMastered = "Mastered"
)

// MasteredThreshold is the lowest level counted as mastered.
const MasteredThreshold = 4

// MasteryLabel maps a mastery level to its display label.
func MasteryLabel(level int) string {
	switch {
	case level >= MasteredThreshold:
		return LabelMastered
	case level >= 2:
		return LabelLearning
	default:
		return LabelNew
	}
}
