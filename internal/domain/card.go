package domain

import "time"

// Card represents a single front/back study item belonging to an exam.
// The scheduler treats ID as an opaque key.
type Card struct {
	ID        string    `json:"id"`
	ExamID    string    `json:"examId"`
	Topic     string    `json:"topic"`
	Front     string    `json:"front"`
	Back      string    `json:"back"`
	Active    bool      `json:"-"`
	SourceID  int64     `json:"-"`
	CreatedAt time.Time `json:"-"`
}

// ReviewLog records a single review event for a card.
type ReviewLog struct {
	ID            string
	LearnerID     string
	CardID        string
	Quality       Quality
	MasteryBefore int
	MasteryAfter  int
	ReviewedAt    time.Time
}
