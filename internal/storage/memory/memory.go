// Package memory is an in-process review state store backed by a map.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/conorfennell/examcards/internal/domain"
)

type key struct {
	learnerID string
	cardID    string
}

// Store holds review states in memory. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	states map[key]domain.ReviewState
	logs   []domain.ReviewLog
}

// New creates an empty store.
func New() *Store {
	return &Store{states: make(map[key]domain.ReviewState)}
}

// Get returns the progress for a pair, Unseen if it has no state.
func (s *Store) Get(_ context.Context, learnerID, cardID string) (domain.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[key{learnerID, cardID}]
	if !ok {
		return domain.Unseen(), nil
	}
	return domain.Reviewed(st), nil
}

// Upsert stores state if its ReviewCount follows the stored one.
func (s *Store) Upsert(_ context.Context, state domain.ReviewState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{state.LearnerID, state.CardID}
	current := s.states[k].ReviewCount
	if state.ReviewCount != current+1 {
		return fmt.Errorf("%w: %w: card %s has review count %d, write expects %d",
			domain.ErrStorage, domain.ErrStaleWrite, state.CardID, current, state.ReviewCount-1)
	}
	s.states[k] = state
	return nil
}

// FindDue returns due states for cards in pool, most overdue first.
func (s *Store) FindDue(_ context.Context, learnerID string, pool []string, now time.Time, limit int) ([]domain.ReviewState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []domain.ReviewState
	for _, id := range dedupe(pool) {
		st, ok := s.states[key{learnerID, id}]
		if ok && st.IsDue(now) {
			due = append(due, st)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextReviewAt.Before(due[j].NextReviewAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// FindUnseen returns pool ids without a state and not in exclude, in pool order.
func (s *Store) FindUnseen(_ context.Context, learnerID string, pool, exclude []string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	var ids []string
	for _, id := range dedupe(pool) {
		if len(ids) == limit {
			break
		}
		if _, ok := skip[id]; ok {
			continue
		}
		if _, ok := s.states[key{learnerID, id}]; ok {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// AppendReviewLog records an audit entry.
func (s *Store) AppendReviewLog(_ context.Context, entry domain.ReviewLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

// ReviewLogs returns a copy of the audit trail.
func (s *Store) ReviewLogs() []domain.ReviewLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.logs)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
