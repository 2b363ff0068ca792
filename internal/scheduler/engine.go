package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/conorfennell/examcards/internal/domain"
	"github.com/google/uuid"
)

// Mode selects which cards a batch is drawn from.
type Mode int

const (
	ModeReview Mode = iota // Due cards first, backfilled with unseen cards.
	ModeNew                // Unseen cards only.
	ModeAll                // Pool order, regardless of schedule.
)

var modeNames = [...]string{ModeReview: "review", ModeNew: "new", ModeAll: "all"}

func (m Mode) String() string {
	if m >= ModeReview && m <= ModeAll {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses a mode name. The empty string means ModeReview.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeReview, nil
	}
	for m, name := range modeNames {
		if name == s {
			return Mode(m), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidInput, s)
}

// Params holds the tunable limits of the engine.
type Params struct {
	MaxBatchSize int           // upper bound on a requested batch
	ClockSkew    time.Duration // tolerated lag of a review time behind the stored UpdatedAt
}

// DefaultParams provides the limits used when none are configured.
func DefaultParams() *Params {
	return &Params{
		MaxBatchSize: 100,
		ClockSkew:    5 * time.Minute,
	}
}

// BatchItem is one card selected for presentation, with its prior progress.
type BatchItem struct {
	CardID   string
	Progress domain.Progress
}

// Result is the outcome of a submitted review.
type Result struct {
	State        domain.ReviewState
	IntervalDays int
	NextReviewIn string
}

// Engine selects review batches and records reviews against a Store.
// It holds no per-learner state.
type Engine struct {
	store   Store
	params  *Params
	shuffle func(n int, swap func(i, j int))
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithParams overrides the default limits.
func WithParams(p *Params) Option {
	return func(e *Engine) { e.params = p }
}

// WithShuffle replaces the presentation shuffle, e.g. with a no-op in tests.
func WithShuffle(shuffle func(n int, swap func(i, j int))) Option {
	return func(e *Engine) { e.shuffle = shuffle }
}

// WithLogger sets the logger used for soft validation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		params:  DefaultParams(),
		shuffle: rand.Shuffle,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SelectReviewBatch returns up to batchSize cards for learnerID: every due card
// (most overdue first) before any unseen card, then shuffled for presentation.
func (e *Engine) SelectReviewBatch(ctx context.Context, learnerID string, pool []string, batchSize int, now time.Time) ([]BatchItem, error) {
	return e.SelectBatch(ctx, learnerID, pool, ModeReview, batchSize, now)
}

// SelectBatch selects cards according to mode. An empty result is valid and
// means there is nothing to review now.
func (e *Engine) SelectBatch(ctx context.Context, learnerID string, pool []string, mode Mode, batchSize int, now time.Time) ([]BatchItem, error) {
	if learnerID == "" {
		return nil, fmt.Errorf("%w: learner id is required", domain.ErrInvalidInput)
	}
	if batchSize < 1 || batchSize > e.params.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch size %d outside [1, %d]", domain.ErrInvalidInput, batchSize, e.params.MaxBatchSize)
	}
	if len(pool) == 0 {
		return []BatchItem{}, nil
	}

	var (
		items []BatchItem
		err   error
	)
	switch mode {
	case ModeReview:
		items, err = e.prioritized(ctx, learnerID, pool, batchSize, now)
	case ModeNew:
		items, err = e.unseen(ctx, learnerID, pool, nil, batchSize)
	case ModeAll:
		items, err = e.all(ctx, learnerID, pool, batchSize)
	default:
		return nil, fmt.Errorf("%w: unknown mode %d", domain.ErrInvalidInput, int(mode))
	}
	if err != nil {
		return nil, err
	}

	e.present(items)
	return items, nil
}

// prioritized fixes the selected set: due cards first, backfilled with unseen cards
// excluding every id already selected.
func (e *Engine) prioritized(ctx context.Context, learnerID string, pool []string, batchSize int, now time.Time) ([]BatchItem, error) {
	due, err := e.store.FindDue(ctx, learnerID, pool, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to find due cards for learner %s: %w", learnerID, err)
	}

	items := make([]BatchItem, 0, batchSize)
	selected := make([]string, 0, len(due))
	for _, s := range due {
		if len(items) == batchSize {
			break
		}
		items = append(items, BatchItem{CardID: s.CardID, Progress: domain.Reviewed(s)})
		selected = append(selected, s.CardID)
	}

	remaining := batchSize - len(items)
	if remaining == 0 {
		return items, nil
	}
	fresh, err := e.unseen(ctx, learnerID, pool, selected, remaining)
	if err != nil {
		return nil, err
	}
	return append(items, fresh...), nil
}

func (e *Engine) unseen(ctx context.Context, learnerID string, pool, exclude []string, limit int) ([]BatchItem, error) {
	ids, err := e.store.FindUnseen(ctx, learnerID, pool, exclude, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find unseen cards for learner %s: %w", learnerID, err)
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	items := make([]BatchItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, BatchItem{CardID: id, Progress: domain.Unseen()})
	}
	return items, nil
}

func (e *Engine) all(ctx context.Context, learnerID string, pool []string, limit int) ([]BatchItem, error) {
	if len(pool) > limit {
		pool = pool[:limit]
	}
	items := make([]BatchItem, 0, len(pool))
	for _, id := range pool {
		p, err := e.store.Get(ctx, learnerID, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get progress for card %s: %w", id, err)
		}
		items = append(items, BatchItem{CardID: id, Progress: p})
	}
	return items, nil
}

// present randomizes presentation order. It runs after selection and never
// changes which cards were chosen.
func (e *Engine) present(items []BatchItem) {
	e.shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}

// Submit records a review: it reads the prior state, applies RecordReview and
// persists the result. Storage failures are returned unretried; on any error
// nothing has been persisted.
func (e *Engine) Submit(ctx context.Context, learnerID, cardID string, q domain.Quality, now time.Time) (Result, error) {
	if learnerID == "" || cardID == "" {
		return Result{}, fmt.Errorf("%w: learner id and card id are required", domain.ErrInvalidInput)
	}
	if !q.IsValid() {
		return Result{}, fmt.Errorf("%w: quality %d outside [%d, %d]", domain.ErrInvalidInput, int(q), domain.MinQuality, domain.MaxQuality)
	}

	prior, err := e.store.Get(ctx, learnerID, cardID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read review state for card %s: %w", cardID, err)
	}
	prev, seen := prior.State()
	if seen && prev.UpdatedAt.After(now.Add(e.params.ClockSkew)) {
		e.logger.Warn("review time is behind the last update beyond tolerated skew",
			"learner_id", learnerID,
			"card_id", cardID,
			"updated_at", prev.UpdatedAt,
			"now", now,
			"tolerance", e.params.ClockSkew,
		)
	}

	next, err := RecordReview(learnerID, cardID, prior, q, now)
	if err != nil {
		return Result{}, err
	}
	if err := e.store.Upsert(ctx, next); err != nil {
		return Result{}, fmt.Errorf("failed to persist review for card %s: %w", cardID, err)
	}

	if w, ok := e.store.(ReviewLogWriter); ok {
		entry := domain.ReviewLog{
			ID:            uuid.NewString(),
			LearnerID:     learnerID,
			CardID:        cardID,
			Quality:       q,
			MasteryBefore: prev.MasteryLevel,
			MasteryAfter:  next.MasteryLevel,
			ReviewedAt:    now,
		}
		if err := w.AppendReviewLog(ctx, entry); err != nil {
			e.logger.Warn("Failed to append review log", "learner_id", learnerID, "card_id", cardID, "error", err)
		}
	}

	days := IntervalDays(next.MasteryLevel)
	return Result{State: next, IntervalDays: days, NextReviewIn: FormatInterval(days)}, nil
}
