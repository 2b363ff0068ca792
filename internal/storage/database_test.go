package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/examcards/internal/domain"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func state(learnerID, cardID string, level, count int, next time.Time) domain.ReviewState {
	return domain.ReviewState{
		LearnerID:    learnerID,
		CardID:       cardID,
		MasteryLevel: level,
		ReviewCount:  count,
		NextReviewAt: next,
		UpdatedAt:    t0,
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "whatever")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)", pg.rebind("SELECT a FROM t WHERE x = ? AND y IN (?, ?)"))

	lite := &DB{driver: DriverSQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestChunks(t *testing.T) {
	ids := make([]string, chunkSize*2+3)
	for i := range ids {
		ids[i] = fmt.Sprint(i)
	}
	got := chunks(ids)
	require.Len(t, got, 3)
	assert.Len(t, got[0], chunkSize)
	assert.Len(t, got[2], 3)
	assert.Nil(t, chunks(nil))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestGetAndUpsert(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	p, err := db.Get(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.True(t, p.IsUnseen())

	first := state("alice", "c1", 1, 1, t0.AddDate(0, 0, 3))
	require.NoError(t, db.Upsert(ctx, first))

	p, err = db.Get(ctx, "alice", "c1")
	require.NoError(t, err)
	got, ok := p.State()
	require.True(t, ok)
	assert.Equal(t, 1, got.MasteryLevel)
	assert.Equal(t, 1, got.ReviewCount)
	assert.True(t, got.NextReviewAt.Equal(first.NextReviewAt))
	assert.True(t, got.UpdatedAt.Equal(t0))

	again, err := db.Get(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Equal(t, p, again)

	second := state("alice", "c1", 2, 2, t0.AddDate(0, 0, 7))
	require.NoError(t, db.Upsert(ctx, second))

	p, err = db.Get(ctx, "alice", "c1")
	require.NoError(t, err)
	got, _ = p.State()
	assert.Equal(t, 2, got.ReviewCount)
	assert.Equal(t, 2, got.MasteryLevel)

	other, err := db.Get(ctx, "bob", "c1")
	require.NoError(t, err)
	assert.True(t, other.IsUnseen())
}

func TestUpsertRejectsStaleWrites(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.Upsert(ctx, state("alice", "c1", 1, 1, t0)))

	err := db.Upsert(ctx, state("alice", "c1", 1, 1, t0))
	assert.ErrorIs(t, err, domain.ErrStaleWrite)
	assert.ErrorIs(t, err, domain.ErrStorage)

	err = db.Upsert(ctx, state("alice", "c1", 3, 5, t0))
	assert.ErrorIs(t, err, domain.ErrStaleWrite)

	err = db.Upsert(ctx, state("alice", "c2", 1, 2, t0))
	assert.ErrorIs(t, err, domain.ErrStaleWrite)

	err = db.Upsert(ctx, state("alice", "c3", 1, 0, t0))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	p, err := db.Get(ctx, "alice", "c1")
	require.NoError(t, err)
	got, _ := p.State()
	assert.Equal(t, 1, got.ReviewCount)
}

func TestFindDue(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.Upsert(ctx, state("alice", "late", 1, 1, t0.Add(-time.Hour))))
	require.NoError(t, db.Upsert(ctx, state("alice", "oldest", 1, 1, t0.Add(-48*time.Hour))))
	require.NoError(t, db.Upsert(ctx, state("alice", "exact", 1, 1, t0)))
	require.NoError(t, db.Upsert(ctx, state("alice", "future", 4, 1, t0.Add(time.Minute))))
	require.NoError(t, db.Upsert(ctx, state("alice", "other-exam", 1, 1, t0.Add(-72*time.Hour))))
	require.NoError(t, db.Upsert(ctx, state("bob", "late", 1, 1, t0.Add(-96*time.Hour))))

	pool := []string{"late", "oldest", "exact", "future", "unseen"}
	due, err := db.FindDue(ctx, "alice", pool, t0, 10)
	require.NoError(t, err)

	var got []string
	for _, s := range due {
		got = append(got, s.CardID)
		assert.Equal(t, "alice", s.LearnerID)
	}
	assert.Equal(t, []string{"oldest", "late", "exact"}, got)

	due, err = db.FindDue(ctx, "alice", pool, t0, 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "oldest", due[0].CardID)

	due, err = db.FindDue(ctx, "alice", nil, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestFindDueAcrossChunks(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	pool := make([]string, chunkSize+20)
	for i := range pool {
		pool[i] = fmt.Sprintf("card-%04d", i)
	}
	// The most overdue card sits in the second chunk.
	require.NoError(t, db.Upsert(ctx, state("alice", pool[chunkSize+5], 0, 1, t0.Add(-10*time.Hour))))
	require.NoError(t, db.Upsert(ctx, state("alice", pool[3], 0, 1, t0.Add(-time.Hour))))

	due, err := db.FindDue(ctx, "alice", pool, t0, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, pool[chunkSize+5], due[0].CardID)

	unseen, err := db.FindUnseen(ctx, "alice", pool, nil, len(pool))
	require.NoError(t, err)
	assert.Len(t, unseen, len(pool)-2)
}

func TestFindUnseen(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.Upsert(ctx, state("alice", "b", 0, 1, t0)))
	pool := []string{"a", "b", "c", "d", "e", "a"}

	unseen, err := db.FindUnseen(ctx, "alice", pool, []string{"c"}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d", "e"}, unseen)

	unseen, err = db.FindUnseen(ctx, "alice", pool, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, unseen)

	unseen, err = db.FindUnseen(ctx, "bob", pool, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, unseen)
}

func TestReviewLog(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.AppendReviewLog(ctx, domain.ReviewLog{
		ID: "log-1", LearnerID: "alice", CardID: "c1", Quality: 5, MasteryBefore: 0, MasteryAfter: 1, ReviewedAt: t0,
	}))
	require.NoError(t, db.AppendReviewLog(ctx, domain.ReviewLog{
		ID: "log-2", LearnerID: "alice", CardID: "c1", Quality: 0, MasteryBefore: 1, MasteryAfter: 0, ReviewedAt: t0.Add(time.Hour),
	}))

	logs, err := db.ReviewLogs(ctx, "alice", "c1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "log-1", logs[0].ID)
	assert.Equal(t, domain.Quality(0), logs[1].Quality)
}

func TestCardsAndExamProgress(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	sourceID, err := db.InsertSource(ctx, "/decks", SourceLocal)
	require.NoError(t, err)

	for i, front := range []string{"beneficiary", "premium", "underwriting", "deductible"} {
		card := domain.Card{ID: fmt.Sprintf("c%d", i), ExamID: "fl-2-15", Topic: "basics", Front: front, Back: "..."}
		require.NoError(t, db.InsertCard(ctx, card, sourceID))
	}
	require.NoError(t, db.InsertCard(ctx, domain.Card{ID: "x1", ExamID: "other", Front: "q", Back: "a"}, sourceID))

	ids, err := db.ActiveCardIDs(ctx, "fl-2-15")
	require.NoError(t, err)
	assert.Equal(t, []string{"c0", "c1", "c2", "c3"}, ids)

	card, err := db.FindCard(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, "premium", card.Front)
	assert.True(t, card.Active)
	assert.Equal(t, sourceID, card.SourceID)

	missing, err := db.FindCard(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, db.Upsert(ctx, state("alice", "c0", 4, 1, t0.Add(time.Hour))))
	require.NoError(t, db.Upsert(ctx, state("alice", "c1", 2, 1, t0.Add(-time.Hour))))
	require.NoError(t, db.Upsert(ctx, state("alice", "x1", 5, 1, t0)))

	progress, err := db.ExamProgress(ctx, "alice", "fl-2-15", t0)
	require.NoError(t, err)
	assert.Equal(t, ExamProgress{
		ExamID:          "fl-2-15",
		TotalCards:      4,
		SeenCards:       2,
		MasteredCards:   1,
		DueCards:        1,
		PercentMastered: 25,
	}, progress)

	require.NoError(t, db.DeactivateCard(ctx, "c3"))
	ids, err = db.ActiveCardIDs(ctx, "fl-2-15")
	require.NoError(t, err)
	assert.Equal(t, []string{"c0", "c1", "c2"}, ids)

	require.NoError(t, db.ActivateCard(ctx, "c3", sourceID))
	bySource, err := db.GetCardsBySourceID(ctx, sourceID)
	require.NoError(t, err)
	assert.Len(t, bySource, 5)

	cards, err := db.GetCards(ctx, []string{"c0", "x1", "nope"})
	require.NoError(t, err)
	assert.Len(t, cards, 2)
	assert.Equal(t, "other", cards["x1"].ExamID)
}

func TestSources(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, err := db.InsertSource(ctx, "https://example.com/decks.git", SourceGit)
	require.NoError(t, err)

	_, err = db.InsertSource(ctx, "https://example.com/decks.git", SourceGit)
	assert.Error(t, err)

	src, err := db.FindSourceByPath(ctx, "https://example.com/decks.git")
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, SourceGit, src.Type)
	assert.False(t, src.LastScanned.Valid)

	require.NoError(t, db.UpdateSourceLastScanned(ctx, id))
	sources, err := db.GetAllSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.True(t, sources[0].LastScanned.Valid)

	require.NoError(t, db.InsertCard(ctx, domain.Card{ID: "c1", ExamID: "e", Front: "q", Back: "a"}, id))
	require.NoError(t, db.Upsert(ctx, state("alice", "c1", 3, 1, t0)))

	require.NoError(t, db.DeleteSource(ctx, id))
	assert.ErrorIs(t, db.DeleteSource(ctx, id), ErrSourceNotFound)

	card, err := db.FindCard(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.False(t, card.Active)
	assert.Zero(t, card.SourceID)

	p, err := db.Get(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.False(t, p.IsUnseen())

	missing, err := db.FindSourceByPath(ctx, "/nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
