package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore()
	require.NoError(t, store.Initialize(filepath.Join(t.TempDir(), "history.db")))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveAndGet(t *testing.T) {
	store := newTestStore(t)

	rec := &Record{
		Fingerprint:      "abc123",
		Model:            "facebook/bart-large-cnn",
		RequestedModel:   "google/pegasus-xsum",
		UsedFallback:     true,
		Summary:          "The council approved the budget.",
		OriginalWords:    120,
		SummaryWords:     5,
		CompressionRatio: 1 - 5.0/120.0,
		DurationMs:       42,
	}
	require.NoError(t, store.Save(rec))
	assert.NotEmpty(t, rec.ID, "id is assigned")
	assert.False(t, rec.CreatedAt.IsZero(), "created_at is assigned")

	got, err := store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Fingerprint, got.Fingerprint)
	assert.Equal(t, rec.Model, got.Model)
	assert.Equal(t, rec.RequestedModel, got.RequestedModel)
	assert.True(t, got.UsedFallback)
	assert.Equal(t, rec.Summary, got.Summary)
	assert.Equal(t, 120, got.OriginalWords)
	assert.Equal(t, 5, got.SummaryWords)
	assert.InDelta(t, rec.CompressionRatio, got.CompressionRatio, 1e-12)
	assert.Equal(t, int64(42), got.DurationMs)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentOrdering(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Save(&Record{
			ID:        string(rune('a' + i)),
			Model:     "t5-base",
			Summary:   "summary",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recent, err := store.Recent(3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "e", recent[0].ID)
	assert.Equal(t, "d", recent[1].ID)
	assert.Equal(t, "c", recent[2].ID)

	all, err := store.Recent(0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestDeleteAndClear(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"one", "two", "three"} {
		require.NoError(t, store.Save(&Record{ID: id, Model: "m", Summary: "s"}))
	}

	deleted, err := store.Delete("two")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete("two")
	require.NoError(t, err)
	assert.False(t, deleted)

	removed, err := store.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	recent, err := store.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestUninitializedStore(t *testing.T) {
	store := NewSQLiteStore()

	assert.Error(t, store.Save(&Record{}))
	_, err := store.Recent(1)
	assert.Error(t, err)
	assert.NoError(t, store.Close())
}
