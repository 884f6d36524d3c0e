package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveRun_AndRecentRuns(t *testing.T) {
	store := newTestStore(t)

	median := 45.0
	min := 30.0
	max := 80.0
	id, err := store.SaveRun(&RunRecord{
		StartedAt:   time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		ProductName: "Logitech MX Master 3",
		Query:       "logitech mx master 3",
		Median:      &median,
		Min:         &min,
		Max:         &max,
		SampleCount: 7,
		Iterations:  2,
		Sufficient:  true,
	})
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	runs, err := store.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	rec := runs[0]
	assert.Equal(t, "Logitech MX Master 3", rec.ProductName)
	assert.Equal(t, "logitech mx master 3", rec.Query)
	require.NotNil(t, rec.Median)
	assert.Equal(t, 45.0, *rec.Median)
	assert.Equal(t, 7, rec.SampleCount)
	assert.True(t, rec.Sufficient)
}

func TestSaveRun_NilStatistics(t *testing.T) {
	store := newTestStore(t)

	_, err := store.SaveRun(&RunRecord{
		StartedAt:   time.Now(),
		ProductName: "Unbekanntes Teil",
		Query:       "teil",
		SampleCount: 0,
		Iterations:  3,
		Sufficient:  false,
	})
	require.NoError(t, err)

	runs, err := store.RecentRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Median)
	assert.Nil(t, runs[0].Min)
	assert.Nil(t, runs[0].Max)
}

func TestRecentRuns_NewestFirst(t *testing.T) {
	store := newTestStore(t)

	for i, name := range []string{"first", "second", "third"} {
		_, err := store.SaveRun(&RunRecord{
			StartedAt:   time.Date(2026, 8, 1+i, 0, 0, 0, 0, time.UTC),
			ProductName: name,
			Query:       name,
		})
		require.NoError(t, err)
	}

	runs, err := store.RecentRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "third", runs[0].ProductName)
	assert.Equal(t, "second", runs[1].ProductName)
}

func TestVisionCache_RoundTrip(t *testing.T) {
	store := newTestStore(t)

	entry := &VisionCacheEntry{
		Name:      "Pelihiiri",
		Brand:     "Logitech",
		Model:     "G Pro X Superlight",
		Color:     "black",
		Condition: "good",
		Attributes: map[string]string{
			"connectivity": "wireless",
		},
	}
	require.NoError(t, store.SetVisionCache("abc123", entry))

	got, err := store.GetVisionCache("abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.Name, got.Name)
	assert.Equal(t, entry.Brand, got.Brand)
	assert.Equal(t, "wireless", got.Attributes["connectivity"])
}

func TestVisionCache_Miss(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetVisionCache("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestVisionCache_Replace(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetVisionCache("h", &VisionCacheEntry{Name: "old"}))
	require.NoError(t, store.SetVisionCache("h", &VisionCacheEntry{Name: "new"}))

	got, err := store.GetVisionCache("h")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.Name)
}
