package completion

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emupilot-labs/emupilot/internal/logger"
)

func newTestFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daily_tasks.json")
	log := logger.NewLogger("error", "text", io.Discard)
	store, err := NewFileStore(path, log)
	require.NoError(t, err)
	return store, path
}

func TestMarkDoneIsIdempotentPerDay(t *testing.T) {
	store, _ := newTestFileStore(t)

	done, err := store.IsDone("alpha", "donation", "2026-08-24")
	require.NoError(t, err)
	assert.False(t, done)

	newly, err := store.MarkDone("alpha", "donation", "2026-08-24")
	require.NoError(t, err)
	assert.True(t, newly)

	// The second mark for the same key and date is an observable no-op.
	newly, err = store.MarkDone("alpha", "donation", "2026-08-24")
	require.NoError(t, err)
	assert.False(t, newly)

	done, err = store.IsDone("alpha", "donation", "2026-08-24")
	require.NoError(t, err)
	assert.True(t, done)

	// A new date supersedes the old record.
	done, err = store.IsDone("alpha", "donation", "2026-08-25")
	require.NoError(t, err)
	assert.False(t, done)
	newly, err = store.MarkDone("alpha", "donation", "2026-08-25")
	require.NoError(t, err)
	assert.True(t, newly)
}

func TestRecordsSurviveReopen(t *testing.T) {
	store, path := newTestFileStore(t)
	_, err := store.MarkDone("alpha", "donation", "2026-08-24")
	require.NoError(t, err)
	_, err = store.MarkDone("beta", "expedition", "2026-08-24")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	log := logger.NewLogger("error", "text", io.Discard)
	reopened, err := NewFileStore(path, log)
	require.NoError(t, err)

	done, err := reopened.IsDone("alpha", "donation", "2026-08-24")
	require.NoError(t, err)
	assert.True(t, done)
	done, err = reopened.IsDone("beta", "expedition", "2026-08-24")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestResetScopes(t *testing.T) {
	store, _ := newTestFileStore(t)
	seed := func() {
		for _, instance := range []string{"alpha", "beta"} {
			for _, task := range []string{"donation", "expedition"} {
				_, err := store.MarkDone(instance, task, "2026-08-24")
				require.NoError(t, err)
			}
		}
	}

	// Scope: one (instance, task) pair.
	seed()
	require.NoError(t, store.Reset("alpha", "donation"))
	done, _ := store.IsDone("alpha", "donation", "2026-08-24")
	assert.False(t, done)
	done, _ = store.IsDone("alpha", "expedition", "2026-08-24")
	assert.True(t, done)

	// Scope: one task across all instances.
	seed()
	require.NoError(t, store.Reset("", "expedition"))
	for _, instance := range []string{"alpha", "beta"} {
		done, _ = store.IsDone(instance, "expedition", "2026-08-24")
		assert.False(t, done)
	}

	// Scope: one instance entirely.
	seed()
	require.NoError(t, store.Reset("beta", ""))
	done, _ = store.IsDone("beta", "donation", "2026-08-24")
	assert.False(t, done)
	done, _ = store.IsDone("alpha", "donation", "2026-08-24")
	assert.True(t, done)

	// Scope: everything.
	seed()
	require.NoError(t, store.Reset("", ""))
	records, err := store.Records()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecordsSortedSnapshot(t *testing.T) {
	store, _ := newTestFileStore(t)
	_, err := store.MarkDone("beta", "donation", "2026-08-24")
	require.NoError(t, err)
	_, err = store.MarkDone("alpha", "expedition", "2026-08-24")
	require.NoError(t, err)
	_, err = store.MarkDone("alpha", "donation", "2026-08-24")
	require.NoError(t, err)

	records, err := store.Records()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "alpha", records[0].Instance)
	assert.Equal(t, "donation", records[0].Task)
	assert.Equal(t, "alpha", records[1].Instance)
	assert.Equal(t, "expedition", records[1].Task)
	assert.Equal(t, "beta", records[2].Instance)
}

func TestCorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daily_tasks.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	log := logger.NewLogger("error", "text", io.Discard)
	store, err := NewFileStore(path, log)
	require.NoError(t, err, "a corrupt store must not fail the run")

	done, err := store.IsDone("alpha", "donation", "2026-08-24")
	require.NoError(t, err)
	assert.False(t, done)

	// The store must become writable again.
	newly, err := store.MarkDone("alpha", "donation", "2026-08-24")
	require.NoError(t, err)
	assert.True(t, newly)
}

func TestPersistedShape(t *testing.T) {
	store, path := newTestFileStore(t)
	_, err := store.MarkDone("alpha", "donation", "2026-08-24")
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		LastUpdated *string `json:"last_updated"`
		Instances   map[string]map[string]struct {
			Date string `json:"date"`
		} `json:"instances"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.NotNil(t, doc.LastUpdated)
	assert.Equal(t, "2026-08-24", doc.Instances["alpha"]["donation"].Date)
}
