package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestBadgerStore(t *testing.T, retention time.Duration) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(filepath.Join(t.TempDir(), "seen_db"), retention, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStore_MarkSeen(t *testing.T) {
	store := newTestBadgerStore(t, time.Hour)

	t.Run("new id returns true", func(t *testing.T) {
		added, err := store.MarkSeen("101")
		require.NoError(t, err)
		assert.True(t, added)
	})

	t.Run("duplicate returns false", func(t *testing.T) {
		added, err := store.MarkSeen("101")
		require.NoError(t, err)
		assert.False(t, added)
	})

	t.Run("count tracks correctly", func(t *testing.T) {
		_, err := store.MarkSeen("102")
		require.NoError(t, err)
		count, err := store.Count()
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("seen does not add", func(t *testing.T) {
		seen, err := store.Seen("999")
		require.NoError(t, err)
		assert.False(t, seen)
		seen, err = store.Seen("101")
		require.NoError(t, err)
		assert.True(t, seen)
	})
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "seen_db")

	store1, err := NewBadgerStore(dbPath, time.Hour, testLogger())
	require.NoError(t, err)
	_, err = store1.MarkSeen("7")
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	store2, err := NewBadgerStore(dbPath, time.Hour, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })

	added, err := store2.MarkSeen("7")
	require.NoError(t, err)
	assert.False(t, added, "identifier should survive a restart")
}

func TestBadgerStore_RepeatSightingKeepsFirstSeen(t *testing.T) {
	store := newTestBadgerStore(t, time.Hour)
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return t0 }
	_, err := store.MarkSeen("42")
	require.NoError(t, err)

	store.now = func() time.Time { return t0.Add(10 * time.Minute) }
	_, err = store.MarkSeen("42")
	require.NoError(t, err)

	snap, err := store.Snapshot(0)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "42", snap[0].ID)
	assert.True(t, snap[0].FirstSeen.Equal(t0))
	assert.True(t, snap[0].LastSeen.Equal(t0.Add(10*time.Minute)))
}

func TestBadgerStore_RetentionExpiresIdentifiers(t *testing.T) {
	store := newTestBadgerStore(t, time.Second)

	added, err := store.MarkSeen("old")
	require.NoError(t, err)
	require.True(t, added)

	time.Sleep(2100 * time.Millisecond)

	seen, err := store.Seen("old")
	require.NoError(t, err)
	assert.False(t, seen, "identifier should expire after the retention period")

	added, err = store.MarkSeen("old")
	require.NoError(t, err)
	assert.True(t, added, "expired identifier is discoverable again")
}

func TestBadgerStore_SnapshotOrderAndLimit(t *testing.T) {
	store := newTestBadgerStore(t, time.Hour)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		store.now = func() time.Time { return at }
		_, err := store.MarkSeen(id)
		require.NoError(t, err)
	}

	snap, err := store.Snapshot(2)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "c", snap[0].ID)
	assert.Equal(t, "b", snap[1].ID)
}

func TestBadgerStore_WriteSeenLog(t *testing.T) {
	store := newTestBadgerStore(t, time.Hour)
	for _, id := range []string{"1", "2", "3"} {
		_, err := store.MarkSeen(id)
		require.NoError(t, err)
	}

	logPath := filepath.Join(t.TempDir(), "seen.txt")
	require.NoError(t, store.WriteSeenLog(logPath))

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Fields(string(data))
	assert.ElementsMatch(t, []string{"1", "2", "3"}, lines)
}

func TestBadgerStore_RunGCStopsOnCancel(t *testing.T) {
	store := newTestBadgerStore(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		store.RunGC(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunGC did not return after cancellation")
	}
}

func TestBadgerStore_CloseIsIdempotent(t *testing.T) {
	store := newTestBadgerStore(t, time.Hour)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
