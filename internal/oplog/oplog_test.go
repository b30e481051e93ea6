package oplog

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"safehold/internal/clock"
	"safehold/internal/fsys"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoint-log.json")
	l := New(fsys.NewOS(), clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)), path, zap.NewNop())
	require.NoError(t, l.Init())
	return l
}

func TestLog_InitIdempotent(t *testing.T) {
	l := setupLog(t)
	require.NoError(t, l.Append(ActionCreate, "1"))
	// A second Init must not clobber existing state.
	require.NoError(t, l.Init())

	idx, err := l.Snapshot()
	require.NoError(t, err)
	assert.Len(t, idx.Entries, 1)
}

func TestLog_Counters(t *testing.T) {
	l := setupLog(t)

	id, err := l.NextCheckpointID()
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	id, err = l.NextCheckpointID()
	require.NoError(t, err)
	assert.Equal(t, "2", id)

	id, err = l.NextTransactionID()
	require.NoError(t, err)
	assert.Equal(t, "1", id, "transaction counter is independent of checkpoint counter")

	idx, err := l.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(2), idx.LastCheckpointID)
	assert.Equal(t, int64(1), idx.LastTransactionID)
}

func TestLog_AppendAndTruncate(t *testing.T) {
	l := setupLog(t)

	for i := 0; i < maxEntries+20; i++ {
		require.NoError(t, l.Append(ActionCreate, fmt.Sprintf("%d", i)))
	}

	idx, err := l.Snapshot()
	require.NoError(t, err)
	require.Len(t, idx.Entries, maxEntries)
	// Oldest entries fall off; the newest stays at the tail.
	assert.Equal(t, "20", idx.Entries[0].ObjectID)
	assert.Equal(t, fmt.Sprintf("%d", maxEntries+19), idx.Entries[maxEntries-1].ObjectID)
}

func TestLog_EntriesCarryClockTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint-log.json")
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	l := New(fsys.NewOS(), clk, path, zap.NewNop())
	require.NoError(t, l.Init())

	require.NoError(t, l.Append(ActionCommit, "tx-1"))
	clk.Advance(time.Minute)
	require.NoError(t, l.Append(ActionSuccess, "cp-1"))

	idx, err := l.Snapshot()
	require.NoError(t, err)
	require.Len(t, idx.Entries, 2)
	assert.Equal(t, start, idx.Entries[0].Timestamp)
	assert.Equal(t, start.Add(time.Minute), idx.Entries[1].Timestamp)
}
