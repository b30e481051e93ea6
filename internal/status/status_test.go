package status

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"safehold/internal/checkpoint"
	"safehold/internal/clock"
	"safehold/internal/fsys"
	"safehold/internal/journal"
	"safehold/internal/lock"
	"safehold/internal/oplog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticProc struct{}

func (staticProc) Info() ProcessInfo {
	return ProcessInfo{PID: 4242, UptimeSeconds: 10, HeapAllocBytes: 1 << 20, RuntimeVersion: "go-test"}
}

type fixture struct {
	reporter    *Reporter
	checkpoints *checkpoint.Store
	journal     *journal.Journal
	locks       *lock.Manager
	clk         *clock.Fake
	root        string
}

func setupReporter(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	cpDir := filepath.Join(root, ".security", "checkpoints")
	lockDir := filepath.Join(root, ".security", "locks")
	txDir := filepath.Join(root, ".security", "transactions")
	for _, dir := range []string{cpDir, lockDir, txDir} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}

	osfs := fsys.NewOS()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := zap.NewNop()

	log := oplog.New(osfs, clk, filepath.Join(cpDir, "checkpoint-log.json"), logger)
	require.NoError(t, log.Init())

	store, err := checkpoint.NewStore(osfs, clk, cpDir, log, checkpoint.Metadata{Creator: "test"}, checkpoint.Options{}, logger)
	require.NoError(t, err)
	j := journal.New(osfs, clk, txDir, log, store, logger)
	locks := lock.NewManager(osfs, clk, lockDir, logger)

	return &fixture{
		reporter:    NewReporter(log, store, j, locks, staticProc{}, clk, logger),
		checkpoints: store,
		journal:     j,
		locks:       locks,
		clk:         clk,
		root:        root,
	}
}

func TestStatus(t *testing.T) {
	f := setupReporter(t)

	path := filepath.Join(f.root, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0644))

	_, err := f.checkpoints.Create("one", []string{path})
	require.NoError(t, err)
	_, err = f.checkpoints.Create("two", []string{path})
	require.NoError(t, err)
	_, err = f.journal.Start("tx", "1", nil)
	require.NoError(t, err)
	_, err = f.locks.AcquireLocks([]string{path}, time.Minute)
	require.NoError(t, err)

	report := f.reporter.Status()
	require.Empty(t, report.Error)

	assert.Equal(t, int64(2), report.Checkpoints.Total)
	assert.Equal(t, "2", report.Checkpoints.LastID)
	assert.Equal(t, int64(1), report.Transactions.Total)
	assert.Equal(t, 1, report.Transactions.Active)
	assert.Equal(t, 1, report.Locks.Active)
	assert.Equal(t, 4242, report.Process.PID)
	assert.Equal(t, f.clk.Now(), report.Timestamp)
}

// failingLocks makes every lock read fail.
type failingLocks struct{}

func (failingLocks) ActiveLocks() ([]lock.Group, error) { return nil, fmt.Errorf("lock dir unreadable") }
func (failingLocks) RemoveExpired() (int, error)        { return 0, fmt.Errorf("lock dir unreadable") }

func TestStatus_ReadFailureFoldsIntoReport(t *testing.T) {
	f := setupReporter(t)
	broken := NewReporter(logFrom(t, f), f.checkpoints, f.journal, failingLocks{}, staticProc{}, f.clk, zap.NewNop())

	report := broken.Status()
	assert.Contains(t, report.Error, "lock dir unreadable")
	assert.Nil(t, report.Checkpoints)
	assert.Equal(t, f.clk.Now(), report.Timestamp)
}

func logFrom(t *testing.T, f *fixture) *oplog.Log {
	t.Helper()
	path := filepath.Join(f.root, ".security", "checkpoints", "checkpoint-log.json")
	l := oplog.New(fsys.NewOS(), f.clk, path, zap.NewNop())
	require.NoError(t, l.Init())
	return l
}

func TestCleanup(t *testing.T) {
	f := setupReporter(t)
	maxAge := time.Hour

	path := filepath.Join(f.root, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0644))

	// Old terminal checkpoint, old non-terminal checkpoint.
	oldDone, err := f.checkpoints.Create("old done", []string{path})
	require.NoError(t, err)
	require.NoError(t, f.checkpoints.MarkSuccessful(oldDone.CheckpointID))
	oldOpen, err := f.checkpoints.Create("old open", []string{path})
	require.NoError(t, err)

	// Old committed transaction, old active transaction.
	oldCommitted, err := f.journal.Start("old committed", "", nil)
	require.NoError(t, err)
	require.NoError(t, f.journal.Commit(oldCommitted))
	oldActive, err := f.journal.Start("old active", "", nil)
	require.NoError(t, err)

	// A lease that will be expired by cleanup time.
	_, err = f.locks.AcquireLocks([]string{path}, 30*time.Minute)
	require.NoError(t, err)

	f.clk.Advance(2 * time.Hour)

	// Fresh terminal records survive on age.
	freshDone, err := f.checkpoints.Create("fresh done", []string{path})
	require.NoError(t, err)
	require.NoError(t, f.checkpoints.MarkSuccessful(freshDone.CheckpointID))

	// An unexpired lock survives.
	liveLock, err := f.locks.AcquireLocks([]string{filepath.Join(f.root, "other.txt")}, time.Hour)
	require.NoError(t, err)

	result, err := f.reporter.Cleanup(maxAge)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Checkpoints, "only the old terminal checkpoint goes")
	assert.Equal(t, 1, result.Transactions, "only the old committed transaction goes")
	assert.Equal(t, 2, result.Locks, "expired lease and its group record go regardless of age")

	// Survivors: old-but-active records and fresh records.
	_, err = f.checkpoints.Get(oldOpen.CheckpointID)
	assert.NoError(t, err, "non-terminal checkpoint must never be deleted")
	_, err = f.journal.Get(oldActive)
	assert.NoError(t, err, "active transaction must never be deleted")
	_, err = f.checkpoints.Get(freshDone.CheckpointID)
	assert.NoError(t, err, "fresh terminal checkpoint survives")

	active, err := f.locks.ActiveLocks()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, liveLock, active[0].ID)

	// Deleted records are really gone.
	_, err = f.checkpoints.Get(oldDone.CheckpointID)
	assert.Error(t, err)
	_, err = f.journal.Get(oldCommitted)
	assert.Error(t, err)
}
