package lock

import (
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"safehold/internal/clock"
	"safehold/internal/errors"
	"safehold/internal/fsys"
	"safehold/internal/pathhash"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupManager(t *testing.T) (*Manager, *clock.Fake, string) {
	t.Helper()
	dir := t.TempDir()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	m := NewManager(fsys.NewOS(), clk, dir, zap.NewNop())
	return m, clk, dir
}

func TestAcquireFileLock_Conflict(t *testing.T) {
	m, clk, _ := setupManager(t)
	expires := clk.Now().Add(time.Minute)

	require.NoError(t, m.AcquireFileLock("/data/a.txt", "holder-1", expires))

	err := m.AcquireFileLock("/data/a.txt", "holder-2", expires)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindLockConflict))
	assert.ErrorContains(t, err, "holder-1", "conflict should name the current holder")
}

func TestAcquireFileLock_StealsExpiredLease(t *testing.T) {
	m, clk, _ := setupManager(t)

	require.NoError(t, m.AcquireFileLock("/data/a.txt", "holder-1", clk.Now().Add(time.Second)))
	clk.Advance(2 * time.Second)

	// The stale lease is removed and the new claim succeeds.
	require.NoError(t, m.AcquireFileLock("/data/a.txt", "holder-2", clk.Now().Add(time.Minute)))

	err := m.AcquireFileLock("/data/a.txt", "holder-3", clk.Now().Add(time.Minute))
	require.Error(t, err)
	assert.ErrorContains(t, err, "holder-2")
}

func TestReleaseFileLock_ToleratesMissing(t *testing.T) {
	m, _, _ := setupManager(t)
	assert.NoError(t, m.ReleaseFileLock("/data/never-locked.txt", "holder-1"))
}

// orderRecordingFS wraps the real filesystem and records every exclusive
// create, which is how leases are claimed.
type orderRecordingFS struct {
	fsys.FS
	created []string
}

func (o *orderRecordingFS) WriteFileExclusive(path string, data []byte, perm fs.FileMode) error {
	o.created = append(o.created, path)
	return o.FS.WriteFileExclusive(path, data, perm)
}

func TestAcquireLocks_LexicographicOrder(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	rec := &orderRecordingFS{FS: fsys.NewOS()}
	m := NewManager(rec, clk, dir, zap.NewNop())

	// Deliberately unsorted input.
	paths := []string{"/zeta/file.txt", "/alpha/file.txt", "/mid/file.txt"}
	_, err := m.AcquireLocks(paths, time.Minute)
	require.NoError(t, err)

	want := []string{
		filepath.Join(dir, "file-"+pathhash.HashPath("/alpha/file.txt")+".lock"),
		filepath.Join(dir, "file-"+pathhash.HashPath("/mid/file.txt")+".lock"),
		filepath.Join(dir, "file-"+pathhash.HashPath("/zeta/file.txt")+".lock"),
	}
	assert.Equal(t, want, rec.created, "leases must be claimed in sorted absolute-path order")
}

func TestAcquireLocks_PartialFailureReleasesAcquired(t *testing.T) {
	m, clk, dir := setupManager(t)

	// Pre-hold /bbb so the multi-acquire fails after claiming /aaa.
	require.NoError(t, m.AcquireFileLock("/bbb", "other-holder", clk.Now().Add(time.Minute)))

	_, err := m.AcquireLocks([]string{"/ccc", "/aaa", "/bbb"}, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindLockConflict))

	// The lease claimed before the conflict must be gone again.
	osfs := fsys.NewOS()
	assert.False(t, osfs.Exists(filepath.Join(dir, "file-"+pathhash.HashPath("/aaa")+".lock")))
	// /ccc sorts after /bbb and was never claimed.
	assert.False(t, osfs.Exists(filepath.Join(dir, "file-"+pathhash.HashPath("/ccc")+".lock")))
	// The conflicting holder's lease stays.
	assert.True(t, osfs.Exists(filepath.Join(dir, "file-"+pathhash.HashPath("/bbb")+".lock")))
}

func TestAcquireLocks_DuplicatePathsCollapse(t *testing.T) {
	m, _, _ := setupManager(t)

	id, err := m.AcquireLocks([]string{"/data/a.txt", "/data/a.txt", "/data//a.txt"}, time.Minute)
	require.NoError(t, err)

	active, err := m.ActiveLocks()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)
	assert.Len(t, active[0].Files, 1)
}

func TestReleaseLocks(t *testing.T) {
	m, _, dir := setupManager(t)

	id, err := m.AcquireLocks([]string{"/data/a.txt", "/data/b.txt"}, time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.ReleaseLocks(id))

	osfs := fsys.NewOS()
	assert.False(t, osfs.Exists(filepath.Join(dir, "file-"+pathhash.HashPath("/data/a.txt")+".lock")))
	assert.False(t, osfs.Exists(filepath.Join(dir, "file-"+pathhash.HashPath("/data/b.txt")+".lock")))

	active, err := m.ActiveLocks()
	require.NoError(t, err)
	assert.Empty(t, active, "released group must not be reported active")

	// Paths are free for a new holder.
	_, err = m.AcquireLocks([]string{"/data/a.txt"}, time.Minute)
	assert.NoError(t, err)
}

func TestActiveLocks_ExcludesExpired(t *testing.T) {
	m, clk, _ := setupManager(t)

	_, err := m.AcquireLocks([]string{"/data/a.txt"}, time.Second)
	require.NoError(t, err)

	active, err := m.ActiveLocks()
	require.NoError(t, err)
	assert.Len(t, active, 1)

	clk.Advance(2 * time.Second)

	active, err = m.ActiveLocks()
	require.NoError(t, err)
	assert.Empty(t, active)
}
