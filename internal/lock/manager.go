// internal/lock/manager.go
package lock

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"safehold/internal/clock"
	"safehold/internal/errors"
	"safehold/internal/fsys"
	"safehold/internal/pathhash"

	"go.uber.org/zap"
)

// Manager hands out advisory, time-bounded leases on file paths. Leases are
// plain files in the lock directory, so any process sharing the filesystem
// sees them; mutual exclusion is only as strong as callers' willingness to
// acquire before mutating.
type Manager struct {
	fs     fsys.FS
	clk    clock.Clock
	dir    string
	logger *zap.Logger
	newID  func() string
}

func NewManager(filesystem fsys.FS, clk clock.Clock, dir string, logger *zap.Logger) *Manager {
	return &Manager{
		fs:     filesystem,
		clk:    clk,
		dir:    dir,
		logger: logger,
		newID:  pathhash.NewID,
	}
}

func (m *Manager) leasePath(path string) string {
	return filepath.Join(m.dir, "file-"+pathhash.HashPath(path)+".lock")
}

func (m *Manager) groupPath(id string) string {
	return filepath.Join(m.dir, "lock-"+id+".json")
}

// AcquireFileLock claims a single path for lockID until expiresAt. The claim
// is an exclusive create of the lease file; when the file already exists the
// holder is read back, and only an expired lease may be stolen.
func (m *Manager) AcquireFileLock(path, lockID string, expiresAt time.Time) error {
	lease := Lease{LockID: lockID, ExpiresAt: expiresAt}
	data, err := json.Marshal(lease)
	if err != nil {
		return fmt.Errorf("marshaling lease for %s: %w", path, err)
	}

	leaseFile := m.leasePath(path)
	err = m.fs.WriteFileExclusive(leaseFile, data, 0644)
	if err == nil {
		return nil
	}
	if !stderrors.Is(err, fs.ErrExist) {
		return fmt.Errorf("writing lease for %s: %w", path, err)
	}

	existing, readErr := m.readLease(leaseFile)
	if readErr == nil && m.clk.Now().Before(existing.ExpiresAt) {
		return errors.LockConflict(path, existing.LockID)
	}
	// Expired (or unreadable) lease: remove it and take one more shot at the
	// exclusive create. Losing that race means someone else claimed the path
	// in the window, which is a conflict like any other.
	if readErr != nil {
		m.logger.Warn("removing unreadable lease",
			zap.String("path", path),
			zap.Error(readErr))
	}
	if err := m.fs.Remove(leaseFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale lease for %s: %w", path, err)
	}
	if err := m.fs.WriteFileExclusive(leaseFile, data, 0644); err != nil {
		if stderrors.Is(err, fs.ErrExist) {
			holder := "unknown"
			if winner, werr := m.readLease(leaseFile); werr == nil {
				holder = winner.LockID
			}
			return errors.LockConflict(path, holder)
		}
		return fmt.Errorf("writing lease for %s: %w", path, err)
	}
	return nil
}

// ReleaseFileLock removes the lease file for path. A lease that is already
// gone counts as released.
func (m *Manager) ReleaseFileLock(path, lockID string) error {
	if err := m.fs.Remove(m.leasePath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lease for %s: %w", path, err)
	}
	return nil
}

// AcquireLocks claims every path in paths under a single group lock and
// returns the group id. Paths are resolved to absolute form and acquired in
// lexicographic order; the total order is what keeps overlapping multi-file
// callers from deadlocking on each other. On a partial failure every lease
// acquired so far is released before the conflict propagates.
func (m *Manager) AcquireLocks(paths []string, timeout time.Duration) (string, error) {
	resolved, err := resolvePaths(paths)
	if err != nil {
		return "", err
	}

	groupID := m.newID()
	expiresAt := m.clk.Now().Add(timeout)

	var acquired []string
	for _, p := range resolved {
		if err := m.AcquireFileLock(p, groupID, expiresAt); err != nil {
			m.releaseAll(acquired, groupID)
			return "", err
		}
		acquired = append(acquired, p)
	}

	group := Group{
		ID:        groupID,
		Files:     make(map[string]Lease, len(resolved)),
		State:     StateActive,
		CreatedAt: m.clk.Now(),
		ExpiresAt: expiresAt,
	}
	for _, p := range resolved {
		group.Files[p] = Lease{LockID: groupID, ExpiresAt: expiresAt}
	}
	if err := m.writeGroup(&group); err != nil {
		m.releaseAll(acquired, groupID)
		return "", err
	}

	m.logger.Debug("acquired group lock",
		zap.String("lockId", groupID),
		zap.Int("files", len(resolved)))
	return groupID, nil
}

// ReleaseLocks releases every lease in the group and marks the group
// RELEASED. Individual lease failures are logged and skipped so one bad
// lease cannot strand the rest.
func (m *Manager) ReleaseLocks(groupID string) error {
	group, err := m.readGroup(groupID)
	if err != nil {
		return err
	}

	for path := range group.Files {
		if err := m.ReleaseFileLock(path, groupID); err != nil {
			m.logger.Warn("failed to release lease",
				zap.String("lockId", groupID),
				zap.String("path", path),
				zap.Error(err))
		}
	}

	group.State = StateReleased
	if err := m.writeGroup(group); err != nil {
		return err
	}

	m.logger.Debug("released group lock", zap.String("lockId", groupID))
	return nil
}

// ActiveLocks scans the lock directory and returns every group that is still
// ACTIVE and unexpired. Unreadable records are skipped with a warning.
func (m *Manager) ActiveLocks() ([]Group, error) {
	entries, err := m.fs.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("reading lock directory: %w", err)
	}

	now := m.clk.Now()
	var active []Group
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "lock-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := m.fs.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			m.logger.Warn("failed to read lock record", zap.String("file", name), zap.Error(err))
			continue
		}
		var group Group
		if err := json.Unmarshal(data, &group); err != nil {
			m.logger.Warn("failed to parse lock record", zap.String("file", name), zap.Error(err))
			continue
		}
		if group.State == StateActive && now.Before(group.ExpiresAt) {
			active = append(active, group)
		}
	}
	return active, nil
}

// RemoveExpired deletes every expired lease file and every group record that
// is RELEASED or past its expiry, returning how many records were removed.
// ACTIVE, unexpired records are never touched.
func (m *Manager) RemoveExpired() (int, error) {
	entries, err := m.fs.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("reading lock directory: %w", err)
	}

	now := m.clk.Now()
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		full := filepath.Join(m.dir, name)

		switch {
		case strings.HasPrefix(name, "file-") && strings.HasSuffix(name, ".lock"):
			lease, err := m.readLease(full)
			if err != nil {
				m.logger.Warn("skipping unreadable lease during cleanup",
					zap.String("file", name), zap.Error(err))
				continue
			}
			if !now.Before(lease.ExpiresAt) {
				if err := m.fs.Remove(full); err != nil && !os.IsNotExist(err) {
					m.logger.Warn("failed to remove expired lease",
						zap.String("file", name), zap.Error(err))
					continue
				}
				removed++
			}
		case strings.HasPrefix(name, "lock-") && strings.HasSuffix(name, ".json"):
			data, err := m.fs.ReadFile(full)
			if err != nil {
				m.logger.Warn("skipping unreadable lock record during cleanup",
					zap.String("file", name), zap.Error(err))
				continue
			}
			var group Group
			if err := json.Unmarshal(data, &group); err != nil {
				m.logger.Warn("skipping unparseable lock record during cleanup",
					zap.String("file", name), zap.Error(err))
				continue
			}
			if group.State == StateReleased || !now.Before(group.ExpiresAt) {
				if err := m.fs.Remove(full); err != nil && !os.IsNotExist(err) {
					m.logger.Warn("failed to remove lock record",
						zap.String("file", name), zap.Error(err))
					continue
				}
				removed++
			}
		}
	}
	return removed, nil
}

func (m *Manager) releaseAll(paths []string, lockID string) {
	for _, p := range paths {
		if err := m.ReleaseFileLock(p, lockID); err != nil {
			m.logger.Warn("failed to release partially acquired lease",
				zap.String("lockId", lockID),
				zap.String("path", p),
				zap.Error(err))
		}
	}
}

func (m *Manager) readLease(leaseFile string) (*Lease, error) {
	data, err := m.fs.ReadFile(leaseFile)
	if err != nil {
		return nil, err
	}
	var lease Lease
	if err := json.Unmarshal(data, &lease); err != nil {
		return nil, fmt.Errorf("parsing lease %s: %w", leaseFile, err)
	}
	return &lease, nil
}

func (m *Manager) readGroup(id string) (*Group, error) {
	data, err := m.fs.ReadFile(m.groupPath(id))
	if err != nil {
		return nil, fmt.Errorf("reading lock record %s: %w", id, err)
	}
	var group Group
	if err := json.Unmarshal(data, &group); err != nil {
		return nil, fmt.Errorf("parsing lock record %s: %w", id, err)
	}
	return &group, nil
}

func (m *Manager) writeGroup(group *Group) error {
	data, err := json.MarshalIndent(group, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling lock record %s: %w", group.ID, err)
	}
	if err := m.fs.WriteFile(m.groupPath(group.ID), data, 0644); err != nil {
		return fmt.Errorf("writing lock record %s: %w", group.ID, err)
	}
	return nil
}

// resolvePaths converts paths to unique absolute form in lexicographic order.
func resolvePaths(paths []string) ([]string, error) {
	seen := make(map[string]bool, len(paths))
	resolved := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving path %s: %w", p, err)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		resolved = append(resolved, abs)
	}
	sort.Strings(resolved)
	return resolved, nil
}
