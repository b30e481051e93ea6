// internal/checkpoint/store.go
package checkpoint

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"safehold/internal/clock"
	"safehold/internal/errors"
	"safehold/internal/fsys"
	"safehold/internal/oplog"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Options configures a Store.
type Options struct {
	// CacheSize is the number of loaded records kept in memory.
	CacheSize int
	// CompressMinBytes is the smallest backup content that gets compressed.
	CompressMinBytes int
}

// Store captures file content and metadata before a mutation and restores it
// on rollback. Records live as checkpoint-<id>.json files; all record writes
// are serialized behind the store mutex so concurrent state transitions on
// the same record cannot lose updates.
type Store struct {
	fs     fsys.FS
	clk    clock.Clock
	dir    string
	log    *oplog.Log
	meta   Metadata
	cache  *lru.Cache[string, *Checkpoint]
	comp   *compressor
	logger *zap.Logger
	mu     sync.Mutex
}

func NewStore(filesystem fsys.FS, clk clock.Clock, dir string, log *oplog.Log, meta Metadata, opts Options, logger *zap.Logger) (*Store, error) {
	if opts.CacheSize == 0 {
		opts.CacheSize = 128
	}
	if opts.CompressMinBytes == 0 {
		opts.CompressMinBytes = 1024
	}

	cache, err := lru.New[string, *Checkpoint](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating record cache: %w", err)
	}
	comp, err := newCompressor(opts.CompressMinBytes)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	return &Store{
		fs:     filesystem,
		clk:    clk,
		dir:    dir,
		log:    log,
		meta:   meta,
		cache:  cache,
		comp:   comp,
		logger: logger,
	}, nil
}

// Create captures every path in filePaths that exists. Missing paths are
// skipped, never an error, so the reported count can be lower than the
// number of requested paths.
func (s *Store) Create(description string, filePaths []string) (*CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.log.NextCheckpointID()
	if err != nil {
		return nil, errors.Checkpoint("failed to create checkpoint", err)
	}

	now := s.clk.Now()
	cp := &Checkpoint{
		Version:     1,
		ID:          id,
		Description: description,
		Timestamp:   now,
		State:       StateCreated,
		FilePaths:   filePaths,
		Backups:     make(map[string]FileBackup),
		Metadata:    s.meta,
	}

	for _, path := range filePaths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, errors.Checkpoint(fmt.Sprintf("failed to create checkpoint: resolving %s", path), err)
		}
		if !s.fs.Exists(abs) {
			continue
		}
		content, err := s.fs.ReadFile(abs)
		if err != nil {
			return nil, errors.Checkpoint(fmt.Sprintf("failed to create checkpoint: reading %s", abs), err)
		}
		info, err := s.fs.Stat(abs)
		if err != nil {
			return nil, errors.Checkpoint(fmt.Sprintf("failed to create checkpoint: stating %s", abs), err)
		}

		stored, compressed := s.comp.compress(content)
		cp.Backups[abs] = FileBackup{
			Content:    stored,
			Compressed: compressed,
			Metadata: FileMetadata{
				Size:        info.Size(),
				ModifiedAt:  info.ModTime(),
				Permissions: uint32(info.Mode().Perm()),
			},
		}
	}

	if err := s.write(cp); err != nil {
		return nil, errors.Checkpoint("failed to create checkpoint", err)
	}
	if err := s.log.Append(oplog.ActionCreate, id); err != nil {
		return nil, errors.Checkpoint("failed to create checkpoint", err)
	}

	s.logger.Info("checkpoint created",
		zap.String("checkpointId", id),
		zap.Int("filesBackedUp", len(cp.Backups)))

	return &CreateResult{
		CheckpointID:  id,
		Timestamp:     now,
		FilesBackedUp: len(cp.Backups),
	}, nil
}

// Rollback restores every backed-up file's content verbatim. Permission and
// modification-time restoration is best-effort; a failure there is logged
// and never aborts the rollback. Only a CREATED checkpoint may roll back.
func (s *Store) Rollback(id string) (*RollbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.load(id)
	if err != nil {
		return nil, errors.Checkpoint("failed to rollback checkpoint", err)
	}
	if cp.State != StateCreated {
		return nil, errors.Checkpoint(
			fmt.Sprintf("failed to rollback checkpoint %s: state is %s", id, cp.State), nil)
	}

	restored := 0
	for path, backup := range cp.Backups {
		content, err := s.comp.decompress(backup.Content, backup.Compressed)
		if err != nil {
			return nil, errors.Checkpoint(fmt.Sprintf("failed to rollback checkpoint %s", id), err)
		}
		if err := s.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Checkpoint(fmt.Sprintf("failed to rollback checkpoint %s", id), err)
		}
		if err := s.fs.WriteFile(path, content, fs.FileMode(backup.Metadata.Permissions)); err != nil {
			return nil, errors.Checkpoint(fmt.Sprintf("failed to rollback checkpoint %s", id), err)
		}
		restored++

		if err := s.fs.Chmod(path, fs.FileMode(backup.Metadata.Permissions)); err != nil {
			s.logger.Warn("failed to restore permissions",
				zap.String("checkpointId", id),
				zap.String("path", path),
				zap.Error(err))
		}
		if err := s.fs.Chtimes(path, backup.Metadata.ModifiedAt, backup.Metadata.ModifiedAt); err != nil {
			s.logger.Warn("failed to restore modification time",
				zap.String("checkpointId", id),
				zap.String("path", path),
				zap.Error(err))
		}
	}

	now := s.clk.Now()
	cp.State = StateRolledBack
	cp.RolledBackAt = &now
	if err := s.write(cp); err != nil {
		return nil, errors.Checkpoint(fmt.Sprintf("failed to rollback checkpoint %s", id), err)
	}
	if err := s.log.Append(oplog.ActionRollback, id); err != nil {
		return nil, errors.Checkpoint(fmt.Sprintf("failed to rollback checkpoint %s", id), err)
	}

	s.logger.Info("checkpoint rolled back",
		zap.String("checkpointId", id),
		zap.Int("filesRestored", restored))

	return &RollbackResult{Success: true, FilesRestored: restored}, nil
}

// MarkSuccessful moves a CREATED checkpoint to its SUCCESSFUL terminal state.
func (s *Store) MarkSuccessful(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.load(id)
	if err != nil {
		return errors.Checkpoint("failed to mark checkpoint successful", err)
	}
	if cp.State != StateCreated {
		return errors.Checkpoint(
			fmt.Sprintf("failed to mark checkpoint %s successful: state is %s", id, cp.State), nil)
	}

	now := s.clk.Now()
	cp.State = StateSuccessful
	cp.CompletedAt = &now
	if err := s.write(cp); err != nil {
		return errors.Checkpoint(fmt.Sprintf("failed to mark checkpoint %s successful", id), err)
	}
	if err := s.log.Append(oplog.ActionSuccess, id); err != nil {
		return errors.Checkpoint(fmt.Sprintf("failed to mark checkpoint %s successful", id), err)
	}
	return nil
}

// Get returns a copy of the checkpoint record for id. Mutating the returned
// record never reaches the store.
func (s *Store) Get(id string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.load(id)
	if err != nil {
		return nil, err
	}
	return cp.clone(), nil
}

// List returns every checkpoint record in the store directory. Unreadable
// records are skipped with a warning.
func (s *Store) List() ([]*Checkpoint, error) {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint directory: %w", err)
	}

	var out []*Checkpoint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "checkpoint-") || !strings.HasSuffix(name, ".json") || name == "checkpoint-log.json" {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "checkpoint-"), ".json")
		s.mu.Lock()
		cp, err := s.load(id)
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("failed to load checkpoint record", zap.String("file", name), zap.Error(err))
			continue
		}
		out = append(out, cp.clone())
	}
	return out, nil
}

// Delete removes a checkpoint record from disk and cache. Used by retention
// cleanup; callers are responsible for only deleting terminal records.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Remove(id)
	if err := s.fs.Remove(s.recordPath(id)); err != nil {
		return fmt.Errorf("deleting checkpoint %s: %w", id, err)
	}
	return nil
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.dir, "checkpoint-"+id+".json")
}

func (s *Store) load(id string) (*Checkpoint, error) {
	if cp, ok := s.cache.Get(id); ok {
		return cp, nil
	}
	data, err := s.fs.ReadFile(s.recordPath(id))
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint %s: %w", id, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", id, err)
	}
	s.cache.Add(id, &cp)
	return &cp, nil
}

func (s *Store) write(cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint %s: %w", cp.ID, err)
	}
	if err := s.fs.WriteFile(s.recordPath(cp.ID), data, 0644); err != nil {
		// Drop any cached copy so a failed write cannot leave memory ahead
		// of disk.
		s.cache.Remove(cp.ID)
		return fmt.Errorf("writing checkpoint %s: %w", cp.ID, err)
	}
	s.cache.Add(cp.ID, cp)
	return nil
}
