// internal/oplog/oplog.go
package oplog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"safehold/internal/clock"
	"safehold/internal/fsys"

	"go.uber.org/zap"
)

// Actions recorded against checkpoint and transaction records.
const (
	ActionCreate   = "CREATE"
	ActionRollback = "ROLLBACK"
	ActionSuccess  = "SUCCESS"
	ActionCommit   = "COMMIT"
)

// maxEntries bounds the recent-event ring kept in the index file.
const maxEntries = 100

// Entry is one recorded event in the central index.
type Entry struct {
	Action    string    `json:"action"`
	ObjectID  string    `json:"objectId"`
	Timestamp time.Time `json:"timestamp"`
}

// Index is the persisted shape of checkpoint-log.json: the id counters plus
// a truncated history of recent events.
type Index struct {
	Version           int     `json:"version"`
	LastCheckpointID  int64   `json:"lastCheckpointId"`
	LastTransactionID int64   `json:"lastTransactionId"`
	Entries           []Entry `json:"entries"`
}

// Log serializes all access to the central index file. It is the one shared
// mutable structure in the subsystem, so every read-modify-write goes through
// its mutex.
type Log struct {
	mu     sync.Mutex
	fs     fsys.FS
	clk    clock.Clock
	path   string
	logger *zap.Logger
}

func New(fs fsys.FS, clk clock.Clock, path string, logger *zap.Logger) *Log {
	return &Log{
		fs:     fs,
		clk:    clk,
		path:   path,
		logger: logger,
	}
}

// Init creates an empty index file if none exists yet.
func (l *Log) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fs.Exists(l.path) {
		return nil
	}
	return l.write(&Index{Version: 1, Entries: []Entry{}})
}

// NextCheckpointID allocates the next checkpoint id.
func (l *Log) NextCheckpointID() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, err := l.read()
	if err != nil {
		return "", err
	}
	idx.LastCheckpointID++
	if err := l.write(idx); err != nil {
		return "", err
	}
	return strconv.FormatInt(idx.LastCheckpointID, 10), nil
}

// NextTransactionID allocates the next transaction id.
func (l *Log) NextTransactionID() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, err := l.read()
	if err != nil {
		return "", err
	}
	idx.LastTransactionID++
	if err := l.write(idx); err != nil {
		return "", err
	}
	return strconv.FormatInt(idx.LastTransactionID, 10), nil
}

// Append records an event against objectID, truncating history to the most
// recent maxEntries.
func (l *Log) Append(action, objectID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, err := l.read()
	if err != nil {
		return err
	}
	idx.Entries = append(idx.Entries, Entry{
		Action:    action,
		ObjectID:  objectID,
		Timestamp: l.clk.Now(),
	})
	if len(idx.Entries) > maxEntries {
		idx.Entries = idx.Entries[len(idx.Entries)-maxEntries:]
	}
	return l.write(idx)
}

// Snapshot returns a copy of the current index.
func (l *Log) Snapshot() (Index, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, err := l.read()
	if err != nil {
		return Index{}, err
	}
	return *idx, nil
}

func (l *Log) read() (*Index, error) {
	data, err := l.fs.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading index %s: %w", l.path, err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parsing index %s: %w", l.path, err)
	}
	return &idx, nil
}

func (l *Log) write(idx *Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}
	if err := l.fs.WriteFile(l.path, data, 0644); err != nil {
		return fmt.Errorf("writing index %s: %w", l.path, err)
	}
	return nil
}
