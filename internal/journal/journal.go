// internal/journal/journal.go
package journal

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"safehold/internal/checkpoint"
	"safehold/internal/clock"
	"safehold/internal/errors"
	"safehold/internal/fsys"
	"safehold/internal/oplog"
	"safehold/internal/pathhash"

	"go.uber.org/zap"
)

// Restorer is the slice of the checkpoint store a transaction rollback needs.
type Restorer interface {
	Rollback(id string) (*checkpoint.RollbackResult, error)
}

// Journal records the ordered logical operations performed under one
// checkpoint. Record writes are serialized behind the journal mutex.
type Journal struct {
	fs          fsys.FS
	clk         clock.Clock
	dir         string
	log         *oplog.Log
	checkpoints Restorer
	logger      *zap.Logger
	mu          sync.Mutex
}

func New(filesystem fsys.FS, clk clock.Clock, dir string, log *oplog.Log, checkpoints Restorer, logger *zap.Logger) *Journal {
	return &Journal{
		fs:          filesystem,
		clk:         clk,
		dir:         dir,
		log:         log,
		checkpoints: checkpoints,
		logger:      logger,
	}
}

// Start opens a new ACTIVE transaction referencing checkpointID and returns
// its id.
func (j *Journal) Start(description, checkpointID string, filePaths []string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id, err := j.log.NextTransactionID()
	if err != nil {
		return "", errors.Transaction("failed to start transaction", err)
	}

	tx := &Transaction{
		Version:      1,
		ID:           id,
		Description:  description,
		CheckpointID: checkpointID,
		FilePaths:    filePaths,
		Operations:   []Operation{},
		State:        StateActive,
		StartedAt:    j.clk.Now(),
	}
	if err := j.write(tx); err != nil {
		return "", errors.Transaction("failed to start transaction", err)
	}

	j.logger.Debug("transaction started",
		zap.String("transactionId", id),
		zap.String("checkpointId", checkpointID))
	return id, nil
}

// LogOperation appends one operation to an ACTIVE transaction. Old and new
// content are truncated to maxOperationContent characters; ContentLength
// always records the true lengths.
func (j *Journal) LogOperation(txID, kind, targetPath, oldContent, newContent string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.load(txID)
	if err != nil {
		return "", errors.Transaction("failed to log operation", err)
	}
	if tx.State != StateActive {
		return "", errors.Transaction(
			fmt.Sprintf("failed to log operation: transaction %s is %s", txID, tx.State), nil)
	}

	op := Operation{
		ID:         pathhash.NewID(),
		Kind:       kind,
		TargetPath: targetPath,
		OldContent: truncate(oldContent),
		NewContent: truncate(newContent),
		ContentLength: ContentLength{
			Old: utf8.RuneCountInString(oldContent),
			New: utf8.RuneCountInString(newContent),
		},
		Timestamp: j.clk.Now(),
	}
	tx.Operations = append(tx.Operations, op)

	if err := j.write(tx); err != nil {
		return "", errors.Transaction("failed to log operation", err)
	}
	return op.ID, nil
}

// Commit moves an ACTIVE transaction to COMMITTED.
func (j *Journal) Commit(txID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.load(txID)
	if err != nil {
		return errors.Transaction("failed to commit transaction", err)
	}
	if tx.State != StateActive {
		return errors.Transaction(
			fmt.Sprintf("failed to commit transaction %s: state is %s", txID, tx.State), nil)
	}

	tx.State = StateCommitted
	if err := j.write(tx); err != nil {
		return errors.Transaction(fmt.Sprintf("failed to commit transaction %s", txID), err)
	}
	if err := j.log.Append(oplog.ActionCommit, txID); err != nil {
		return errors.Transaction(fmt.Sprintf("failed to commit transaction %s", txID), err)
	}

	j.logger.Info("transaction committed",
		zap.String("transactionId", txID),
		zap.Int("operations", len(tx.Operations)))
	return nil
}

// Rollback reverts an ACTIVE transaction. When the transaction references a
// checkpoint, the checkpoint store restores the files first; only then is the
// transaction marked ROLLED_BACK.
func (j *Journal) Rollback(txID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.load(txID)
	if err != nil {
		return errors.Transaction("failed to rollback transaction", err)
	}
	if tx.State != StateActive {
		return errors.Transaction(
			fmt.Sprintf("failed to rollback transaction %s: state is %s", txID, tx.State), nil)
	}

	if tx.CheckpointID != "" {
		if _, err := j.checkpoints.Rollback(tx.CheckpointID); err != nil {
			return errors.Transaction(
				fmt.Sprintf("failed to rollback transaction %s", txID), err)
		}
	}

	tx.State = StateRolledBack
	if err := j.write(tx); err != nil {
		return errors.Transaction(fmt.Sprintf("failed to rollback transaction %s", txID), err)
	}

	j.logger.Info("transaction rolled back", zap.String("transactionId", txID))
	return nil
}

// Get returns the transaction record for id.
func (j *Journal) Get(id string) (*Transaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.load(id)
}

// Active returns every transaction still in the ACTIVE state.
func (j *Journal) Active() ([]*Transaction, error) {
	all, err := j.List()
	if err != nil {
		return nil, err
	}
	var active []*Transaction
	for _, tx := range all {
		if tx.State == StateActive {
			active = append(active, tx)
		}
	}
	return active, nil
}

// List returns every transaction record in the journal directory. Unreadable
// records are skipped with a warning.
func (j *Journal) List() ([]*Transaction, error) {
	entries, err := j.fs.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("reading transaction directory: %w", err)
	}

	var out []*Transaction
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "transaction-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "transaction-"), ".json")
		j.mu.Lock()
		tx, err := j.load(id)
		j.mu.Unlock()
		if err != nil {
			j.logger.Warn("failed to load transaction record", zap.String("file", name), zap.Error(err))
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// Delete removes a transaction record from disk. Used by retention cleanup;
// callers are responsible for only deleting terminal records.
func (j *Journal) Delete(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.fs.Remove(j.recordPath(id)); err != nil {
		return fmt.Errorf("deleting transaction %s: %w", id, err)
	}
	return nil
}

func (j *Journal) recordPath(id string) string {
	return filepath.Join(j.dir, "transaction-"+id+".json")
}

func (j *Journal) load(id string) (*Transaction, error) {
	data, err := j.fs.ReadFile(j.recordPath(id))
	if err != nil {
		return nil, fmt.Errorf("reading transaction %s: %w", id, err)
	}
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("parsing transaction %s: %w", id, err)
	}
	return &tx, nil
}

func (j *Journal) write(tx *Transaction) error {
	data, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling transaction %s: %w", tx.ID, err)
	}
	if err := j.fs.WriteFile(j.recordPath(tx.ID), data, 0644); err != nil {
		return fmt.Errorf("writing transaction %s: %w", tx.ID, err)
	}
	return nil
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxOperationContent {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxOperationContent])
}
