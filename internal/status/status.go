// internal/status/status.go
package status

import (
	"strconv"
	"time"

	"safehold/internal/checkpoint"
	"safehold/internal/clock"
	"safehold/internal/errors"
	"safehold/internal/journal"
	"safehold/internal/lock"
	"safehold/internal/oplog"

	"go.uber.org/zap"
)

// CheckpointStore is the slice of the checkpoint store retention needs.
type CheckpointStore interface {
	List() ([]*checkpoint.Checkpoint, error)
	Delete(id string) error
}

// TransactionJournal is the slice of the journal retention needs.
type TransactionJournal interface {
	List() ([]*journal.Transaction, error)
	Active() ([]*journal.Transaction, error)
	Delete(id string) error
}

// LockManager is the slice of the lock manager the reporter needs.
type LockManager interface {
	ActiveLocks() ([]lock.Group, error)
	RemoveExpired() (int, error)
}

// Report is the merged observability snapshot. When any read fails, only
// Error and Timestamp are populated.
type Report struct {
	Checkpoints  *CheckpointStats  `json:"checkpoints,omitempty"`
	Transactions *TransactionStats `json:"transactions,omitempty"`
	Locks        *LockStats        `json:"locks,omitempty"`
	Process      *ProcessInfo      `json:"process,omitempty"`
	Error        string            `json:"error,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

type CheckpointStats struct {
	Total  int64  `json:"total"`
	LastID string `json:"lastId"`
}

type TransactionStats struct {
	Total  int64  `json:"total"`
	LastID string `json:"lastId"`
	Active int    `json:"active"`
}

type LockStats struct {
	Active int `json:"active"`
}

// CleanupResult counts what one retention pass removed.
type CleanupResult struct {
	Checkpoints  int `json:"checkpoints"`
	Transactions int `json:"transactions"`
	Locks        int `json:"locks"`
}

// Reporter aggregates counts for observability and purges terminal records
// past a retention age.
type Reporter struct {
	log         *oplog.Log
	checkpoints CheckpointStore
	journal     TransactionJournal
	locks       LockManager
	proc        InfoProvider
	clk         clock.Clock
	logger      *zap.Logger
}

func NewReporter(log *oplog.Log, checkpoints CheckpointStore, txJournal TransactionJournal, locks LockManager, proc InfoProvider, clk clock.Clock, logger *zap.Logger) *Reporter {
	return &Reporter{
		log:         log,
		checkpoints: checkpoints,
		journal:     txJournal,
		locks:       locks,
		proc:        proc,
		clk:         clk,
		logger:      logger,
	}
}

// Status never fails: any read error is folded into the report itself.
func (r *Reporter) Status() Report {
	now := r.clk.Now()

	idx, err := r.log.Snapshot()
	if err != nil {
		return r.failed(now, err)
	}
	activeLocks, err := r.locks.ActiveLocks()
	if err != nil {
		return r.failed(now, err)
	}
	activeTxs, err := r.journal.Active()
	if err != nil {
		return r.failed(now, err)
	}

	info := r.proc.Info()
	return Report{
		Checkpoints: &CheckpointStats{
			Total:  idx.LastCheckpointID,
			LastID: formatID(idx.LastCheckpointID),
		},
		Transactions: &TransactionStats{
			Total:  idx.LastTransactionID,
			LastID: formatID(idx.LastTransactionID),
			Active: len(activeTxs),
		},
		Locks:     &LockStats{Active: len(activeLocks)},
		Process:   &info,
		Timestamp: now,
	}
}

func (r *Reporter) failed(now time.Time, err error) Report {
	r.logger.Warn("status read failed", zap.Error(err))
	return Report{Error: err.Error(), Timestamp: now}
}

// Cleanup removes checkpoint and transaction records that are both terminal
// and older than maxAge, and expired lock records regardless of age. Records
// in a non-terminal state are never deleted.
func (r *Reporter) Cleanup(maxAge time.Duration) (*CleanupResult, error) {
	now := r.clk.Now()
	result := &CleanupResult{}

	checkpoints, err := r.checkpoints.List()
	if err != nil {
		return nil, errors.Cleanup("cleanup failed", err)
	}
	for _, cp := range checkpoints {
		if !cp.State.Terminal() || now.Sub(cp.Timestamp) <= maxAge {
			continue
		}
		if err := r.checkpoints.Delete(cp.ID); err != nil {
			r.logger.Warn("failed to delete checkpoint record",
				zap.String("checkpointId", cp.ID), zap.Error(err))
			continue
		}
		result.Checkpoints++
	}

	transactions, err := r.journal.List()
	if err != nil {
		return nil, errors.Cleanup("cleanup failed", err)
	}
	for _, tx := range transactions {
		if !tx.State.Terminal() || now.Sub(tx.StartedAt) <= maxAge {
			continue
		}
		if err := r.journal.Delete(tx.ID); err != nil {
			r.logger.Warn("failed to delete transaction record",
				zap.String("transactionId", tx.ID), zap.Error(err))
			continue
		}
		result.Transactions++
	}

	removed, err := r.locks.RemoveExpired()
	if err != nil {
		return nil, errors.Cleanup("cleanup failed", err)
	}
	result.Locks = removed

	r.logger.Info("cleanup completed",
		zap.Int("checkpoints", result.Checkpoints),
		zap.Int("transactions", result.Transactions),
		zap.Int("locks", result.Locks))
	return result, nil
}

func formatID(n int64) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}
