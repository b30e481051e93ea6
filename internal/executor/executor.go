// internal/executor/executor.go
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"safehold/internal/checkpoint"
	"safehold/internal/clock"

	"go.uber.org/zap"
)

// LockManager is the slice of the lock manager the executor drives.
type LockManager interface {
	AcquireLocks(paths []string, timeout time.Duration) (string, error)
	ReleaseLocks(groupID string) error
}

// CheckpointStore is the slice of the checkpoint store the executor drives.
type CheckpointStore interface {
	Create(description string, filePaths []string) (*checkpoint.CreateResult, error)
	Rollback(id string) (*checkpoint.RollbackResult, error)
	MarkSuccessful(id string) error
}

// TransactionJournal is the slice of the journal the executor drives.
type TransactionJournal interface {
	Start(description, checkpointID string, filePaths []string) (string, error)
	LogOperation(txID, kind, targetPath, oldContent, newContent string) (string, error)
	Commit(txID string) error
	Rollback(txID string) error
}

// Operation is the caller's mutation logic, run under lock with a checkpoint
// and an open transaction. Journal entries go through op.LogOperation.
type Operation func(op *OpContext) (any, error)

// OpContext gives an Operation access to its transaction.
type OpContext struct {
	TransactionID string
	CheckpointID  string
	journal       TransactionJournal
}

// LogOperation journals one logical step of the running operation.
func (c *OpContext) LogOperation(kind, targetPath, oldContent, newContent string) (string, error) {
	return c.journal.LogOperation(c.TransactionID, kind, targetPath, oldContent, newContent)
}

// Options configures one Execute call.
type Options struct {
	Description string
	FilePaths   []string
	// Retries is the total number of attempts. Zero means one attempt.
	Retries int
	// LockTimeout is the lease lifetime for the attempt's group lock. Zero
	// falls back to the executor default.
	LockTimeout time.Duration
}

// Result reports a successful Execute.
type Result struct {
	Success       bool   `json:"success"`
	Value         any    `json:"result,omitempty"`
	CheckpointID  string `json:"checkpointId"`
	TransactionID string `json:"transactionId"`
	Attempt       int    `json:"attempt"`
}

// recoveryOutcome collects the best-effort recovery sub-failures of one
// failed attempt. They ride along in logs but never replace the primary
// operation error.
type recoveryOutcome struct {
	transactionErr error
	checkpointErr  error
}

func (r recoveryOutcome) clean() bool {
	return r.transactionErr == nil && r.checkpointErr == nil
}

func (r recoveryOutcome) String() string {
	var parts []string
	if r.transactionErr != nil {
		parts = append(parts, fmt.Sprintf("rollback-transaction failed: %v", r.transactionErr))
	}
	if r.checkpointErr != nil {
		parts = append(parts, fmt.Sprintf("rollback-checkpoint failed: %v", r.checkpointErr))
	}
	if len(parts) == 0 {
		return "recovered"
	}
	return strings.Join(parts, "; ")
}

// Executor runs caller operations as all-or-nothing units: lock, checkpoint,
// transaction, operation, then commit or recover. Locks are released after
// every attempt, success or not, so other callers are not starved while this
// one backs off.
type Executor struct {
	locks       LockManager
	checkpoints CheckpointStore
	journal     TransactionJournal
	clk         clock.Clock
	policy      Policy
	lockTimeout time.Duration
	logger      *zap.Logger
}

func New(locks LockManager, checkpoints CheckpointStore, journal TransactionJournal, clk clock.Clock, policy Policy, lockTimeout time.Duration, logger *zap.Logger) *Executor {
	if policy.Backoff == nil {
		policy.Backoff = ExponentialBackoff(time.Second)
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Executor{
		locks:       locks,
		checkpoints: checkpoints,
		journal:     journal,
		clk:         clk,
		policy:      policy,
		lockTimeout: lockTimeout,
		logger:      logger,
	}
}

// Execute runs fn atomically over opts.FilePaths, retrying per the executor's
// policy. The error returned after exhausted retries carries the attempt
// count and the final underlying failure.
func (e *Executor) Execute(ctx context.Context, fn Operation, opts Options) (*Result, error) {
	retries := opts.Retries
	if retries <= 0 {
		retries = e.policy.MaxAttempts
	}
	lockTimeout := opts.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = e.lockTimeout
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := e.attempt(fn, opts, lockTimeout, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		e.logger.Warn("atomic attempt failed",
			zap.String("description", opts.Description),
			zap.Int("attempt", attempt),
			zap.Int("retries", retries),
			zap.Error(err))

		if attempt < retries {
			if err := e.clk.Sleep(ctx, e.policy.Backoff(attempt)); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("atomic operation failed after %d attempts: %v", retries, lastErr)
}

// attempt runs one lock→checkpoint→transaction→operation cycle. Any error
// is the attempt's primary failure; recovery runs best-effort before the
// locks are dropped.
func (e *Executor) attempt(fn Operation, opts Options, lockTimeout time.Duration, attempt int) (*Result, error) {
	lockID, err := e.locks.AcquireLocks(opts.FilePaths, lockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := e.locks.ReleaseLocks(lockID); err != nil {
			e.logger.Warn("failed to release locks",
				zap.String("lockId", lockID),
				zap.Error(err))
		}
	}()

	created, err := e.checkpoints.Create(opts.Description, opts.FilePaths)
	if err != nil {
		return nil, err
	}

	txID, err := e.journal.Start(opts.Description, created.CheckpointID, opts.FilePaths)
	if err != nil {
		e.recover(txID, created.CheckpointID)
		return nil, err
	}

	opCtx := &OpContext{
		TransactionID: txID,
		CheckpointID:  created.CheckpointID,
		journal:       e.journal,
	}

	value, err := fn(opCtx)
	if err != nil {
		e.recover(txID, created.CheckpointID)
		return nil, err
	}

	if err := e.journal.Commit(txID); err != nil {
		e.recover(txID, created.CheckpointID)
		return nil, err
	}
	if err := e.checkpoints.MarkSuccessful(created.CheckpointID); err != nil {
		return nil, err
	}

	e.logger.Info("atomic operation committed",
		zap.String("description", opts.Description),
		zap.String("transactionId", txID),
		zap.String("checkpointId", created.CheckpointID),
		zap.Int("attempt", attempt))

	return &Result{
		Success:       true,
		Value:         value,
		CheckpointID:  created.CheckpointID,
		TransactionID: txID,
		Attempt:       attempt,
	}, nil
}

// recover undoes a failed attempt: transaction rollback first (which restores
// the checkpoint it references), then a direct checkpoint rollback as
// backstop. Both are best-effort; their failures are collected and logged so
// the primary error stays the one the caller sees.
func (e *Executor) recover(txID, checkpointID string) {
	var outcome recoveryOutcome
	if txID != "" {
		outcome.transactionErr = e.journal.Rollback(txID)
	}
	if checkpointID != "" {
		_, outcome.checkpointErr = e.checkpoints.Rollback(checkpointID)
	}

	if outcome.clean() {
		e.logger.Info("attempt recovered",
			zap.String("transactionId", txID),
			zap.String("checkpointId", checkpointID))
		return
	}
	if outcome.transactionErr == nil && outcome.checkpointErr != nil {
		// The transaction rollback already restored this checkpoint, so the
		// direct rollback finding it terminal is expected.
		e.logger.Debug("checkpoint already restored by transaction rollback",
			zap.String("transactionId", txID),
			zap.String("checkpointId", checkpointID))
		return
	}
	e.logger.Warn("attempt recovery incomplete",
		zap.String("transactionId", txID),
		zap.String("checkpointId", checkpointID),
		zap.String("outcome", outcome.String()))
}
