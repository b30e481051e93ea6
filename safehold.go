// Package safehold lets a caller mutate a set of files as an all-or-nothing
// unit: advisory cross-process file leases, pre-mutation checkpoints with
// crash-consistent rollback, an append-only operation journal, and an atomic
// executor that ties them together with retry and backoff.
//
// All state lives as plain JSON records under <root>/.security, so any
// process sharing the filesystem participates in the same coordination.
package safehold

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"time"

	"safehold/internal/checkpoint"
	"safehold/internal/clock"
	"safehold/internal/config"
	"safehold/internal/errors"
	"safehold/internal/executor"
	"safehold/internal/fsys"
	"safehold/internal/journal"
	"safehold/internal/lock"
	"safehold/internal/oplog"
	"safehold/internal/status"

	"go.uber.org/zap"
)

const securityDir = ".security"

// Config re-exports the subsystem configuration for callers outside this
// module's internal tree.
type Config = config.Config

// LoadConfig reads a JSON config file, filling unset fields with defaults.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// DefaultConfig returns the default configuration rooted at root.
func DefaultConfig(root string) Config {
	return config.Default(root)
}

// Vault is the operation surface the rest of the system calls into. One
// Vault per root directory; everything it touches lives under
// <root>/.security.
type Vault struct {
	root        string
	cfg         config.Config
	fs          fsys.FS
	clk         clock.Clock
	log         *oplog.Log
	locks       *lock.Manager
	checkpoints *checkpoint.Store
	journal     *journal.Journal
	executor    *executor.Executor
	reporter    *status.Reporter
	logger      *zap.Logger
}

// Option overrides a collaborator or tunable at construction.
type Option func(*settings)

type settings struct {
	cfg  config.Config
	fs   fsys.FS
	clk  clock.Clock
	proc status.InfoProvider
}

// WithConfig replaces the default configuration wholesale.
func WithConfig(cfg config.Config) Option {
	return func(s *settings) { s.cfg = cfg }
}

// WithFilesystem injects a filesystem implementation.
func WithFilesystem(fs fsys.FS) Option {
	return func(s *settings) { s.fs = fs }
}

// WithClock injects a clock, letting tests control time and backoff.
func WithClock(clk clock.Clock) Option {
	return func(s *settings) { s.clk = clk }
}

// WithProcessInfo injects the process-metrics provider used by Status.
func WithProcessInfo(proc status.InfoProvider) Option {
	return func(s *settings) { s.proc = proc }
}

// Initialize creates the .security directory tree under root.
func Initialize(root string) error {
	dirs := []string{
		filepath.Join(root, securityDir, "checkpoints"),
		filepath.Join(root, securityDir, "locks"),
		filepath.Join(root, securityDir, "transactions"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}

// New initializes the directory tree and central log under root and wires up
// every component. Setup failure is fatal: a Vault is never returned
// half-initialized.
func New(root string, logger *zap.Logger, opts ...Option) (*Vault, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Initialization(fmt.Sprintf("failed to initialize: resolving root %s", root), err)
	}

	s := settings{
		cfg:  config.Default(absRoot),
		fs:   fsys.NewOS(),
		clk:  clock.New(),
		proc: status.NewHostProvider(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	s.cfg.Root = absRoot

	if err := Initialize(absRoot); err != nil {
		return nil, errors.Initialization("failed to initialize", err)
	}

	cpDir := filepath.Join(absRoot, securityDir, "checkpoints")
	lockDir := filepath.Join(absRoot, securityDir, "locks")
	txDir := filepath.Join(absRoot, securityDir, "transactions")

	log := oplog.New(s.fs, s.clk, filepath.Join(cpDir, "checkpoint-log.json"), logger)
	if err := log.Init(); err != nil {
		return nil, errors.Initialization("failed to initialize", err)
	}

	locks := lock.NewManager(s.fs, s.clk, lockDir, logger)

	store, err := checkpoint.NewStore(s.fs, s.clk, cpDir, log, creatorMetadata(), checkpoint.Options{
		CompressMinBytes: s.cfg.CompressMinBytes,
	}, logger)
	if err != nil {
		return nil, errors.Initialization("failed to initialize", err)
	}

	txJournal := journal.New(s.fs, s.clk, txDir, log, store, logger)

	exec := executor.New(locks, store, txJournal, s.clk, executor.Policy{
		MaxAttempts: s.cfg.MaxRetries,
		Backoff:     executor.ExponentialBackoff(time.Second),
	}, s.cfg.LockTimeout(), logger)

	reporter := status.NewReporter(log, store, txJournal, locks, s.proc, s.clk, logger)

	return &Vault{
		root:        absRoot,
		cfg:         s.cfg,
		fs:          s.fs,
		clk:         s.clk,
		log:         log,
		locks:       locks,
		checkpoints: store,
		journal:     txJournal,
		executor:    exec,
		reporter:    reporter,
		logger:      logger,
	}, nil
}

// Root returns the absolute directory the vault coordinates.
func (v *Vault) Root() string {
	return v.root
}

// CreateCheckpoint captures the current content and metadata of every
// existing path in filePaths.
func (v *Vault) CreateCheckpoint(description string, filePaths []string) (*checkpoint.CreateResult, error) {
	return v.checkpoints.Create(description, filePaths)
}

// RollbackToCheckpoint restores every file a checkpoint backed up.
func (v *Vault) RollbackToCheckpoint(id string) (*checkpoint.RollbackResult, error) {
	return v.checkpoints.Rollback(id)
}

// MarkCheckpointSuccessful records that the mutation covered by the
// checkpoint committed.
func (v *Vault) MarkCheckpointSuccessful(id string) error {
	return v.checkpoints.MarkSuccessful(id)
}

// GetCheckpoint returns one checkpoint record.
func (v *Vault) GetCheckpoint(id string) (*checkpoint.Checkpoint, error) {
	return v.checkpoints.Get(id)
}

// ListCheckpoints returns every checkpoint record.
func (v *Vault) ListCheckpoints() ([]*checkpoint.Checkpoint, error) {
	return v.checkpoints.List()
}

// AcquireLocks claims every path under one group lock. A zero timeout uses
// the configured default.
func (v *Vault) AcquireLocks(filePaths []string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = v.cfg.LockTimeout()
	}
	return v.locks.AcquireLocks(filePaths, timeout)
}

// ReleaseLocks releases a group lock.
func (v *Vault) ReleaseLocks(lockID string) error {
	return v.locks.ReleaseLocks(lockID)
}

// ActiveLocks returns every unexpired ACTIVE group lock.
func (v *Vault) ActiveLocks() ([]lock.Group, error) {
	return v.locks.ActiveLocks()
}

// StartTransaction opens a journal transaction referencing checkpointID.
func (v *Vault) StartTransaction(description, checkpointID string, filePaths []string) (string, error) {
	return v.journal.Start(description, checkpointID, filePaths)
}

// LogOperation appends one operation to an active transaction.
func (v *Vault) LogOperation(transactionID, kind, targetPath, oldContent, newContent string) (string, error) {
	return v.journal.LogOperation(transactionID, kind, targetPath, oldContent, newContent)
}

// CommitTransaction commits an active transaction.
func (v *Vault) CommitTransaction(id string) error {
	return v.journal.Commit(id)
}

// RollbackTransaction reverts an active transaction, restoring its
// checkpoint when it has one.
func (v *Vault) RollbackTransaction(id string) error {
	return v.journal.Rollback(id)
}

// ActiveTransactions returns every transaction still ACTIVE.
func (v *Vault) ActiveTransactions() ([]*journal.Transaction, error) {
	return v.journal.Active()
}

// ExecuteAtomic runs fn under lock with a checkpoint and transaction,
// committing on success and recovering on failure, with retry and
// exponential backoff per opts.
func (v *Vault) ExecuteAtomic(ctx context.Context, fn executor.Operation, opts executor.Options) (*executor.Result, error) {
	return v.executor.Execute(ctx, fn, opts)
}

// Status aggregates counters, live lock/transaction counts, and process
// metrics. Failures are reported inside the result, never raised.
func (v *Vault) Status() status.Report {
	return v.reporter.Status()
}

// Cleanup purges terminal records older than maxAge and expired locks of any
// age. A non-positive maxAge uses the configured retention.
func (v *Vault) Cleanup(maxAge time.Duration) (*status.CleanupResult, error) {
	if maxAge <= 0 {
		maxAge = v.cfg.RetentionAge()
	}
	return v.reporter.Cleanup(maxAge)
}

func creatorMetadata() checkpoint.Metadata {
	creator := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		creator = u.Username
	}
	return checkpoint.Metadata{
		Creator:        creator,
		ProcessID:      os.Getpid(),
		RuntimeVersion: runtime.Version(),
	}
}
