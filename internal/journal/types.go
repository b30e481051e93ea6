// internal/journal/types.go
package journal

import "time"

type State string

const (
	StateActive     State = "ACTIVE"
	StateCommitted  State = "COMMITTED"
	StateRolledBack State = "ROLLED_BACK"
)

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRolledBack
}

// maxOperationContent caps how much of an operation's before/after content is
// journaled. True lengths are always kept in ContentLength.
const maxOperationContent = 1000

// ContentLength records the untruncated sizes of an operation's content.
type ContentLength struct {
	Old int `json:"old"`
	New int `json:"new"`
}

// Operation is one journaled logical step of a transaction. Operations are
// append-only; once written they are never edited or removed.
type Operation struct {
	ID            string        `json:"id"`
	Kind          string        `json:"kind"`
	TargetPath    string        `json:"targetPath"`
	OldContent    string        `json:"oldContent"`
	NewContent    string        `json:"newContent"`
	ContentLength ContentLength `json:"contentLength"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Transaction is one transaction-<id>.json record. A transaction always
// references exactly one checkpoint, which is what rollback restores from.
type Transaction struct {
	Version      int         `json:"version"`
	ID           string      `json:"id"`
	Description  string      `json:"description"`
	CheckpointID string      `json:"checkpointId"`
	FilePaths    []string    `json:"filePaths"`
	Operations   []Operation `json:"operations"`
	State        State       `json:"state"`
	StartedAt    time.Time   `json:"startedAt"`
}
