// internal/checkpoint/types.go
package checkpoint

import "time"

type State string

const (
	StateCreated    State = "CREATED"
	StateRolledBack State = "ROLLED_BACK"
	StateSuccessful State = "SUCCESSFUL"
)

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == StateRolledBack || s == StateSuccessful
}

// FileMetadata is the stat snapshot captured alongside a file's content.
type FileMetadata struct {
	Size        int64     `json:"size"`
	ModifiedAt  time.Time `json:"modifiedAt"`
	Permissions uint32    `json:"permissions"`
}

// FileBackup holds one file's pre-mutation content. Content is stored
// zstd-compressed when it crosses the store's compression threshold.
type FileBackup struct {
	Content    []byte       `json:"content"`
	Compressed bool         `json:"compressed"`
	Metadata   FileMetadata `json:"metadata"`
}

// Metadata identifies who and what produced a checkpoint.
type Metadata struct {
	Creator        string `json:"creator"`
	ProcessID      int    `json:"processId"`
	RuntimeVersion string `json:"runtimeVersion"`
}

// Checkpoint is one checkpoint-<id>.json record. The backup set is immutable
// once created; only State and its companion timestamps ever change.
type Checkpoint struct {
	Version     int                   `json:"version"`
	ID          string                `json:"id"`
	Description string                `json:"description"`
	Timestamp   time.Time             `json:"timestamp"`
	State       State                 `json:"state"`
	FilePaths   []string              `json:"filePaths"`
	Backups     map[string]FileBackup `json:"backups"`
	Metadata    Metadata              `json:"metadata"`

	RolledBackAt *time.Time `json:"rolledBackAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// clone deep-copies a record so callers can never reach the store's cached
// copy through a returned pointer.
func (c *Checkpoint) clone() *Checkpoint {
	out := *c
	out.FilePaths = append([]string(nil), c.FilePaths...)
	out.Backups = make(map[string]FileBackup, len(c.Backups))
	for path, backup := range c.Backups {
		backup.Content = append([]byte(nil), backup.Content...)
		out.Backups[path] = backup
	}
	if c.RolledBackAt != nil {
		at := *c.RolledBackAt
		out.RolledBackAt = &at
	}
	if c.CompletedAt != nil {
		at := *c.CompletedAt
		out.CompletedAt = &at
	}
	return &out
}

// CreateResult reports what Create captured. FilesBackedUp can be less than
// the number of requested paths when some of them do not exist.
type CreateResult struct {
	CheckpointID  string    `json:"checkpointId"`
	Timestamp     time.Time `json:"timestamp"`
	FilesBackedUp int       `json:"filesBackedUp"`
}

// RollbackResult reports how many files a rollback restored.
type RollbackResult struct {
	Success       bool `json:"success"`
	FilesRestored int  `json:"filesRestored"`
}
