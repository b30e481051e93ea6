// internal/lock/types.go
package lock

import "time"

type State string

const (
	StateActive   State = "ACTIVE"
	StateReleased State = "RELEASED"
)

// Lease is the content of one file-<hash>.lock record. A lease is only
// meaningful until ExpiresAt; after that any acquirer may reclaim the path.
type Lease struct {
	LockID    string    `json:"lockId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Group is one lock-<id>.json record wrapping the per-file leases acquired
// together for a single atomic operation. All leases in a group share one
// expiry.
type Group struct {
	ID        string           `json:"id"`
	Files     map[string]Lease `json:"files"`
	State     State            `json:"state"`
	CreatedAt time.Time        `json:"createdAt"`
	ExpiresAt time.Time        `json:"expiresAt"`
}
