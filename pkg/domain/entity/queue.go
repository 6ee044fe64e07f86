package entity

import "time"

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// QueueEntry is a single URL awaiting (or having finished) processing.
// The (SourceID, URL) pair is unique; re-discovering a known URL is a no-op.
type QueueEntry struct {
	ID            int64      `db:"id"`
	SourceID      int64      `db:"source_id"`
	URL           string     `db:"url"`
	Domain        string     `db:"domain"`
	Status        Status     `db:"status"`
	Depth         int        `db:"depth"`
	LinkText      string     `db:"link_text"`
	DiscoveredAt  time.Time  `db:"discovered_at"`
	Attempts      int        `db:"attempts"`
	LastAttemptAt *time.Time `db:"last_attempt_at"`
	NextAttemptAt *time.Time `db:"next_attempt_at"`
}
