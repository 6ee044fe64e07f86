package entity

import "time"

// RunState is the coarse phase of a crawl pass, for display and logging.
type RunState string

const (
	StateScanningSources RunState = "SCANNING_SOURCES"
	StateProcessingQueue RunState = "PROCESSING_QUEUE"
	StateIdle            RunState = "IDLE"
)

// Metrics is a point-in-time snapshot of a crawl pass, produced for
// observers such as the dashboard.
type Metrics struct {
	State           RunState
	StartTime       time.Time
	LastUpdateTime  time.Time
	TotalWorkers    int64
	ActiveWorkers   int64
	SourcesDue      int64
	SourcesScanned  int64
	PendingEntries  int64
	ClaimedEntries  int64
	DoneEntries     int64
	FailedEntries   int64
	RetriedEntries  int64
	FetchedBytes    int64
	LinksDiscovered int64
	MatchedPages    int64
}

// SuccessRate is the fraction of finished entries that completed
// successfully. Returns 0 when nothing has finished yet.
func (m *Metrics) SuccessRate() float64 {
	total := m.DoneEntries + m.FailedEntries
	if total == 0 {
		return 0
	}
	return float64(m.DoneEntries) / float64(total)
}

// Throughput is entries finished per second since the pass started.
func (m *Metrics) Throughput() float64 {
	elapsed := m.LastUpdateTime.Sub(m.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.DoneEntries+m.FailedEntries) / elapsed
}
