package storage

import (
	"os"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// SeenFilter is a Bloom filter over normalized URLs. It answers "have
// we probably enqueued this link before" without a database round trip.
// False positives are acceptable because root source URLs bypass the
// filter and the queue's unique constraint is the real dedup boundary.
type SeenFilter struct {
	filter *bloom.BloomFilter
	size   uint
	fpRate float64
	mu     sync.Mutex
}

// FilterConfig holds Bloom filter sizing.
type FilterConfig struct {
	Size              uint
	FalsePositiveRate float64
}

// NewSeenFilter creates an empty filter sized for the expected URL count.
func NewSeenFilter(config FilterConfig) *SeenFilter {
	return &SeenFilter{
		filter: bloom.NewWithEstimates(config.Size, config.FalsePositiveRate),
		size:   config.Size,
		fpRate: config.FalsePositiveRate,
	}
}

// Contains checks if a URL has probably been seen before
func (f *SeenFilter) Contains(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter.Test([]byte(url))
}

// Add marks a URL as seen
func (f *SeenFilter) Add(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter.Add([]byte(url))
}

// Save persists the filter state
func (f *SeenFilter) Save(filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = f.filter.WriteTo(file)
	return err
}

// Load restores the filter state. A missing file leaves the filter
// empty, which is normal on first run.
func (f *SeenFilter) Load(filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	f.filter = bloom.NewWithEstimates(f.size, f.fpRate)
	_, err = f.filter.ReadFrom(file)
	return err
}
