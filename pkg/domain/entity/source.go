package entity

import "time"

// Source is a monitored news site. Rows are created by external
// administration; the crawler only advances the scheduling timestamps.
type Source struct {
	ID          int64      `db:"id"`
	URL         string     `db:"url"`
	Label       string     `db:"label"`
	Active      bool       `db:"active"`
	LastCrawled *time.Time `db:"last_crawled"`
	NextCrawl   *time.Time `db:"next_crawl"`
}

// Due reports whether the source is eligible for a scan at the given time.
// A source that has never been scheduled is due immediately.
func (s *Source) Due(now time.Time) bool {
	if !s.Active {
		return false
	}
	return s.NextCrawl == nil || !s.NextCrawl.After(now)
}
