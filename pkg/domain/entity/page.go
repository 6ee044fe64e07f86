package entity

import "time"

// Page is the extraction result of a successfully fetched queue entry.
// MatchedKeywords is empty for pages that were fetched but did not match.
type Page struct {
	ID              int64     `db:"id"`
	QueueID         int64     `db:"queue_id"`
	FetchedAt       time.Time `db:"fetched_at"`
	Title           string    `db:"title"`
	ExtractedText   string    `db:"extracted_text"`
	MatchedKeywords []string  `db:"-"`
	ReviewRank      string    `db:"review_rank"`
}

// Matched reports whether the page matched at least one keyword.
func (p *Page) Matched() bool {
	return len(p.MatchedKeywords) > 0
}
