// Package storage persists sources, the crawl queue, and extracted
// pages in a single SQLite database.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/WangYihang/News-Crawler/pkg/domain/entity"
	"github.com/WangYihang/News-Crawler/pkg/domain/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	url           TEXT NOT NULL UNIQUE,
	label         TEXT NOT NULL DEFAULT '',
	active        INTEGER NOT NULL DEFAULT 1,
	last_crawled  TIMESTAMP,
	next_crawl    TIMESTAMP
);

CREATE TABLE IF NOT EXISTS queue (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id       INTEGER NOT NULL REFERENCES sources(id),
	url             TEXT NOT NULL,
	domain          TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	depth           INTEGER NOT NULL DEFAULT 0,
	link_text       TEXT NOT NULL DEFAULT '',
	discovered_at   TIMESTAMP NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_attempt_at TIMESTAMP,
	next_attempt_at TIMESTAMP,
	UNIQUE(source_id, url)
);
CREATE INDEX IF NOT EXISTS idx_queue_status ON queue(status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_queue_domain ON queue(domain);

CREATE TABLE IF NOT EXISTS pages (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	queue_id         INTEGER NOT NULL UNIQUE REFERENCES queue(id),
	fetched_at       TIMESTAMP NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	extracted_text   TEXT NOT NULL DEFAULT '',
	matched_keywords TEXT NOT NULL DEFAULT '[]',
	review_rank      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS domain_state (
	domain        TEXT PRIMARY KEY,
	last_fetch_at TIMESTAMP NOT NULL
);
`

// Store implements repository.SourceStore, repository.QueueStore, and
// repository.PageStore over SQLite. All timestamps are stored in UTC
// so that SQLite's lexicographic comparison orders them correctly.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the database at path and ensures
// the schema exists. Transactions take the write lock immediately so
// concurrent workers serialize on claims instead of failing.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&_foreign_keys=on", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, &entity.StoreError{Op: "open", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &entity.StoreError{Op: "migrate", Err: err}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InsertSource registers a monitored source, ignoring duplicates.
// Returns the row id of the (possibly pre-existing) source.
func (s *Store) InsertSource(ctx context.Context, url, label string) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (url, label) VALUES (?, ?) ON CONFLICT(url) DO NOTHING`,
		url, label)
	if err != nil {
		return 0, &entity.StoreError{Op: "insert source", Err: err}
	}
	var id int64
	if err := s.db.GetContext(ctx, &id, `SELECT id FROM sources WHERE url = ?`, url); err != nil {
		return 0, &entity.StoreError{Op: "insert source", Err: err}
	}
	return id, nil
}

// DueSources implements repository.SourceStore
func (s *Store) DueSources(ctx context.Context, now time.Time) ([]*entity.Source, error) {
	var sources []*entity.Source
	err := s.db.SelectContext(ctx, &sources,
		`SELECT * FROM sources WHERE active = 1 AND (next_crawl IS NULL OR next_crawl <= ?) ORDER BY id`,
		now.UTC())
	if err != nil {
		return nil, &entity.StoreError{Op: "due sources", Err: err}
	}
	return sources, nil
}

// ScheduleNextCrawl implements repository.SourceStore
func (s *Store) ScheduleNextCrawl(ctx context.Context, sourceID int64, next time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sources SET next_crawl = ? WHERE id = ?`, next.UTC(), sourceID)
	if err != nil {
		return &entity.StoreError{Op: "schedule next crawl", Err: err}
	}
	return nil
}

// Enqueue implements repository.QueueStore
func (s *Store) Enqueue(ctx context.Context, entry *entity.QueueEntry) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO queue (source_id, url, domain, status, depth, link_text, discovered_at, attempts, next_attempt_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL)
		 ON CONFLICT(source_id, url) DO NOTHING`,
		entry.SourceID, entry.URL, entry.Domain, entity.StatusPending,
		entry.Depth, entry.LinkText, entry.DiscoveredAt.UTC())
	if err != nil {
		return false, &entity.StoreError{Op: "enqueue", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &entity.StoreError{Op: "enqueue", Err: err}
	}
	return n == 1, nil
}

// ClaimNext implements repository.QueueStore
func (s *Store) ClaimNext(ctx context.Context, now time.Time, politeness time.Duration) (*entity.QueueEntry, error) {
	now = now.UTC()
	cutoff := now.Add(-politeness)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, &entity.StoreError{Op: "claim", Err: err}
	}
	defer tx.Rollback()

	var entry entity.QueueEntry
	err = tx.GetContext(ctx, &entry,
		`SELECT q.* FROM queue q
		 LEFT JOIN domain_state d ON d.domain = q.domain
		 WHERE q.status = ?
		   AND (q.next_attempt_at IS NULL OR q.next_attempt_at <= ?)
		   AND (d.last_fetch_at IS NULL OR d.last_fetch_at <= ?)
		 ORDER BY q.discovered_at, q.id
		 LIMIT 1`,
		entity.StatusPending, now, cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.classifyEmptyClaim(ctx, tx, now, politeness)
	}
	if err != nil {
		return nil, &entity.StoreError{Op: "claim", Err: err}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE queue SET status = ?, last_attempt_at = ? WHERE id = ? AND status = ?`,
		entity.StatusInProgress, now, entry.ID, entity.StatusPending)
	if err != nil {
		return nil, &entity.StoreError{Op: "claim", Err: err}
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, &entity.StoreError{Op: "claim", Err: fmt.Errorf("entry %d changed status concurrently", entry.ID)}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO domain_state (domain, last_fetch_at) VALUES (?, ?)
		 ON CONFLICT(domain) DO UPDATE SET last_fetch_at = excluded.last_fetch_at`,
		entry.Domain, now)
	if err != nil {
		return nil, &entity.StoreError{Op: "claim", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &entity.StoreError{Op: "claim", Err: err}
	}

	entry.Status = entity.StatusInProgress
	entry.LastAttemptAt = &now
	return &entry, nil
}

// classifyEmptyClaim distinguishes a drained queue from one that is
// merely rate limited, and computes the earliest time a pending entry
// could become claimable.
func (s *Store) classifyEmptyClaim(ctx context.Context, tx *sqlx.Tx, now time.Time, politeness time.Duration) error {
	type pendingRow struct {
		NextAttemptAt *time.Time `db:"next_attempt_at"`
		LastFetchAt   *time.Time `db:"last_fetch_at"`
	}
	var rows []pendingRow
	err := tx.SelectContext(ctx, &rows,
		`SELECT q.next_attempt_at, d.last_fetch_at FROM queue q
		 LEFT JOIN domain_state d ON d.domain = q.domain
		 WHERE q.status = ?`,
		entity.StatusPending)
	if err != nil {
		return &entity.StoreError{Op: "claim", Err: err}
	}
	if len(rows) == 0 {
		return repository.ErrQueueDrained
	}
	earliest := time.Time{}
	for _, r := range rows {
		eligible := now
		if r.NextAttemptAt != nil && r.NextAttemptAt.After(eligible) {
			eligible = *r.NextAttemptAt
		}
		if r.LastFetchAt != nil {
			if t := r.LastFetchAt.Add(politeness); t.After(eligible) {
				eligible = t
			}
		}
		if earliest.IsZero() || eligible.Before(earliest) {
			earliest = eligible
		}
	}
	return &repository.NoneEligibleError{NextEligibleAt: earliest}
}

// CompleteSuccess implements repository.QueueStore
func (s *Store) CompleteSuccess(ctx context.Context, entry *entity.QueueEntry, page *entity.Page, now time.Time) error {
	now = now.UTC()
	keywords, err := json.Marshal(page.MatchedKeywords)
	if err != nil {
		return &entity.StoreError{Op: "complete", Err: err}
	}
	if page.MatchedKeywords == nil {
		keywords = []byte("[]")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &entity.StoreError{Op: "complete", Err: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE queue SET status = ? WHERE id = ? AND status = ?`,
		entity.StatusDone, entry.ID, entity.StatusInProgress)
	if err != nil {
		return &entity.StoreError{Op: "complete", Err: err}
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return &entity.StoreError{Op: "complete", Err: fmt.Errorf("entry %d is not in progress", entry.ID)}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pages (queue_id, fetched_at, title, extracted_text, matched_keywords)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.ID, page.FetchedAt.UTC(), page.Title, page.ExtractedText, string(keywords))
	if err != nil {
		return &entity.StoreError{Op: "complete", Err: err}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sources SET last_crawled = ? WHERE id = ?`, now, entry.SourceID)
	if err != nil {
		return &entity.StoreError{Op: "complete", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &entity.StoreError{Op: "complete", Err: err}
	}
	return nil
}

// Reschedule implements repository.QueueStore
func (s *Store) Reschedule(ctx context.Context, entryID int64, attempts int, nextAttempt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue SET status = ?, attempts = ?, next_attempt_at = ? WHERE id = ? AND status = ?`,
		entity.StatusPending, attempts, nextAttempt.UTC(), entryID, entity.StatusInProgress)
	if err != nil {
		return &entity.StoreError{Op: "reschedule", Err: err}
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return &entity.StoreError{Op: "reschedule", Err: fmt.Errorf("entry %d is not in progress", entryID)}
	}
	return nil
}

// Fail implements repository.QueueStore
func (s *Store) Fail(ctx context.Context, entryID int64, attempts int, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue SET status = ?, attempts = ?, last_attempt_at = ? WHERE id = ? AND status = ?`,
		entity.StatusFailed, attempts, now.UTC(), entryID, entity.StatusInProgress)
	if err != nil {
		return &entity.StoreError{Op: "fail", Err: err}
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return &entity.StoreError{Op: "fail", Err: fmt.Errorf("entry %d is not in progress", entryID)}
	}
	return nil
}

// ResetInProgress implements repository.QueueStore
func (s *Store) ResetInProgress(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue SET status = ? WHERE status = ?`,
		entity.StatusPending, entity.StatusInProgress)
	if err != nil {
		return 0, &entity.StoreError{Op: "reset in progress", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &entity.StoreError{Op: "reset in progress", Err: err}
	}
	return n, nil
}

// PendingCount implements repository.QueueStore
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM queue WHERE status = ?`, entity.StatusPending)
	if err != nil {
		return 0, &entity.StoreError{Op: "pending count", Err: err}
	}
	return n, nil
}

// EntryByURL returns the queue entry for a (source, URL) pair, or nil
// when none exists.
func (s *Store) EntryByURL(ctx context.Context, sourceID int64, url string) (*entity.QueueEntry, error) {
	var entry entity.QueueEntry
	err := s.db.GetContext(ctx, &entry,
		`SELECT * FROM queue WHERE source_id = ? AND url = ?`, sourceID, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &entity.StoreError{Op: "entry by url", Err: err}
	}
	return &entry, nil
}

type pageRow struct {
	ID              int64     `db:"id"`
	QueueID         int64     `db:"queue_id"`
	FetchedAt       time.Time `db:"fetched_at"`
	Title           string    `db:"title"`
	ExtractedText   string    `db:"extracted_text"`
	MatchedKeywords string    `db:"matched_keywords"`
	ReviewRank      string    `db:"review_rank"`
}

func (r *pageRow) toEntity() (*entity.Page, error) {
	p := &entity.Page{
		ID:            r.ID,
		QueueID:       r.QueueID,
		FetchedAt:     r.FetchedAt,
		Title:         r.Title,
		ExtractedText: r.ExtractedText,
		ReviewRank:    r.ReviewRank,
	}
	if err := json.Unmarshal([]byte(r.MatchedKeywords), &p.MatchedKeywords); err != nil {
		return nil, fmt.Errorf("decode keywords for page %d: %w", r.ID, err)
	}
	return p, nil
}

// MatchedPages implements repository.PageStore
func (s *Store) MatchedPages(ctx context.Context) ([]*entity.Page, error) {
	return s.selectPages(ctx,
		`SELECT * FROM pages WHERE matched_keywords != '[]' ORDER BY id`)
}

// UnrankedPages implements repository.PageStore
func (s *Store) UnrankedPages(ctx context.Context, minLength int) ([]*entity.Page, error) {
	return s.selectPages(ctx,
		`SELECT * FROM pages WHERE matched_keywords != '[]' AND review_rank = '' AND LENGTH(extracted_text) >= ? ORDER BY id`,
		minLength)
}

func (s *Store) selectPages(ctx context.Context, query string, args ...any) ([]*entity.Page, error) {
	var rows []pageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, &entity.StoreError{Op: "select pages", Err: err}
	}
	pages := make([]*entity.Page, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toEntity()
		if err != nil {
			return nil, &entity.StoreError{Op: "select pages", Err: err}
		}
		pages = append(pages, p)
	}
	return pages, nil
}

// SetReviewRank implements repository.PageStore
func (s *Store) SetReviewRank(ctx context.Context, pageID int64, rank string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pages SET review_rank = ? WHERE id = ?`, rank, pageID)
	if err != nil {
		return &entity.StoreError{Op: "set review rank", Err: err}
	}
	return nil
}

// MarkShortPagesNoText implements repository.PageStore
func (s *Store) MarkShortPagesNoText(ctx context.Context, minLength int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pages SET review_rank = 'notext'
		 WHERE matched_keywords != '[]' AND review_rank = '' AND LENGTH(extracted_text) < ?`,
		minLength)
	if err != nil {
		return 0, &entity.StoreError{Op: "mark short pages", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &entity.StoreError{Op: "mark short pages", Err: err}
	}
	return n, nil
}

// MaxReviewRank implements repository.PageStore
func (s *Store) MaxReviewRank(ctx context.Context) (int64, error) {
	var highest int64
	err := s.db.GetContext(ctx, &highest,
		`SELECT COALESCE(MAX(CAST(review_rank AS INTEGER)), 0) FROM pages
		 WHERE review_rank != '' AND review_rank != 'notext'`)
	if err != nil {
		return 0, &entity.StoreError{Op: "max review rank", Err: err}
	}
	return highest, nil
}
