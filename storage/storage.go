package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"kubetools-bot/catalog"
)

// ItemState is the lifecycle state of a queued item.
type ItemState string

const (
	StatePending ItemState = "pending"
	// StateScheduled is a valid stored state but the current single-process
	// flow posts directly from pending; nothing writes it today.
	StateScheduled ItemState = "scheduled"
	StatePublished ItemState = "published"
	StateFailed    ItemState = "failed"
)

// QueueItem wraps an entry with queue metadata. Items are never deleted, only
// state-transitioned; the row doubles as the dedup/audit record.
type QueueItem struct {
	ID            string
	Entry         catalog.Entry
	State         ItemState
	EnqueuedAt    time.Time
	Attempts      int
	LastAttemptAt time.Time
}

// PublicationRecord is immutable proof that an identity key was published.
// The entry_key primary key enforces at most one record per identity.
type PublicationRecord struct {
	EntryKey    string
	MessageID   string
	PublishedAt time.Time
}

// Commit is a set of changes applied in one transaction. A crash mid-write
// never leaves a partially applied commit on disk.
type Commit struct {
	// ReplaceSnapshot, when set, replaces the snapshot wholesale with Snapshot.
	ReplaceSnapshot bool
	Snapshot        []catalog.Entry

	InsertItems  []QueueItem
	UpdateItems  []QueueItem
	Publications []PublicationRecord

	// State holds key/value pairs upserted into bot_state.
	State map[string]string
}

// Store provides SQLite-backed persistence for the snapshot, the queue and the
// publication log.
type Store struct {
	db *sql.DB
}

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS snapshot_entries (
	key TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	category TEXT,
	stars INTEGER NOT NULL DEFAULT 0,
	url TEXT
);

CREATE TABLE IF NOT EXISTS queue_items (
	id TEXT PRIMARY KEY,
	entry_key TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	description TEXT,
	category TEXT,
	stars INTEGER NOT NULL DEFAULT 0,
	url TEXT,
	state TEXT NOT NULL,
	enqueued_at INTEGER NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_attempt_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS publications (
	entry_key TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	published_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bot_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// New opens the SQLite database at dbPath, creates tables if they don't exist,
// and returns a Store.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: set WAL mode: %w", err)
	}

	if _, err := db.Exec(createTablesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Apply runs the commit in a single transaction, all-or-nothing.
func (s *Store) Apply(c Commit) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin commit: %w", err)
	}
	defer tx.Rollback()

	if c.ReplaceSnapshot {
		if _, err := tx.Exec(`DELETE FROM snapshot_entries`); err != nil {
			return fmt.Errorf("storage: clear snapshot: %w", err)
		}
		for _, e := range c.Snapshot {
			_, err := tx.Exec(
				`INSERT OR REPLACE INTO snapshot_entries (key, name, description, category, stars, url)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				e.Key, e.Name, e.Description, e.Category, e.Stars, e.URL,
			)
			if err != nil {
				return fmt.Errorf("storage: insert snapshot entry %q: %w", e.Key, err)
			}
		}
	}

	for _, it := range c.InsertItems {
		_, err := tx.Exec(
			`INSERT INTO queue_items (id, entry_key, name, description, category, stars, url, state, enqueued_at, attempts, last_attempt_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			it.ID, it.Entry.Key, it.Entry.Name, it.Entry.Description, it.Entry.Category, it.Entry.Stars, it.Entry.URL,
			string(it.State), it.EnqueuedAt.Unix(), it.Attempts, unixOrZero(it.LastAttemptAt),
		)
		if err != nil {
			return fmt.Errorf("storage: insert queue item %q: %w", it.Entry.Key, err)
		}
	}

	for _, it := range c.UpdateItems {
		_, err := tx.Exec(
			`UPDATE queue_items SET state = ?, attempts = ?, last_attempt_at = ? WHERE id = ?`,
			string(it.State), it.Attempts, unixOrZero(it.LastAttemptAt), it.ID,
		)
		if err != nil {
			return fmt.Errorf("storage: update queue item %q: %w", it.Entry.Key, err)
		}
	}

	for _, p := range c.Publications {
		_, err := tx.Exec(
			`INSERT INTO publications (entry_key, message_id, published_at) VALUES (?, ?, ?)`,
			p.EntryKey, p.MessageID, p.PublishedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("storage: insert publication %q: %w", p.EntryKey, err)
		}
	}

	for k, v := range c.State {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO bot_state (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("storage: set state %q: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// Snapshot loads the persisted snapshot of known entries.
func (s *Store) Snapshot() (catalog.Snapshot, error) {
	rows, err := s.db.Query(`SELECT key, name, description, category, stars, url FROM snapshot_entries`)
	if err != nil {
		return nil, fmt.Errorf("storage: load snapshot: %w", err)
	}
	defer rows.Close()

	snap := make(catalog.Snapshot)
	for rows.Next() {
		var e catalog.Entry
		if err := rows.Scan(&e.Key, &e.Name, &e.Description, &e.Category, &e.Stars, &e.URL); err != nil {
			return nil, fmt.Errorf("storage: scan snapshot entry: %w", err)
		}
		snap[e.Key] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate snapshot: %w", err)
	}
	return snap, nil
}

// QueueItems loads all queue items ordered by enqueue time then key.
func (s *Store) QueueItems() ([]QueueItem, error) {
	rows, err := s.db.Query(
		`SELECT id, entry_key, name, description, category, stars, url, state, enqueued_at, attempts, last_attempt_at
		 FROM queue_items ORDER BY enqueued_at, entry_key`)
	if err != nil {
		return nil, fmt.Errorf("storage: load queue items: %w", err)
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		var (
			it                    QueueItem
			state                 string
			enqueued, lastAttempt int64
		)
		err := rows.Scan(&it.ID, &it.Entry.Key, &it.Entry.Name, &it.Entry.Description, &it.Entry.Category,
			&it.Entry.Stars, &it.Entry.URL, &state, &enqueued, &it.Attempts, &lastAttempt)
		if err != nil {
			return nil, fmt.Errorf("storage: scan queue item: %w", err)
		}
		it.State = ItemState(state)
		it.EnqueuedAt = time.Unix(enqueued, 0).UTC()
		if lastAttempt > 0 {
			it.LastAttemptAt = time.Unix(lastAttempt, 0).UTC()
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate queue items: %w", err)
	}
	return items, nil
}

// Publications loads the publication log keyed by identity.
func (s *Store) Publications() (map[string]PublicationRecord, error) {
	rows, err := s.db.Query(`SELECT entry_key, message_id, published_at FROM publications`)
	if err != nil {
		return nil, fmt.Errorf("storage: load publications: %w", err)
	}
	defer rows.Close()

	recs := make(map[string]PublicationRecord)
	for rows.Next() {
		var (
			r  PublicationRecord
			ts int64
		)
		if err := rows.Scan(&r.EntryKey, &r.MessageID, &ts); err != nil {
			return nil, fmt.Errorf("storage: scan publication: %w", err)
		}
		r.PublishedAt = time.Unix(ts, 0).UTC()
		recs[r.EntryKey] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate publications: %w", err)
	}
	return recs, nil
}

// StateValue returns the bot_state value for key, or "" when unset.
func (s *Store) StateValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM bot_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("storage: get state %q: %w", key, err)
	}
	return value, nil
}

// SetStateValue upserts a single bot_state key/value pair.
func (s *Store) SetStateValue(key, value string) error {
	return s.Apply(Commit{State: map[string]string{key: value}})
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
