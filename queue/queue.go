package queue

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kubetools-bot/catalog"
	"kubetools-bot/storage"
)

// ErrDuplicatePublication signals that a publication record already exists for
// an identity key. It should be unreachable through NextEligible but guards
// against overlapping schedulers.
var ErrDuplicatePublication = errors.New("queue: publication record already exists")

// Manager holds the authoritative in-memory view of the queue and is the only
// writer of queue items and publication records. All mutations are committed
// to the store before the in-memory view is updated.
type Manager struct {
	mu        sync.Mutex
	store     *storage.Store
	items     map[string]storage.QueueItem // by entry key
	published map[string]storage.PublicationRecord

	maxAttempts  int
	retryBackoff time.Duration
	now          func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the manager's clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRetryBackoff sets the per-attempt delay before a failed item becomes
// eligible again.
func WithRetryBackoff(d time.Duration) Option {
	return func(m *Manager) { m.retryBackoff = d }
}

// NewManager loads the persisted queue and publication log into memory.
func NewManager(store *storage.Store, maxAttempts int, opts ...Option) (*Manager, error) {
	items, err := store.QueueItems()
	if err != nil {
		return nil, fmt.Errorf("queue: load items: %w", err)
	}
	published, err := store.Publications()
	if err != nil {
		return nil, fmt.Errorf("queue: load publications: %w", err)
	}

	m := &Manager{
		store:        store,
		items:        make(map[string]storage.QueueItem, len(items)),
		published:    published,
		maxAttempts:  maxAttempts,
		retryBackoff: time.Hour,
		now:          time.Now,
	}
	for _, it := range items {
		m.items[it.Entry.Key] = it
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Enqueue creates a pending item for each entry whose identity key has no
// existing queue item or publication record. Re-running detection on the same
// entries is idempotent. The new items are committed before returning.
func (m *Manager) Enqueue(entries []catalog.Entry) ([]storage.QueueItem, error) {
	return m.enqueue(entries, nil)
}

// EnqueueAndCommitSnapshot enqueues the new entries and replaces the snapshot
// in the same transaction, so a crash leaves either both or neither applied.
func (m *Manager) EnqueueAndCommitSnapshot(fresh []catalog.Entry, snapshot []catalog.Entry) ([]storage.QueueItem, error) {
	return m.enqueue(fresh, snapshot)
}

func (m *Manager) enqueue(entries []catalog.Entry, snapshot []catalog.Entry) ([]storage.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	var items []storage.QueueItem
	for _, e := range entries {
		if _, queued := m.items[e.Key]; queued {
			continue
		}
		if _, done := m.published[e.Key]; done {
			continue
		}
		items = append(items, storage.QueueItem{
			ID:         uuid.NewString(),
			Entry:      e,
			State:      storage.StatePending,
			EnqueuedAt: now,
		})
	}

	commit := storage.Commit{InsertItems: items}
	if snapshot != nil {
		commit.ReplaceSnapshot = true
		commit.Snapshot = snapshot
	}
	if len(items) == 0 && snapshot == nil {
		return nil, nil
	}
	if err := m.store.Apply(commit); err != nil {
		return nil, fmt.Errorf("queue: enqueue %d items: %w", len(items), err)
	}
	for _, it := range items {
		m.items[it.Entry.Key] = it
	}
	return items, nil
}

// NextEligible returns the oldest pending item, FIFO by enqueue timestamp with
// the identity key as tie-break. Items with failed attempts are held back for
// attempts*retryBackoff after the last attempt. The second return is false
// when nothing is eligible.
func (m *Manager) NextEligible() (storage.QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var (
		best  storage.QueueItem
		found bool
	)
	for _, it := range m.items {
		if it.State != storage.StatePending {
			continue
		}
		if it.Attempts > 0 && now.Before(it.LastAttemptAt.Add(time.Duration(it.Attempts)*m.retryBackoff)) {
			continue
		}
		if !found || earlier(it, best) {
			best = it
			found = true
		}
	}
	return best, found
}

func earlier(a, b storage.QueueItem) bool {
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.Entry.Key < b.Entry.Key
}

// MarkPublished transitions the item to published and appends its publication
// record, atomically. extraState entries (e.g. schedule counters) are written
// in the same transaction; pass nil when there are none. Fails with
// ErrDuplicatePublication if a record for the key already exists.
func (m *Manager) MarkPublished(entryKey, messageID string, extraState map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, done := m.published[entryKey]; done {
		return fmt.Errorf("%w: %s", ErrDuplicatePublication, entryKey)
	}
	it, ok := m.items[entryKey]
	if !ok {
		return fmt.Errorf("queue: mark published: unknown item %q", entryKey)
	}

	now := m.now().UTC()
	it.State = storage.StatePublished
	it.LastAttemptAt = now
	rec := storage.PublicationRecord{
		EntryKey:    entryKey,
		MessageID:   messageID,
		PublishedAt: now,
	}
	err := m.store.Apply(storage.Commit{
		UpdateItems:  []storage.QueueItem{it},
		Publications: []storage.PublicationRecord{rec},
		State:        extraState,
	})
	if err != nil {
		return fmt.Errorf("queue: mark published %q: %w", entryKey, err)
	}
	m.items[entryKey] = it
	m.published[entryKey] = rec
	return nil
}

// MarkFailed records a failed publish attempt. Once the attempt count reaches
// the configured maximum the item transitions to failed and leaves the
// eligibility pool, retained for audit.
func (m *Manager) MarkFailed(entryKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[entryKey]
	if !ok {
		return fmt.Errorf("queue: mark failed: unknown item %q", entryKey)
	}
	it.Attempts++
	it.LastAttemptAt = m.now().UTC()
	if it.Attempts >= m.maxAttempts {
		it.State = storage.StateFailed
	}
	if err := m.store.Apply(storage.Commit{UpdateItems: []storage.QueueItem{it}}); err != nil {
		return fmt.Errorf("queue: mark failed %q: %w", entryKey, err)
	}
	m.items[entryKey] = it
	return nil
}

// MarkRejected transitions the item straight to failed. Used when the platform
// rejects the message outright and a retry is wasted work.
func (m *Manager) MarkRejected(entryKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[entryKey]
	if !ok {
		return fmt.Errorf("queue: mark rejected: unknown item %q", entryKey)
	}
	it.Attempts++
	it.LastAttemptAt = m.now().UTC()
	it.State = storage.StateFailed
	if err := m.store.Apply(storage.Commit{UpdateItems: []storage.QueueItem{it}}); err != nil {
		return fmt.Errorf("queue: mark rejected %q: %w", entryKey, err)
	}
	m.items[entryKey] = it
	return nil
}

// Pending returns the pending items ordered FIFO, for the operational surface.
func (m *Manager) Pending() []storage.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []storage.QueueItem
	for _, it := range m.items {
		if it.State == storage.StatePending {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return earlier(items[i], items[j]) })
	return items
}

// Counts reports how many items are in each lifecycle state.
func (m *Manager) Counts() map[storage.ItemState]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[storage.ItemState]int)
	for _, it := range m.items {
		counts[it.State]++
	}
	return counts
}

// PublishedSince returns the entries published at or after since, ordered by
// publication time with the identity key as tie-break. It feeds the periodic
// recap.
func (m *Manager) PublishedSince(since time.Time) []catalog.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	type pub struct {
		entry catalog.Entry
		at    time.Time
	}
	var pubs []pub
	for key, rec := range m.published {
		if rec.PublishedAt.Before(since) {
			continue
		}
		it, ok := m.items[key]
		if !ok {
			continue
		}
		pubs = append(pubs, pub{it.Entry, rec.PublishedAt})
	}
	sort.Slice(pubs, func(i, j int) bool {
		if !pubs[i].at.Equal(pubs[j].at) {
			return pubs[i].at.Before(pubs[j].at)
		}
		return pubs[i].entry.Key < pubs[j].entry.Key
	})

	entries := make([]catalog.Entry, len(pubs))
	for i, p := range pubs {
		entries[i] = p.entry
	}
	return entries
}

// Item returns the queue item for an identity key.
func (m *Manager) Item(entryKey string) (storage.QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[entryKey]
	return it, ok
}
