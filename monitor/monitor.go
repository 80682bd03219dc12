// Package monitor orchestrates the two cycles: monitoring (fetch, extract,
// diff, enqueue) and publication ticks. Every error is caught at the cycle
// boundary; nothing here crashes the process, and each cycle re-evaluates
// from the last committed state.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kubetools-bot/catalog"
	"kubetools-bot/queue"
	"kubetools-bot/schedule"
	"kubetools-bot/storage"
	"kubetools-bot/twitter"
)

// scheduleStateKey is the bot_state key holding the encoded schedule state.
const scheduleStateKey = "schedule_state"

// Manual publish failures the ops surface distinguishes from internal errors.
var (
	ErrNoEligibleItem = errors.New("monitor: queue has no eligible item")
	ErrUnknownItem    = errors.New("monitor: unknown queue item")
	ErrItemNotPending = errors.New("monitor: item is not pending")
)

// DocumentSource supplies the current document text and repo metadata.
type DocumentSource interface {
	Readme(ctx context.Context) (string, error)
	Stars(ctx context.Context, ownerRepo string) (int, error)
}

// Publisher posts rendered text to the platform.
type Publisher interface {
	Post(ctx context.Context, text string) (string, error)
}

// Queue is the subset of queue.Manager operations the runner drives.
type Queue interface {
	EnqueueAndCommitSnapshot(fresh, snapshot []catalog.Entry) ([]storage.QueueItem, error)
	NextEligible() (storage.QueueItem, bool)
	Item(entryKey string) (storage.QueueItem, bool)
	PublishedSince(since time.Time) []catalog.Entry
	MarkPublished(entryKey, messageID string, extraState map[string]string) error
	MarkFailed(entryKey string) error
	MarkRejected(entryKey string) error
}

// StateStore reads the snapshot and schedule state.
type StateStore interface {
	Snapshot() (catalog.Snapshot, error)
	StateValue(key string) (string, error)
	SetStateValue(key, value string) error
}

// RepoLinker extracts an "owner/name" reference from an entry URL.
type RepoLinker func(url string) (string, bool)

// Config holds runner tunables.
type Config struct {
	ShrinkThreshold float64
	// EnrichStars controls whether newly detected entries get their star
	// count filled in from the repository API.
	EnrichStars bool
}

// Status is the runner's operational snapshot for the ops surface.
type Status struct {
	LastCheckAt      time.Time `json:"last_check_at"`
	LastCheckError   string    `json:"last_check_error,omitempty"`
	LastCheckNew     int       `json:"last_check_new"`
	LastCheckSkipped int       `json:"last_check_skipped"`
	SnapshotSize     int       `json:"snapshot_size"`
	LastPublishAt    time.Time `json:"last_publish_at"`
	LastPublishError string    `json:"last_publish_error,omitempty"`
	LastPublishedKey string    `json:"last_published_key,omitempty"`
}

// Runner wires the extractor, detector, queue, planner and collaborators into
// the two cycle entry points.
type Runner struct {
	source    DocumentSource
	publisher Publisher
	queue     Queue
	store     StateStore
	planner   *schedule.Planner
	render    func(catalog.Entry) string
	summarize func([]catalog.Entry) string
	repoLink  RepoLinker
	cfg       Config
	now       func() time.Time

	mu     sync.Mutex
	status Status
}

// NewRunner creates a Runner. render must be a pure function from entry to
// display text; repoLink may be nil to disable star enrichment.
func NewRunner(source DocumentSource, publisher Publisher, q Queue, store StateStore,
	planner *schedule.Planner, render func(catalog.Entry) string, repoLink RepoLinker, cfg Config) *Runner {
	return &Runner{
		source:    source,
		publisher: publisher,
		queue:     q,
		store:     store,
		planner:   planner,
		render:    render,
		repoLink:  repoLink,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock overrides the runner's clock, for tests.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// WithSummarizer enables the periodic recap: summarize renders the recap text
// from the entries published since the last summary. Without it SummaryCycle
// is a no-op.
func (r *Runner) WithSummarizer(summarize func([]catalog.Entry) string) *Runner {
	r.summarize = summarize
	return r
}

// CheckCycle runs one monitoring cycle: fetch the document, extract entries,
// diff against the snapshot and enqueue anything new. The snapshot is only
// replaced when extraction succeeded and the shrink guard did not trip.
func (r *Runner) CheckCycle(ctx context.Context) error {
	started := r.now()
	slog.Info("check cycle starting")

	doc, err := r.source.Readme(ctx)
	if err != nil {
		r.recordCheck(started, 0, 0, -1, fmt.Errorf("fetch document: %w", err))
		return fmt.Errorf("monitor: fetch document: %w", err)
	}

	res, err := catalog.Extract(doc)
	if err != nil {
		r.recordCheck(started, 0, 0, -1, err)
		return fmt.Errorf("monitor: extract: %w", err)
	}
	if n := res.SkippedTotal(); n > 0 {
		slog.Info("extraction skipped lines", "skipped", n, "reasons", res.Skipped)
	}

	snap, err := r.store.Snapshot()
	if err != nil {
		r.recordCheck(started, 0, res.SkippedTotal(), -1, err)
		return fmt.Errorf("monitor: load snapshot: %w", err)
	}

	diff := catalog.Diff(res.Entries, snap, r.cfg.ShrinkThreshold)
	if diff.Suspect {
		slog.Warn("suspected extraction failure, keeping snapshot",
			"extracted", len(res.Entries), "snapshot", len(snap))
		r.recordCheck(started, 0, res.SkippedTotal(), len(snap), nil)
		return nil
	}

	if r.cfg.EnrichStars && r.repoLink != nil {
		r.enrichStars(ctx, diff.New)
	}

	items, err := r.queue.EnqueueAndCommitSnapshot(diff.New, res.Entries)
	if err != nil {
		r.recordCheck(started, len(diff.New), res.SkippedTotal(), len(snap), err)
		return fmt.Errorf("monitor: commit cycle: %w", err)
	}

	slog.Info("check cycle complete",
		"extracted", len(res.Entries), "new", len(diff.New), "enqueued", len(items))
	r.recordCheck(started, len(items), res.SkippedTotal(), len(res.Entries), nil)
	return nil
}

// enrichStars fills in star counts for new entries whose URL points at a
// GitHub repository. Failures are logged per entry and never abort siblings.
func (r *Runner) enrichStars(ctx context.Context, entries []catalog.Entry) {
	for i := range entries {
		if entries[i].Stars > 0 {
			continue
		}
		ownerRepo, ok := r.repoLink(entries[i].URL)
		if !ok {
			continue
		}
		stars, err := r.source.Stars(ctx, ownerRepo)
		if err != nil {
			slog.Warn("star lookup failed", "entry_key", entries[i].Key, "repo", ownerRepo, "error", err)
			continue
		}
		entries[i].Stars = stars
	}
}

// PublishTick runs one scheduling decision point: evaluate the planner, and
// when a slot is open publish the next eligible item. The rolled-over schedule
// state is persisted even when nothing is published.
func (r *Runner) PublishTick(ctx context.Context) error {
	now := r.now()

	st, err := r.loadScheduleState()
	if err != nil {
		slog.Warn("schedule state unreadable, starting fresh", "error", err)
		st = schedule.State{}
	}

	st, dec := r.planner.Tick(st, now)
	if !dec.Eligible {
		slog.Debug("publish tick not eligible", "reason", dec.Reason)
		return r.saveScheduleState(st)
	}

	item, ok := r.queue.NextEligible()
	if !ok {
		slog.Debug("publish tick idle, queue empty")
		return r.saveScheduleState(st)
	}

	if err := r.publishItem(ctx, item, st, now); err != nil {
		return err
	}
	return nil
}

// PublishNow publishes a single item immediately, bypassing the daily cap and
// spacing rules but not the duplicate guard. With an empty key the next
// eligible item is used. It backs the manual trigger on the ops surface.
func (r *Runner) PublishNow(ctx context.Context, entryKey string) (string, error) {
	now := r.now()
	st, err := r.loadScheduleState()
	if err != nil {
		st = schedule.State{}
	}
	// Manual publishes skip the eligibility rules but still count against the
	// right day, so roll the state over before recording.
	st = r.planner.Rollover(st, now)

	var item storage.QueueItem
	if entryKey == "" {
		var ok bool
		item, ok = r.queue.NextEligible()
		if !ok {
			return "", ErrNoEligibleItem
		}
	} else {
		var found bool
		item, found = r.queue.Item(entryKey)
		if !found {
			return "", fmt.Errorf("%w: %q", ErrUnknownItem, entryKey)
		}
		if item.State != storage.StatePending {
			return "", fmt.Errorf("%w: %q is %s", ErrItemNotPending, entryKey, item.State)
		}
	}

	if err := r.publishItem(ctx, item, st, now); err != nil {
		return "", err
	}
	return item.Entry.Key, nil
}

// lastSummaryKey is the bot_state key holding the RFC 3339 time of the last
// posted recap.
const lastSummaryKey = "last_summary_at"

// summaryInterval is the minimum spacing between recaps. The cycle runs daily
// but posts at most once a week.
const summaryInterval = 7 * 24 * time.Hour

// SummaryCycle posts a recap of the entries published over the last week, at
// most once per week. Runs with nothing to recap record the evaluation time
// and post nothing.
func (r *Runner) SummaryCycle(ctx context.Context) error {
	if r.summarize == nil {
		return nil
	}
	now := r.now()

	last, err := r.lastSummaryAt()
	if err != nil {
		slog.Warn("last summary time unreadable, starting fresh", "error", err)
		last = time.Time{}
	}
	if !last.IsZero() && now.Sub(last) < summaryInterval {
		slog.Debug("summary cycle idle, recap already posted", "last", last)
		return nil
	}

	entries := r.queue.PublishedSince(now.Add(-summaryInterval))
	if len(entries) == 0 {
		slog.Debug("summary cycle idle, nothing published this week")
		return r.saveLastSummary(now)
	}

	msgID, err := r.publisher.Post(ctx, r.summarize(entries))
	if err != nil {
		slog.Warn("summary publish failed", "error", err)
		return fmt.Errorf("monitor: post summary: %w", err)
	}
	slog.Info("summary published", "message_id", msgID, "entries", len(entries))
	return r.saveLastSummary(now)
}

func (r *Runner) lastSummaryAt() (time.Time, error) {
	v, err := r.store.StateValue(lastSummaryKey)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}

func (r *Runner) saveLastSummary(now time.Time) error {
	if err := r.store.SetStateValue(lastSummaryKey, now.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("monitor: save summary time: %w", err)
	}
	return nil
}

// publishItem renders, posts and commits one item. The state store is never
// held open across the network call: state is read before, the post happens,
// and the resulting delta is committed after.
func (r *Runner) publishItem(ctx context.Context, item storage.QueueItem, st schedule.State, now time.Time) error {
	text := r.render(item.Entry)

	msgID, err := r.publisher.Post(ctx, text)
	if err != nil {
		r.recordPublish(now, item.Entry.Key, err)
		routeErr := r.routePublishFailure(item.Entry.Key, err)
		if saveErr := r.saveScheduleState(st); saveErr != nil {
			slog.Error("failed to save schedule state", "error", saveErr)
		}
		return routeErr
	}

	st = r.planner.Record(st, now)
	err = r.queue.MarkPublished(item.Entry.Key, msgID, map[string]string{
		scheduleStateKey: st.Encode(),
	})
	if err != nil {
		if errors.Is(err, queue.ErrDuplicatePublication) {
			// Invariant violation: the item was already published, likely by
			// an overlapping scheduler. Log loudly and do not count it.
			slog.Error("duplicate publication detected", "entry_key", item.Entry.Key, "message_id", msgID)
			return err
		}
		r.recordPublish(now, item.Entry.Key, err)
		return fmt.Errorf("monitor: mark published %q: %w", item.Entry.Key, err)
	}

	slog.Info("published", "entry_key", item.Entry.Key, "message_id", msgID,
		"published_today", st.PublishedToday)
	r.recordPublish(now, item.Entry.Key, nil)
	return nil
}

// routePublishFailure maps the failure taxonomy onto queue transitions:
// rejections fail immediately, everything else retries with bounded attempts.
func (r *Runner) routePublishFailure(entryKey string, err error) error {
	if twitter.IsRejected(err) {
		slog.Warn("publish rejected by platform", "entry_key", entryKey, "error", err)
		if qErr := r.queue.MarkRejected(entryKey); qErr != nil {
			return fmt.Errorf("monitor: mark rejected: %w", qErr)
		}
		return fmt.Errorf("monitor: publish %q: %w", entryKey, err)
	}
	if twitter.IsRateLimited(err) {
		slog.Warn("publish rate limited", "entry_key", entryKey, "error", err)
	} else {
		slog.Warn("publish failed", "entry_key", entryKey, "error", err)
	}
	if qErr := r.queue.MarkFailed(entryKey); qErr != nil {
		return fmt.Errorf("monitor: mark failed: %w", qErr)
	}
	return fmt.Errorf("monitor: publish %q: %w", entryKey, err)
}

func (r *Runner) loadScheduleState() (schedule.State, error) {
	v, err := r.store.StateValue(scheduleStateKey)
	if err != nil {
		return schedule.State{}, err
	}
	return schedule.DecodeState(v)
}

func (r *Runner) saveScheduleState(st schedule.State) error {
	if err := r.store.SetStateValue(scheduleStateKey, st.Encode()); err != nil {
		return fmt.Errorf("monitor: save schedule state: %w", err)
	}
	return nil
}

// Status returns a copy of the operational snapshot.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runner) recordCheck(at time.Time, newCount, skipped, snapshotSize int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.LastCheckAt = at
	r.status.LastCheckNew = newCount
	r.status.LastCheckSkipped = skipped
	if snapshotSize >= 0 {
		r.status.SnapshotSize = snapshotSize
	}
	r.status.LastCheckError = ""
	if err != nil {
		r.status.LastCheckError = err.Error()
	}
}

func (r *Runner) recordPublish(at time.Time, entryKey string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.LastPublishAt = at
	r.status.LastPublishError = ""
	r.status.LastPublishedKey = ""
	if err != nil {
		r.status.LastPublishError = err.Error()
		return
	}
	r.status.LastPublishedKey = entryKey
}
