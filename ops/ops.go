// Package ops exposes the operational HTTP surface: health, stats, queue
// inspection and a manual publish trigger. All handlers are thin wrappers
// around the queue manager and runner; none carry independent logic.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"kubetools-bot/monitor"
	"kubetools-bot/storage"
)

// QueueReader exposes the read side of the queue manager.
type QueueReader interface {
	Pending() []storage.QueueItem
	Counts() map[storage.ItemState]int
}

// Trigger runs operations on demand.
type Trigger interface {
	Status() monitor.Status
	PublishNow(ctx context.Context, entryKey string) (string, error)
	CheckCycle(ctx context.Context) error
}

// Handler builds the chi router for the ops surface.
func Handler(q QueueReader, t Trigger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		counts := q.Counts()
		writeJSON(w, http.StatusOK, map[string]any{
			"status": t.Status(),
			"queue": map[string]int{
				"pending":   counts[storage.StatePending],
				"published": counts[storage.StatePublished],
				"failed":    counts[storage.StateFailed],
			},
			"time": time.Now().UTC(),
		})
	})

	r.Get("/queue", func(w http.ResponseWriter, _ *http.Request) {
		items := q.Pending()
		out := make([]map[string]any, len(items))
		for i, it := range items {
			out[i] = map[string]any{
				"entry_key":   it.Entry.Key,
				"name":        it.Entry.Name,
				"category":    it.Entry.Category,
				"stars":       it.Entry.Stars,
				"url":         it.Entry.URL,
				"enqueued_at": it.EnqueuedAt,
				"attempts":    it.Attempts,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"pending": out})
	})

	r.Post("/publish", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			EntryKey string `json:"entry_key"`
		}
		if req.Body != nil {
			// An empty body means "publish the next eligible item".
			_ = json.NewDecoder(req.Body).Decode(&body)
		}
		key, err := t.PublishNow(req.Context(), body.EntryKey)
		if err != nil {
			writeJSON(w, publishErrorStatus(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"published": key})
	})

	r.Post("/check", func(w http.ResponseWriter, req *http.Request) {
		if err := t.CheckCycle(req.Context()); err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// publishErrorStatus maps manual-publish failures onto HTTP status codes:
// unknown keys are 404, state conflicts 409, everything else 500.
func publishErrorStatus(err error) int {
	switch {
	case errors.Is(err, monitor.ErrUnknownItem):
		return http.StatusNotFound
	case errors.Is(err, monitor.ErrNoEligibleItem), errors.Is(err, monitor.ErrItemNotPending):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("ops: encode response", "error", err)
	}
}
