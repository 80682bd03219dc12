package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kubetools-bot/catalog"
	"kubetools-bot/monitor"
	"kubetools-bot/storage"
)

type stubQueue struct {
	pending []storage.QueueItem
	counts  map[storage.ItemState]int
}

func (s *stubQueue) Pending() []storage.QueueItem      { return s.pending }
func (s *stubQueue) Counts() map[storage.ItemState]int { return s.counts }

type stubTrigger struct {
	status     monitor.Status
	publishKey string
	publishErr error
	checkErr   error
	published  string
	checked    bool
}

func (s *stubTrigger) Status() monitor.Status { return s.status }

func (s *stubTrigger) PublishNow(ctx context.Context, entryKey string) (string, error) {
	s.published = entryKey
	if s.publishErr != nil {
		return "", s.publishErr
	}
	if s.publishKey != "" {
		return s.publishKey, nil
	}
	return entryKey, nil
}

func (s *stubTrigger) CheckCycle(ctx context.Context) error {
	s.checked = true
	return s.checkErr
}

func newTestHandler(q *stubQueue, tr *stubTrigger) http.Handler {
	if q.counts == nil {
		q.counts = map[storage.ItemState]int{}
	}
	return Handler(q, tr)
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(&stubQueue{}, &stubTrigger{})
	rec := doRequest(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestStats(t *testing.T) {
	q := &stubQueue{counts: map[storage.ItemState]int{
		storage.StatePending:   2,
		storage.StatePublished: 5,
		storage.StateFailed:    1,
	}}
	tr := &stubTrigger{status: monitor.Status{SnapshotSize: 340, LastPublishedKey: "helm"}}

	rec := doRequest(t, newTestHandler(q, tr), http.MethodGet, "/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Status monitor.Status `json:"status"`
		Queue  map[string]int `json:"queue"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Queue["pending"] != 2 || body.Queue["published"] != 5 || body.Queue["failed"] != 1 {
		t.Errorf("queue = %v", body.Queue)
	}
	if body.Status.SnapshotSize != 340 {
		t.Errorf("status = %+v", body.Status)
	}
}

func TestQueueListing(t *testing.T) {
	q := &stubQueue{pending: []storage.QueueItem{
		{
			ID:         "id-1",
			Entry:      catalog.Entry{Key: "helm", Name: "Helm", Category: "deployment", Stars: 26000, URL: "https://github.com/helm/helm"},
			State:      storage.StatePending,
			EnqueuedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			Attempts:   1,
		},
	}}

	rec := doRequest(t, newTestHandler(q, &stubTrigger{}), http.MethodGet, "/queue", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Pending []map[string]any `json:"pending"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Pending) != 1 {
		t.Fatalf("pending = %v", body.Pending)
	}
	if body.Pending[0]["entry_key"] != "helm" {
		t.Errorf("entry_key = %v", body.Pending[0]["entry_key"])
	}
	if body.Pending[0]["attempts"] != float64(1) {
		t.Errorf("attempts = %v", body.Pending[0]["attempts"])
	}
}

func TestPublishTrigger(t *testing.T) {
	t.Run("with entry key", func(t *testing.T) {
		tr := &stubTrigger{}
		rec := doRequest(t, newTestHandler(&stubQueue{}, tr), http.MethodPost, "/publish", `{"entry_key":"helm"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body)
		}
		if tr.published != "helm" {
			t.Errorf("published = %q", tr.published)
		}
	})

	t.Run("empty body publishes next eligible", func(t *testing.T) {
		tr := &stubTrigger{publishKey: "next-up"}
		rec := doRequest(t, newTestHandler(&stubQueue{}, tr), http.MethodPost, "/publish", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body)
		}
		if tr.published != "" {
			t.Errorf("published = %q, want empty key", tr.published)
		}
		if !strings.Contains(rec.Body.String(), "next-up") {
			t.Errorf("body = %s", rec.Body)
		}
	})

	t.Run("empty queue returns conflict", func(t *testing.T) {
		tr := &stubTrigger{publishErr: monitor.ErrNoEligibleItem}
		rec := doRequest(t, newTestHandler(&stubQueue{}, tr), http.MethodPost, "/publish", "")
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("already published returns conflict", func(t *testing.T) {
		tr := &stubTrigger{publishErr: fmt.Errorf("%w: %q is published", monitor.ErrItemNotPending, "helm")}
		rec := doRequest(t, newTestHandler(&stubQueue{}, tr), http.MethodPost, "/publish", `{"entry_key":"helm"}`)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("unknown key returns not found", func(t *testing.T) {
		tr := &stubTrigger{publishErr: fmt.Errorf("%w: %q", monitor.ErrUnknownItem, "ghost")}
		rec := doRequest(t, newTestHandler(&stubQueue{}, tr), http.MethodPost, "/publish", `{"entry_key":"ghost"}`)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("internal failure returns server error", func(t *testing.T) {
		tr := &stubTrigger{publishErr: errors.New("storage: commit: disk I/O error")}
		rec := doRequest(t, newTestHandler(&stubQueue{}, tr), http.MethodPost, "/publish", "")
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

func TestCheckTrigger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		tr := &stubTrigger{}
		rec := doRequest(t, newTestHandler(&stubQueue{}, tr), http.MethodPost, "/check", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if !tr.checked {
			t.Error("check cycle never ran")
		}
	})

	t.Run("failure returns bad gateway", func(t *testing.T) {
		tr := &stubTrigger{checkErr: errors.New("fetch document: boom")}
		rec := doRequest(t, newTestHandler(&stubQueue{}, tr), http.MethodPost, "/check", "")
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

func TestUnknownRoute(t *testing.T) {
	rec := doRequest(t, newTestHandler(&stubQueue{}, &stubTrigger{}), http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
