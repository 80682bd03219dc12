package schedule

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestLoop(t *testing.T) {
	t.Run("bad timezone fails", func(t *testing.T) {
		if _, err := NewLoop("Mars/Olympus"); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("non-positive interval fails", func(t *testing.T) {
		l, err := NewLoop("UTC")
		if err != nil {
			t.Fatalf("NewLoop: %v", err)
		}
		if err := l.Every("bad", 0, func() {}); err == nil {
			t.Error("zero interval accepted")
		}
		if err := l.Every("bad", -time.Second, func() {}); err == nil {
			t.Error("negative interval accepted")
		}
	})

	t.Run("runs registered jobs", func(t *testing.T) {
		l, err := NewLoop("UTC")
		if err != nil {
			t.Fatalf("NewLoop: %v", err)
		}
		var ran atomic.Int32
		if err := l.Every("tick", 10*time.Millisecond, func() { ran.Add(1) }); err != nil {
			t.Fatalf("Every: %v", err)
		}
		l.Start()
		defer l.Stop()

		deadline := time.After(2 * time.Second)
		for ran.Load() == 0 {
			select {
			case <-deadline:
				t.Fatal("job never ran")
			case <-time.After(10 * time.Millisecond):
			}
		}
	})
}
