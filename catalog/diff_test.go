package catalog

import "testing"

func entry(key string) Entry {
	return Entry{Key: key, Name: key, URL: "https://example.com/" + key}
}

func TestDiff(t *testing.T) {
	t.Run("empty snapshot reports everything new", func(t *testing.T) {
		cur := []Entry{entry("b"), entry("a")}
		res := Diff(cur, Snapshot{}, 0.5)
		if res.Suspect {
			t.Fatal("unexpected suspect result")
		}
		if len(res.New) != 2 {
			t.Fatalf("got %d new, want 2", len(res.New))
		}
		if res.New[0].Key != "a" || res.New[1].Key != "b" {
			t.Errorf("order = [%s %s], want [a b]", res.New[0].Key, res.New[1].Key)
		}
	})

	t.Run("known entries not re-reported", func(t *testing.T) {
		snap := SnapshotOf([]Entry{entry("a"), entry("b")})
		cur := []Entry{entry("a"), entry("b"), entry("c")}
		res := Diff(cur, snap, 0.5)
		if len(res.New) != 1 || res.New[0].Key != "c" {
			t.Fatalf("New = %v, want just c", res.New)
		}
	})

	t.Run("changed metadata on known key is not new", func(t *testing.T) {
		snap := SnapshotOf([]Entry{entry("a")})
		changed := entry("a")
		changed.Description = "completely different description"
		changed.Stars = 9000
		res := Diff([]Entry{changed}, snap, 0.5)
		if len(res.New) != 0 {
			t.Fatalf("New = %v, want none", res.New)
		}
	})

	t.Run("removed entries are ignored", func(t *testing.T) {
		snap := SnapshotOf([]Entry{entry("a"), entry("b"), entry("c")})
		res := Diff([]Entry{entry("a"), entry("b")}, snap, 0.5)
		if res.Suspect {
			t.Fatal("33% shrink should not trip a 50% threshold")
		}
		if len(res.New) != 0 {
			t.Fatalf("New = %v, want none", res.New)
		}
	})

	t.Run("drastic shrink is suspect", func(t *testing.T) {
		snap := make(Snapshot)
		for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
			snap[k] = entry(k)
		}
		// 10 -> 2 is an 80% shrink against a 50% threshold.
		res := Diff([]Entry{entry("a"), entry("zz-new")}, snap, 0.5)
		if !res.Suspect {
			t.Fatal("expected suspect extraction")
		}
		if len(res.New) != 0 {
			t.Fatalf("suspect result must report no new entries, got %v", res.New)
		}
	})

	t.Run("zero threshold disables the guard", func(t *testing.T) {
		snap := SnapshotOf([]Entry{entry("a"), entry("b"), entry("c"), entry("d")})
		res := Diff([]Entry{entry("e")}, snap, 0)
		if res.Suspect {
			t.Fatal("guard should be disabled")
		}
		if len(res.New) != 1 || res.New[0].Key != "e" {
			t.Fatalf("New = %v, want just e", res.New)
		}
	})

	t.Run("duplicate keys in current counted once", func(t *testing.T) {
		res := Diff([]Entry{entry("a"), entry("a")}, Snapshot{}, 0.5)
		if len(res.New) != 1 {
			t.Fatalf("got %d new, want 1", len(res.New))
		}
	})
}
