package catalog

import "strings"

// Entry is one catalog item from the tracked document: a named tool with metadata.
type Entry struct {
	Key         string // identity slug derived from the display name
	Name        string
	Description string
	Category    string
	Stars       int
	URL         string
}

// Snapshot maps identity key to Entry and represents everything known as of the
// last successful extraction. It is replaced wholesale per cycle, never edited
// in place.
type Snapshot map[string]Entry

// SnapshotOf builds a Snapshot from an entry list. The first entry wins when
// two entries share a key.
func SnapshotOf(entries []Entry) Snapshot {
	snap := make(Snapshot, len(entries))
	for _, e := range entries {
		if _, ok := snap[e.Key]; !ok {
			snap[e.Key] = e
		}
	}
	return snap
}

// Slug derives the identity key for a display name: lowercase, alphanumeric
// runs joined by single dashes. Two entries with the same slug are the same
// catalog item even if their description text changed.
func Slug(name string) string {
	var b strings.Builder
	dash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
