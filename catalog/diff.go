package catalog

import "sort"

// DiffResult holds the outcome of comparing a fresh extraction against the
// last known snapshot.
type DiffResult struct {
	// New contains entries whose identity key is absent from the snapshot,
	// ordered by key for determinism.
	New []Entry
	// Suspect is set when the fresh extraction shrank so drastically versus
	// the snapshot that it looks like a malformed fetch. No new entries are
	// reported and the snapshot must not be replaced.
	Suspect bool
}

// Diff compares the current entries against the last snapshot. An entry is new
// iff its key is absent from the snapshot; entries present in both with changed
// description or popularity are not re-reported (dedup is keyed on identity,
// not content). shrinkThreshold is the fraction of the snapshot that may
// disappear before the extraction is treated as suspect; 0.5 means a >50%
// shrinkage trips the guard. A threshold <= 0 disables the guard.
func Diff(current []Entry, snap Snapshot, shrinkThreshold float64) DiffResult {
	if shrinkThreshold > 0 && len(snap) > 0 {
		if float64(len(current)) < float64(len(snap))*(1-shrinkThreshold) {
			return DiffResult{Suspect: true}
		}
	}

	var fresh []Entry
	seen := make(map[string]struct{}, len(current))
	for _, e := range current {
		if _, dup := seen[e.Key]; dup {
			continue
		}
		seen[e.Key] = struct{}{}
		if _, known := snap[e.Key]; !known {
			fresh = append(fresh, e)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Key < fresh[j].Key })
	return DiffResult{New: fresh}
}
