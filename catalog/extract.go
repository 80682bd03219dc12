package catalog

import (
	"bufio"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrDocumentUnrecognized is returned when the document as a whole has no
// recognizable tool tables. Callers should skip the cycle and keep the
// previous snapshot.
var ErrDocumentUnrecognized = errors.New("catalog: document has no recognizable tool tables")

// SkipReason classifies why a candidate line was not turned into an Entry.
type SkipReason string

const (
	SkipSeparator SkipReason = "separator"
	SkipHeader    SkipReason = "header"
	SkipNoLink    SkipReason = "no_link"
	SkipEmptyName SkipReason = "empty_name"
	SkipDuplicate SkipReason = "duplicate_key"
)

// Result holds the extracted entries plus per-reason skip counts for
// observability.
type Result struct {
	Entries []Entry
	Skipped map[SkipReason]int
}

// SkippedTotal returns the total number of skipped candidate lines.
func (r *Result) SkippedTotal() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}

var (
	linkRe    = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	badgeRe   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	headingRe = regexp.MustCompile(`^(#{2,4})\s+(.+?)\s*$`)
	numberRe  = regexp.MustCompile(`^[0-9][0-9,]*$`)
)

// Extract parses the tracked document into an ordered sequence of entries.
// Unparseable lines are skipped and counted, never fatal. Formatting drift
// (extra whitespace, reordered columns) is tolerated: the name/link cell and
// the numeric cells are located by content, not by position. Only when the
// document contains no table structure at all does Extract fail with
// ErrDocumentUnrecognized.
func Extract(doc string) (*Result, error) {
	res := &Result{Skipped: make(map[SkipReason]int)}
	seen := make(map[string]struct{})

	category := "general"
	separators := 0

	sc := bufio.NewScanner(strings.NewReader(doc))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		if m := headingRe.FindStringSubmatch(line); m != nil {
			category = cleanCategory(m[2])
			continue
		}
		if !strings.HasPrefix(line, "|") {
			continue
		}

		cells := splitCells(line)
		if isSeparatorRow(cells) {
			separators++
			res.Skipped[SkipSeparator]++
			continue
		}

		e, reason := classifyRow(cells, category)
		if reason != "" {
			res.Skipped[reason]++
			continue
		}
		if _, dup := seen[e.Key]; dup {
			res.Skipped[SkipDuplicate]++
			continue
		}
		seen[e.Key] = struct{}{}
		res.Entries = append(res.Entries, e)
	}

	if len(res.Entries) == 0 && separators == 0 {
		return nil, ErrDocumentUnrecognized
	}
	return res, nil
}

// classifyRow turns one table row into an Entry or a skip reason.
func classifyRow(cells []string, category string) (Entry, SkipReason) {
	var (
		name, url string
		linkIdx   = -1
	)
	for i, c := range cells {
		if m := linkRe.FindStringSubmatch(badgeRe.ReplaceAllString(c, "")); m != nil {
			name = strings.TrimSpace(m[1])
			url = strings.TrimSpace(m[2])
			linkIdx = i
			break
		}
	}
	if linkIdx == -1 {
		if isHeaderRow(cells) {
			return Entry{}, SkipHeader
		}
		return Entry{}, SkipNoLink
	}

	// Star count: the first numeric cell after the link cell, since index-like
	// columns (Sr No) precede the name in this table shape. A numeric cell
	// before the link only counts when none follows it.
	stars := 0
	for i := linkIdx + 1; i < len(cells); i++ {
		if n, ok := parseStars(badgeRe.ReplaceAllString(cells[i], "")); ok {
			stars = n
			break
		}
	}
	if stars == 0 {
		for i := linkIdx - 1; i >= 0; i-- {
			if n, ok := parseStars(badgeRe.ReplaceAllString(cells[i], "")); ok && n > 1 {
				stars = n
				break
			}
		}
	}

	key := Slug(name)
	if key == "" {
		return Entry{}, SkipEmptyName
	}

	// Description: trailing text in the link cell, or the longest plain-text
	// cell elsewhere in the row.
	desc := strings.TrimSpace(linkRe.ReplaceAllString(badgeRe.ReplaceAllString(cells[linkIdx], ""), ""))
	for i, c := range cells {
		if i == linkIdx {
			continue
		}
		plain := strings.TrimSpace(badgeRe.ReplaceAllString(linkRe.ReplaceAllString(c, ""), ""))
		if _, isNum := parseStars(plain); isNum || plain == "" {
			continue
		}
		if len(plain) > len(desc) {
			desc = plain
		}
	}

	return Entry{
		Key:         key,
		Name:        name,
		Description: desc,
		Category:    category,
		Stars:       stars,
		URL:         url,
	}, ""
}

// splitCells splits a markdown table row into trimmed cell contents.
func splitCells(line string) []string {
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}

func isSeparatorRow(cells []string) bool {
	if len(cells) == 0 {
		return false
	}
	for _, c := range cells {
		if c == "" {
			continue
		}
		if strings.Trim(c, ":-") != "" {
			return false
		}
	}
	return true
}

func isHeaderRow(cells []string) bool {
	for _, c := range cells {
		switch strings.ToLower(c) {
		case "name", "tool", "tool name", "description", "github stars", "stars", "sr no", "sr no.", "s.no", "#":
			return true
		}
	}
	return false
}

// parseStars reads a bare star count like "1234" or "1,234".
func parseStars(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if !numberRe.MatchString(s) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

// cleanCategory normalizes a section heading into a category tag.
func cleanCategory(h string) string {
	h = strings.TrimSpace(h)
	// Drop leading emoji or other symbols before the first letter.
	start := -1
	for i, r := range h {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			start = i
			break
		}
	}
	if start < 0 {
		return "general"
	}
	return strings.ToLower(h[start:])
}
