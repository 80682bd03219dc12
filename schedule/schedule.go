package schedule

import (
	"encoding/json"
	"fmt"
	"time"
)

// State holds the per-day publication counters. It is an explicit value passed
// into and returned from Tick, persisted alongside the queue, so day rollover
// is testable with injected clocks.
type State struct {
	Day             string    `json:"day"` // YYYY-MM-DD in the planner's timezone
	PublishedToday  int       `json:"published_today"`
	LastPublishedAt time.Time `json:"last_published_at"`
}

// Encode serializes the state for the bot_state table.
func (s State) Encode() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// DecodeState parses a persisted state value. An empty value yields the zero
// state.
func DecodeState(v string) (State, error) {
	if v == "" {
		return State{}, nil
	}
	var s State
	if err := json.Unmarshal([]byte(v), &s); err != nil {
		return State{}, fmt.Errorf("schedule: decode state: %w", err)
	}
	return s, nil
}

// Decision is the outcome of one scheduling tick.
type Decision struct {
	Eligible bool
	Reason   string
}

// Planner decides whether a queued item may be released at a given instant.
// Bounding by both a daily cap and a minimum spacing interval spreads a
// backlog across the day instead of draining it in a burst.
type Planner struct {
	loc          *time.Location
	perDay       int
	minInterval  time.Duration
	postingHours map[int]bool
}

// NewPlanner builds a Planner for the given timezone. postingHours optionally
// restricts publication to the listed local hours; empty means any hour.
func NewPlanner(timezone string, perDay int, minInterval time.Duration, postingHours []int) (*Planner, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule: loading timezone %q: %w", timezone, err)
	}
	if perDay < 1 {
		return nil, fmt.Errorf("schedule: publications per day must be >= 1, got %d", perDay)
	}
	var hours map[int]bool
	if len(postingHours) > 0 {
		hours = make(map[int]bool, len(postingHours))
		for _, h := range postingHours {
			if h < 0 || h > 23 {
				return nil, fmt.Errorf("schedule: posting hour %d out of range", h)
			}
			hours[h] = true
		}
	}
	return &Planner{
		loc:          loc,
		perDay:       perDay,
		minInterval:  minInterval,
		postingHours: hours,
	}, nil
}

// Rollover advances the state to now's date, resetting the daily counter when
// the wall-clock date changed. LastPublishedAt is kept so minimum spacing
// holds across midnight.
func (p *Planner) Rollover(st State, now time.Time) State {
	day := now.In(p.loc).Format("2006-01-02")
	if st.Day != day {
		st = State{Day: day, LastPublishedAt: st.LastPublishedAt}
	}
	return st
}

// Tick evaluates one scheduling decision point. The returned state reflects
// any day rollover and must be persisted by the caller even when the decision
// is negative.
func (p *Planner) Tick(st State, now time.Time) (State, Decision) {
	local := now.In(p.loc)
	st = p.Rollover(st, now)

	if st.PublishedToday >= p.perDay {
		return st, Decision{Reason: "daily cap reached"}
	}
	if p.postingHours != nil && !p.postingHours[local.Hour()] {
		return st, Decision{Reason: "outside posting hours"}
	}
	if !st.LastPublishedAt.IsZero() && now.Sub(st.LastPublishedAt) < p.minInterval {
		return st, Decision{Reason: "minimum interval not elapsed"}
	}
	return st, Decision{Eligible: true}
}

// Record returns the state after a successful publication at now.
func (p *Planner) Record(st State, now time.Time) State {
	st.Day = now.In(p.loc).Format("2006-01-02")
	st.PublishedToday++
	st.LastPublishedAt = now.UTC()
	return st
}

// DeriveMinInterval computes the default spacing between publications from the
// daily cap: one slot width less an hour of slack, never under two hours.
func DeriveMinInterval(perDay int) time.Duration {
	if perDay < 1 {
		perDay = 1
	}
	h := 24/perDay - 1
	if h < 2 {
		h = 2
	}
	return time.Duration(h) * time.Hour
}
