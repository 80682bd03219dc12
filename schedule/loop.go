package schedule

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Loop runs the periodic monitoring and publish-tick jobs on a cron scheduler
// in the configured timezone.
type Loop struct {
	cron *cron.Cron
}

// NewLoop creates a Loop in the given timezone.
func NewLoop(timezone string) (*Loop, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule: loading timezone %q: %w", timezone, err)
	}
	return &Loop{cron: cron.New(cron.WithLocation(loc))}, nil
}

// Every registers a job running at a fixed interval.
func (l *Loop) Every(name string, interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("schedule: job %s: interval must be positive", name)
	}
	expr := fmt.Sprintf("@every %s", interval)
	if _, err := l.cron.AddFunc(expr, task); err != nil {
		return fmt.Errorf("schedule: adding job %s: %w", name, err)
	}
	slog.Info("job scheduled", "job", name, "interval", interval.String())
	return nil
}

// Start begins the cron scheduler.
func (l *Loop) Start() {
	l.cron.Start()
}

// Stop halts the cron scheduler.
func (l *Loop) Stop() {
	l.cron.Stop()
}
