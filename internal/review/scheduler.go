package review

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bowerhall/tally/internal/alerts"
	"github.com/bowerhall/tally/internal/chat"
	"github.com/bowerhall/tally/internal/logger"
	"github.com/bowerhall/tally/internal/metrics"
)

const DefaultSchedule = "@every 3h"

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler runs review cycles on a cron schedule
type Scheduler struct {
	reviewer *Reviewer
	out      chat.Directory
	schedule cron.Schedule
	alerts   *alerts.Alerter
	loc      *time.Location
}

// NewScheduler parses spec, a five-field cron expression or a descriptor
// such as "@every 3h" or "@daily". Cron fields are read in loc.
func NewScheduler(reviewer *Reviewer, out chat.Directory, spec string, loc *time.Location, alerter *alerts.Alerter) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}

	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse review schedule %q: %w", spec, err)
	}

	if loc == nil {
		loc = time.UTC
	}

	return &Scheduler{reviewer: reviewer, out: out, schedule: sched, alerts: alerter, loc: loc}, nil
}

// Next returns the first run after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

// Run fires a review cycle at every scheduled time until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.Next(time.Now())
		logger.Debug("next review cycle", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Debug("review scheduler stopping")
			return
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()

	res, err := s.reviewer.RunCycle(ctx, s.out)
	if err != nil {
		metrics.ReviewCycles.WithLabelValues("error").Inc()
		s.alerts.Critical("review", "cycle failed", err)
		return
	}

	result := "ok"
	if res.Failed > 0 {
		result = "partial"
		s.alerts.Warn("review", "cycle finished with failed users", fmt.Errorf("%d of %d users failed", res.Failed, res.Users))
	}
	metrics.ReviewCycles.WithLabelValues(result).Inc()

	logger.Info("review cycle finished",
		"users", res.Users,
		"reminded", res.Reminded,
		"failed", res.Failed,
		"duration", time.Since(start).Round(time.Millisecond))
}
