// Package scheduler runs HealBee's periodic maintenance jobs on cron expressions.
package scheduler

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler. Expressions use the standard five
// fields or a descriptor such as "@every 1m".
func NewScheduler() *Scheduler {
	logger := slogLogger{}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLogger(logger), cron.WithChain(cron.Recover(logger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	if _, err := s.cron.AddFunc(expr, task); err != nil {
		return fmt.Errorf("schedule %q: %w", expr, err)
	}
	slog.Debug("Scheduler job added", "expr", expr, "jobs", len(s.cron.Entries()))
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// slogLogger routes cron's own logging, including recovered panics, to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("scheduler: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("scheduler: "+msg, append(keysAndValues, "error", err)...)
}
