// Package scheduler provides cron-based background jobs for CoachLink.
//
// Its main tenant is the nudge service, which periodically re-surfaces
// conversation tasks that an actor started and then went quiet on.
package scheduler

import (
	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler. Jobs run with panic
// recovery so a misbehaving job cannot take down the process.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow).
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a job using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, job func()) error {
	_, err := s.cron.AddFunc(expr, job)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
