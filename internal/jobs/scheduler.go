// Package jobs runs periodic background work.
package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper retries queued archive work.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

type Scheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	schedule string
	log      zerolog.Logger
}

// NewScheduler validates schedule up front so a typo fails at startup.
func NewScheduler(schedule string, sweeper Sweeper, log zerolog.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse archive sweep schedule %q: %w", schedule, err)
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return &Scheduler{cron: c, sweeper: sweeper, schedule: schedule, log: log}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.runSweep(ctx) }); err != nil {
		return fmt.Errorf("schedule archive sweep: %w", err)
	}
	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("scheduler started")
	return nil
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.log.Debug().Msg("archive sweep")
	if err := s.sweeper.Sweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("archive sweep failed")
	}
}

// Stop waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	<-done.Done()
	s.log.Info().Msg("scheduler stopped")
}
