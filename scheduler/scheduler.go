package scheduler

import (
	"context"
	"fmt"
	"time"

	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/juju/clock"
	"github.com/rs/zerolog/log"
)

// Scheduler runs scan cycles on a fixed interval, one at a time.
// The first cycle runs one full interval after Run is called.
type Scheduler struct {
	clock    clock.Clock
	interval time.Duration
	trigger  coursechange.TriggerService
	requests chan struct{}
	done     chan struct{}
}

func NewScheduler(clk clock.Clock, interval time.Duration, t coursechange.TriggerService) *Scheduler {
	return &Scheduler{
		clock:    clk,
		interval: interval,
		trigger:  t,
		requests: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Request queues an extra cycle that runs on the scheduler's own loop, so it never overlaps
// a scheduled one. It returns false when a request is already queued.
func (s *Scheduler) Request() bool {
	select {
	case s.requests <- struct{}{}:
		return true
	default:
		return false
	}
}

// Done is closed once Run has returned
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Run blocks until ctx is cancelled. A cycle in flight when that happens is
// allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)

	if s.interval <= 0 {
		return fmt.Errorf("scan interval must be positive, got %s", s.interval)
	}

	log.Info().Dur("interval", s.interval).Msg("scheduler started")

	next := s.clock.Now().Add(s.interval)
	timer := s.clock.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return nil
		case <-timer.Chan():
			s.cycle(ctx)

			// deadlines that passed while the cycle was running are dropped
			now := s.clock.Now()
			next = next.Add(s.interval)
			for !next.After(now) {
				next = next.Add(s.interval)
			}
			timer.Reset(next.Sub(now))
		case <-s.requests:
			log.Info().Msg("running requested scan")
			s.cycle(ctx)
		}
	}
}

// cycle never lets a failure escape to the loop
func (s *Scheduler) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("scan cycle panicked")
		}
	}()

	start := s.clock.Now()
	report, err := s.trigger.Trigger(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scan cycle failed")
		return
	}

	log.Debug().Dur("took", s.clock.Now().Sub(start)).Int("changes", len(report.Changes)).Msg("scan cycle finished")
}
