package refresh

import (
	"context"
	"errors"
	"sync"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/rs/zerolog/log"
)

// CycleRunner runs a single refresh cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*CycleReport, error)
}

// Scheduler triggers a refresh cycle at start and on every tick.
//
// Cycles run on a context that is not cancelled by Stop; Stop waits for
// an in-flight cycle to finish so accepted merges are never cut short.
type Scheduler struct {
	runner CycleRunner
	ticker ticker.Ticker

	// cycleDone receives after every attempted cycle. Used by tests.
	cycleDone chan struct{}

	started sync.Once
	stopped sync.Once
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler driven by t, typically ticker.New(interval).
func NewScheduler(runner CycleRunner, t ticker.Ticker) *Scheduler {
	return &Scheduler{
		runner: runner,
		ticker: t,
		quit:   make(chan struct{}),
	}
}

// Start launches the scheduling loop. The first cycle begins immediately.
func (s *Scheduler) Start() {
	s.started.Do(func() {
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop halts the ticker and waits for the loop, including any running
// cycle, to exit.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() {
		close(s.quit)
		s.ticker.Stop()
		s.wg.Wait()
	})
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	s.runOnce()
	s.ticker.Resume()

	for {
		select {
		case <-s.ticker.Ticks():
			s.runOnce()
		case <-s.quit:
			return
		}
	}
}

func (s *Scheduler) runOnce() {
	select {
	case <-s.quit:
		return
	default:
	}

	_, err := s.runner.RunCycle(context.Background())
	switch {
	case errors.Is(err, ErrCycleInProgress):
		log.Warn().Msg("Scheduled refresh skipped, previous cycle still running")
	case err != nil:
		log.Error().Err(err).Msg("Scheduled refresh failed")
	}

	if s.cycleDone != nil {
		select {
		case s.cycleDone <- struct{}{}:
		case <-s.quit:
		}
	}
}
