/*
scheduler.go - Scheduled mora sweep

PURPOSE:
  Runs dues.Sweeper on a cron schedule so the mora cached on outstanding
  dues stays current for listings and reports. The live value is always
  computable on read; the sweep only refreshes the cache and heals dues a
  configuration change could not update.

DESIGN:
  - robfig/cron with SkipIfStillRunning: a slow sweep is never stacked
  - Each run gets its own timeout
  - Runs are recorded by the Sweeper (GET /api/sweeps)

CONFIGURATION:
  - Schedule:   Standard 5-field cron spec (default "0 1 * * *")
  - Timeout:    Budget for one run (default: 10 minutes)
  - RunOnStart: Sweep once immediately on Start (catch-up after downtime)

USAGE:
  scheduler := NewMoraSweepScheduler(engine.Sweeper, "0 1 * * *")
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunSweep endpoint (manual run)
  - dues/sweep.go: Sweeper
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/warp/dues-engine/dues"
)

// MoraSweepScheduler runs the mora sweep on a cron schedule.
type MoraSweepScheduler struct {
	Sweeper    *dues.Sweeper
	Schedule   string
	Timeout    time.Duration
	RunOnStart bool

	cron *cron.Cron
	mu   sync.Mutex
}

// NewMoraSweepScheduler creates a scheduler; call Start to begin.
func NewMoraSweepScheduler(sweeper *dues.Sweeper, schedule string) *MoraSweepScheduler {
	return &MoraSweepScheduler{
		Sweeper:  sweeper,
		Schedule: schedule,
		Timeout:  10 * time.Minute,
	}
}

// Start registers the sweep and starts the cron loop.
func (s *MoraSweepScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(s.Schedule, s.RunNow); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	log.Printf("[Scheduler] Started with schedule: %q", s.Schedule)

	if s.RunOnStart {
		go s.RunNow()
	}
	return nil
}

// Stop stops the cron loop and waits for a running sweep to finish.
func (s *MoraSweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	log.Println("[Scheduler] Stopped")
}

// RunNow sweeps once and logs the outcome.
func (s *MoraSweepScheduler) RunNow() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	log.Printf("[Scheduler] Sweeping mora at %v", time.Now().UTC().Format(time.RFC3339))
	run, err := s.Sweeper.Run(ctx)
	if err != nil {
		log.Printf("[Scheduler] Sweep %s failed: %v", run.ID, err)
		return
	}
	log.Printf("[Scheduler] Completed %s: %d scanned, %d updated", run.ID, run.Scanned, run.Updated)
}
