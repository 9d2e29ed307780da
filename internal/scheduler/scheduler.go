// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scheduler drives the evaluation coordinator: periodic refreshes on
// a fixed cadence plus manual and forced-full triggers, with the guarantee
// that at most one evaluation run is ever in flight.
package scheduler

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/roleroute/internal/evaluation"
)

// Runner abstracts the evaluation coordinator for the scheduler.
type Runner interface {
	Run(ctx context.Context, trigger evaluation.Trigger) (*evaluation.Run, error)
}

// TriggerResult tells a caller what happened to their refresh request.
type TriggerResult string

const (
	// ResultAccepted means the run starts immediately.
	ResultAccepted TriggerResult = "accepted"
	// ResultQueued means a run is active; exactly one follow-up run will
	// start right after it completes.
	ResultQueued TriggerResult = "queued"
	// ResultRejected means the scheduler is shutting down.
	ResultRejected TriggerResult = "rejected"
)

// Status is the administrative view of the refresh subsystem.
type Status struct {
	Running       bool            `json:"running"`
	LastRun       *evaluation.Run `json:"last_run,omitempty"`
	NextScheduled time.Time       `json:"next_scheduled,omitempty"`
	Pending       string          `json:"pending_trigger,omitempty"`
}

// Scheduler owns the single background refresh activity. All run execution
// happens on one goroutine (a single-consumer queue of at most one pending
// trigger), which is what makes the single-run invariant structural rather
// than something to re-check everywhere.
type Scheduler struct {
	runner   Runner
	interval time.Duration

	mu           sync.Mutex
	running      bool
	pending      *evaluation.Trigger
	lastRun      *evaluation.Run
	nextTick     time.Time
	shuttingDown bool
	started      bool

	kick   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	ticker *time.Ticker
	done   chan struct{}
}

// New creates a scheduler over the given runner with a periodic cadence.
// A non-positive interval disables the periodic trigger entirely.
func New(runner Runner, interval time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. runOnStart requests one immediate
// incremental run before the first tick.
func (s *Scheduler) Start(ctx context.Context, runOnStart bool) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	var tickC <-chan time.Time
	if s.interval > 0 {
		s.ticker = time.NewTicker(s.interval)
		s.nextTick = time.Now().Add(s.interval)
		tickC = s.ticker.C
	}
	s.mu.Unlock()

	log.WithField("interval", s.interval.String()).Info("Refresh scheduler started")
	go s.loop(tickC, runOnStart)
}

// Stop cancels any in-flight evaluation and waits for the loop to exit.
// Publication is the final, non-cancellable step of a run; cancellation only
// takes effect before it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.shuttingDown = true
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.mu.Unlock()

	s.cancel()

	select {
	case <-s.done:
	case <-time.After(10 * time.Second):
		log.Warn("Refresh scheduler stop timed out waiting for loop")
	}
}

// Trigger requests an on-demand refresh. Full mode maps to a forced-full
// trigger. While a run is active the request is queued; multiple triggers
// arriving during one run coalesce into a single follow-up run, with a
// forced-full request upgrading a queued incremental one. A trigger before
// Start (there is no loop to serve it yet) is rejected the same way as one
// during shutdown.
func (s *Scheduler) Trigger(mode evaluation.Mode) TriggerResult {
	trig := evaluation.TriggerManual
	if mode == evaluation.ModeFull {
		trig = evaluation.TriggerForced
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shuttingDown || !s.started {
		return ResultRejected
	}

	s.queueLocked(trig)

	if s.running {
		return ResultQueued
	}

	select {
	case s.kick <- struct{}{}:
	default:
	}
	return ResultAccepted
}

// queueLocked stores at most one pending trigger; forced-full wins over a
// previously queued manual trigger.
func (s *Scheduler) queueLocked(trig evaluation.Trigger) {
	if s.pending == nil || trig == evaluation.TriggerForced {
		s.pending = &trig
	}
}

// Status reports the last run, whether one is active, and the next tick.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running: s.running,
		LastRun: s.lastRun,
	}
	if s.ticker != nil {
		st.NextScheduled = s.nextTick
	}
	if s.pending != nil {
		st.Pending = string(*s.pending)
	}
	return st
}

// SetLastRun seeds the status view, e.g. from the audit trail at startup.
func (s *Scheduler) SetLastRun(run *evaluation.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = run
}

func (s *Scheduler) loop(tickC <-chan time.Time, runOnStart bool) {
	defer close(s.done)

	if runOnStart {
		s.execute(evaluation.TriggerScheduled)
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-tickC:
			s.mu.Lock()
			s.nextTick = time.Now().Add(s.interval)
			s.mu.Unlock()
			s.execute(evaluation.TriggerScheduled)
		case <-s.kick:
			s.runPending()
		}
	}
}

// execute runs one evaluation, then drains any trigger queued while it ran.
// Periodic ticks that fired during the run are dropped afterwards so a slow
// run never causes a burst of catch-up cycles.
func (s *Scheduler) execute(trig evaluation.Trigger) {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.running = true
	// A tick or kick consumed its own pending marker, if any.
	if s.pending != nil && *s.pending == trig {
		s.pending = nil
	}
	s.mu.Unlock()

	run, err := s.runner.Run(s.ctx, trig)
	if err != nil {
		log.WithError(err).Debug("Evaluation run finished with error")
	}

	s.mu.Lock()
	s.running = false
	if run != nil {
		s.lastRun = run
	}
	s.mu.Unlock()

	s.drainStaleTicks()
	s.runPending()
}

// runPending executes the single queued trigger, if any.
func (s *Scheduler) runPending() {
	s.mu.Lock()
	if s.pending == nil || s.running || s.shuttingDown {
		s.mu.Unlock()
		return
	}
	trig := *s.pending
	s.pending = nil
	s.mu.Unlock()

	s.execute(trig)
}

// drainStaleTicks discards ticker fires that accumulated during a run; the
// next periodic refresh still happens on schedule.
func (s *Scheduler) drainStaleTicks() {
	if s.ticker == nil {
		return
	}
	select {
	case <-s.ticker.C:
	default:
	}
}
