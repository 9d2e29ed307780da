// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/roleroute/internal/evaluation"
)

// blockingRunner records runs and can hold a run open until released.
type blockingRunner struct {
	mu       sync.Mutex
	runs     []evaluation.Trigger
	started  chan struct{}
	release  chan struct{}
	blocking bool
}

func newBlockingRunner(blocking bool) *blockingRunner {
	return &blockingRunner{
		started:  make(chan struct{}, 16),
		release:  make(chan struct{}),
		blocking: blocking,
	}
}

func (r *blockingRunner) Run(ctx context.Context, trigger evaluation.Trigger) (*evaluation.Run, error) {
	r.mu.Lock()
	r.runs = append(r.runs, trigger)
	r.mu.Unlock()

	r.started <- struct{}{}
	if r.blocking {
		select {
		case <-r.release:
		case <-ctx.Done():
		}
	}
	return &evaluation.Run{ID: "run", Trigger: trigger, Succeeded: true}, nil
}

func (r *blockingRunner) triggers() []evaluation.Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]evaluation.Trigger, len(r.runs))
	copy(out, r.runs)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestTriggerBeforeStartIsRejected(t *testing.T) {
	s := New(newBlockingRunner(false), 0)
	assert.Equal(t, ResultRejected, s.Trigger(evaluation.ModeIncremental))
}

func TestManualTriggerRuns(t *testing.T) {
	runner := newBlockingRunner(false)
	s := New(runner, 0)
	s.Start(context.Background(), false)
	defer s.Stop()

	assert.Equal(t, ResultAccepted, s.Trigger(evaluation.ModeIncremental))
	waitFor(t, func() bool { return len(runner.triggers()) == 1 })
	assert.Equal(t, evaluation.TriggerManual, runner.triggers()[0])

	waitFor(t, func() bool { return s.Status().LastRun != nil })
	assert.True(t, s.Status().LastRun.Succeeded)
}

func TestForcedTriggerUsesFullMode(t *testing.T) {
	runner := newBlockingRunner(false)
	s := New(runner, 0)
	s.Start(context.Background(), false)
	defer s.Stop()

	s.Trigger(evaluation.ModeFull)
	waitFor(t, func() bool { return len(runner.triggers()) == 1 })
	assert.Equal(t, evaluation.TriggerForced, runner.triggers()[0])
}

// TestTwoManualTriggersDuringRunCoalesce pins the queueing contract: two
// triggers arriving while a run is active produce exactly one follow-up run.
func TestTwoManualTriggersDuringRunCoalesce(t *testing.T) {
	runner := newBlockingRunner(true)
	s := New(runner, 0)
	s.Start(context.Background(), false)
	defer s.Stop()

	assert.Equal(t, ResultAccepted, s.Trigger(evaluation.ModeIncremental))
	<-runner.started // first run is now in flight

	assert.Equal(t, ResultQueued, s.Trigger(evaluation.ModeIncremental))
	assert.Equal(t, ResultQueued, s.Trigger(evaluation.ModeIncremental))

	close(runner.release)
	waitFor(t, func() bool { return len(runner.triggers()) == 2 })

	// No third run sneaks in afterwards.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, runner.triggers(), 2)
}

func TestForcedUpgradesQueuedIncremental(t *testing.T) {
	runner := newBlockingRunner(true)
	s := New(runner, 0)
	s.Start(context.Background(), false)
	defer s.Stop()

	s.Trigger(evaluation.ModeIncremental)
	<-runner.started

	assert.Equal(t, ResultQueued, s.Trigger(evaluation.ModeIncremental))
	assert.Equal(t, ResultQueued, s.Trigger(evaluation.ModeFull))

	close(runner.release)
	waitFor(t, func() bool { return len(runner.triggers()) == 2 })
	assert.Equal(t, evaluation.TriggerForced, runner.triggers()[1])
}

func TestPeriodicTicksRun(t *testing.T) {
	runner := newBlockingRunner(false)
	s := New(runner, 20*time.Millisecond)
	s.Start(context.Background(), false)
	defer s.Stop()

	waitFor(t, func() bool { return len(runner.triggers()) >= 2 })
	for _, trig := range runner.triggers() {
		assert.Equal(t, evaluation.TriggerScheduled, trig)
	}
	assert.False(t, s.Status().NextScheduled.IsZero())
}

func TestRunOnStart(t *testing.T) {
	runner := newBlockingRunner(false)
	s := New(runner, 0)
	s.Start(context.Background(), true)
	defer s.Stop()

	waitFor(t, func() bool { return len(runner.triggers()) == 1 })
	assert.Equal(t, evaluation.TriggerScheduled, runner.triggers()[0])
}

func TestTriggerAfterStopIsRejected(t *testing.T) {
	runner := newBlockingRunner(false)
	s := New(runner, 0)
	s.Start(context.Background(), false)
	s.Stop()

	assert.Equal(t, ResultRejected, s.Trigger(evaluation.ModeIncremental))
}

func TestStopCancelsInFlightRun(t *testing.T) {
	runner := newBlockingRunner(true)
	s := New(runner, 0)
	s.Start(context.Background(), false)

	s.Trigger(evaluation.ModeIncremental)
	<-runner.started

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not cancel the in-flight run")
	}
}

func TestStatusReportsPendingTrigger(t *testing.T) {
	runner := newBlockingRunner(true)
	s := New(runner, 0)
	s.Start(context.Background(), false)
	defer s.Stop()

	s.Trigger(evaluation.ModeIncremental)
	<-runner.started
	s.Trigger(evaluation.ModeFull)

	st := s.Status()
	assert.True(t, st.Running)
	assert.Equal(t, string(evaluation.TriggerForced), st.Pending)

	close(runner.release)
}

func TestSetLastRunSeedsStatus(t *testing.T) {
	s := New(newBlockingRunner(false), 0)
	require.Nil(t, s.Status().LastRun)

	s.SetLastRun(&evaluation.Run{ID: "restored", Succeeded: true})
	assert.Equal(t, "restored", s.Status().LastRun.ID)
}
