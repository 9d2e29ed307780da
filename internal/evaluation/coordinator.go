// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package evaluation turns raw benchmark input plus the current snapshot into
// a new published ranking snapshot. It owns model discovery, the incremental
// versus full scoring scope, atomic publication, and the append-only audit
// trail of runs.
package evaluation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/roleroute/internal/benchmark"
	"github.com/traylinx/roleroute/internal/hooks"
	"github.com/traylinx/roleroute/internal/ranking"
	"github.com/traylinx/roleroute/internal/scoring"
)

// Mode selects the scoring scope of a run.
type Mode string

const (
	// ModeIncremental scores newly discovered models plus everything already
	// ranked, bounding work by discovery volume rather than catalog size.
	ModeIncremental Mode = "incremental"
	// ModeFull scores the entire current benchmark catalog, correcting stale
	// or erroneous prior rankings.
	ModeFull Mode = "full"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerForced    Trigger = "forced-full"
)

// Mode returns the scoring mode a trigger implies.
func (t Trigger) Mode() Mode {
	if t == TriggerForced {
		return ModeFull
	}
	return ModeIncremental
}

// Run is the audit record of one coordinator execution.
type Run struct {
	ID              string    `json:"id"`
	Trigger         Trigger   `json:"trigger"`
	Mode            Mode      `json:"mode"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Discovered      []string  `json:"discovered,omitempty"`
	SnapshotVersion int64     `json:"snapshot_version,omitempty"`
	Succeeded       bool      `json:"succeeded"`
	Error           string    `json:"error,omitempty"`
}

// Coordinator orchestrates one evaluation cycle end to end. The scheduler
// guarantees single-flight execution; the internal mutex additionally guards
// direct calls so two cycles can never interleave.
type Coordinator struct {
	collector  *benchmark.Collector
	normalizer *benchmark.Normalizer
	store      *ranking.Store
	audit      *AuditTrail
	bus        *hooks.EventBus

	profiles map[string]scoring.Profile
	neutral  float64
	freeTier map[string]bool

	mu sync.Mutex
}

// Options configures a Coordinator.
type Options struct {
	Collector  *benchmark.Collector
	Normalizer *benchmark.Normalizer
	Store      *ranking.Store
	// Audit may be nil to disable the trail (tests).
	Audit *AuditTrail
	// Bus may be nil to disable event publication.
	Bus *hooks.EventBus
	// Profiles maps each configured role to its weight profile.
	Profiles map[string]scoring.Profile
	// Neutral is the score substituted for missing dimensions.
	Neutral float64
	// FreeTier is the set of model identities eligible as free alternatives.
	FreeTier []string
}

// NewCoordinator wires a coordinator from its collaborators.
func NewCoordinator(opts Options) *Coordinator {
	free := make(map[string]bool, len(opts.FreeTier))
	for _, m := range opts.FreeTier {
		free[m] = true
	}
	return &Coordinator{
		collector:  opts.Collector,
		normalizer: opts.Normalizer,
		store:      opts.Store,
		audit:      opts.Audit,
		bus:        opts.Bus,
		profiles:   opts.Profiles,
		neutral:    opts.Neutral,
		freeTier:   free,
	}
}

// Run executes one evaluation cycle. On any failure the prior snapshot stays
// current and the run is recorded as failed; publication only happens after
// every configured role ranked successfully.
func (c *Coordinator) Run(ctx context.Context, trigger Trigger) (*Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	run := &Run{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Mode:      trigger.Mode(),
		StartedAt: time.Now().UTC(),
	}

	log.WithField("run_id", run.ID).
		WithField("trigger", string(trigger)).
		WithField("mode", string(run.Mode)).
		Info("Starting evaluation run")
	c.publish(&hooks.EventContext{
		Event:     hooks.EventEvaluationStarted,
		Timestamp: run.StartedAt,
		Data:      map[string]interface{}{"run_id": run.ID, "mode": string(run.Mode)},
	})

	snap, err := c.evaluate(ctx, run)
	run.FinishedAt = time.Now().UTC()

	if err != nil {
		run.Succeeded = false
		run.Error = err.Error()
		c.audit.Append(run)
		log.WithError(err).WithField("run_id", run.ID).
			Warn("Evaluation run failed; prior snapshot retained")
		c.publish(&hooks.EventContext{
			Event:     hooks.EventEvaluationFailed,
			Timestamp: run.FinishedAt,
			Error:     err,
			Data:      map[string]interface{}{"run_id": run.ID},
		})
		return run, err
	}

	run.Succeeded = true
	run.SnapshotVersion = snap.Version
	c.audit.Append(run)
	c.publish(&hooks.EventContext{
		Event:     hooks.EventEvaluationPublished,
		Timestamp: run.FinishedAt,
		Data: map[string]interface{}{
			"run_id":     run.ID,
			"version":    snap.Version,
			"discovered": len(run.Discovered),
		},
	})
	return run, nil
}

// evaluate performs collection, discovery, scoring, and publication. It
// mutates run.Discovered as a side effect of discovery.
func (c *Coordinator) evaluate(ctx context.Context, run *Run) (*ranking.Snapshot, error) {
	records, err := c.collector.Collect(ctx)
	if err != nil {
		return nil, err
	}
	vectors := c.normalizer.Normalize(records)

	prior := c.store.Current()
	known := prior.RankedModels()

	// Discovery: identities in the normalized set not yet ranked anywhere.
	for model := range vectors {
		if _, ok := known[model]; !ok {
			run.Discovered = append(run.Discovered, model)
		}
	}
	sort.Strings(run.Discovered)
	for _, model := range run.Discovered {
		c.publish(&hooks.EventContext{
			Event:     hooks.EventModelDiscovered,
			Timestamp: time.Now(),
			Model:     model,
		})
	}

	// Scoring scope plus the vector backing each model. Previously ranked
	// models absent from this pull keep their last-known vector from the
	// prior snapshot rather than dropping out of the ranking.
	scope := make(map[string]*benchmark.MetricVector)
	switch run.Mode {
	case ModeFull:
		for model, vec := range vectors {
			scope[model] = vec
		}
	default:
		for _, model := range run.Discovered {
			scope[model] = vectors[model]
		}
		for model := range known {
			if vec, ok := vectors[model]; ok {
				scope[model] = vec
				continue
			}
			scope[model] = prior.Models[model] // may be nil: neutral scoring
		}
	}

	if len(scope) == 0 {
		return nil, fmt.Errorf("evaluation produced an empty model catalog")
	}

	models := make([]string, 0, len(scope))
	for model := range scope {
		models = append(models, model)
	}
	sort.Strings(models)

	// Cancellation point: once publication starts it is not cancellable.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluation cancelled before publication: %w", err)
	}

	roles := make(map[string]*ranking.RoleRanking, len(c.profiles))
	for role, profile := range c.profiles {
		roles[role] = c.rankRole(role, models, scope, profile)
	}

	snapModels := make(map[string]*benchmark.MetricVector, len(scope))
	for model, vec := range scope {
		if vec != nil {
			snapModels[model] = vec
		}
	}

	snap := &ranking.Snapshot{
		Version:   c.store.NextVersion(),
		CreatedAt: time.Now().UTC(),
		Roles:     roles,
		Models:    snapModels,
	}
	c.store.Publish(snap)
	return snap, nil
}

// rankRole builds the ordered ranking for one role.
func (c *Coordinator) rankRole(role string, models []string, vectors map[string]*benchmark.MetricVector, profile scoring.Profile) *ranking.RoleRanking {
	candidates := scoring.Rank(models, vectors, profile, c.neutral)

	rr := &ranking.RoleRanking{
		Role:   role,
		Scores: make(map[string]float64, len(candidates)),
	}
	for i, cand := range candidates {
		rr.Scores[cand.Model] = cand.Score
		if i == 0 {
			rr.Primary = cand.Model
			continue
		}
		rr.Fallbacks = append(rr.Fallbacks, cand.Model)
	}

	// Free alternative: best-ranked member of the free-tier set. It is part
	// of the candidate list already, so fallback eligibility is implied.
	for _, cand := range candidates {
		if c.freeTier[cand.Model] {
			rr.FreeAlternative = cand.Model
			break
		}
	}
	return rr
}

func (c *Coordinator) publish(ctx *hooks.EventContext) {
	if c.bus != nil {
		c.bus.PublishAsync(ctx)
	}
}
