// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package router is the request hot path: given a task role it returns the
// best reachable model plus an ordered fallback chain from the current
// ranking snapshot. It is a pure read over an atomically published snapshot
// and never blocks on, or fails because of, the refresh subsystem.
package router

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/roleroute/internal/hooks"
	"github.com/traylinx/roleroute/internal/ranking"
)

// ErrNoRanking means neither a snapshot nor the bootstrap configuration has
// any models for the resolved role. Config validation is supposed to make
// this unreachable; it exists so the failure is explicit rather than a panic.
var ErrNoRanking = errors.New("router: no ranking available for role")

// Decision is the routing outcome for one request.
type Decision struct {
	// Role is the role the decision was resolved for; it may differ from the
	// requested role when the default-role fallback applied.
	Role string `json:"role"`
	// RequestedRole is the role as tagged on the request.
	RequestedRole string `json:"requested_role"`
	// Primary is the model the dispatcher should try first.
	Primary string `json:"primary"`
	// Fallbacks is the ordered fallback chain after Primary.
	Fallbacks []string `json:"fallbacks,omitempty"`
	// FreeAlternative is the best free-tier model for the role, if any.
	FreeAlternative string `json:"free_alternative,omitempty"`
	// SnapshotVersion is the ranking snapshot consulted; 0 with Bootstrap
	// set means no snapshot has ever been published.
	SnapshotVersion int64 `json:"snapshot_version"`
	// Bootstrap marks decisions served from the static bootstrap ranking.
	Bootstrap bool `json:"bootstrap"`
}

// Router resolves roles against the ranking store. Safe for unbounded
// concurrent use; a refresh publishing a new snapshot underneath it is
// invisible beyond later calls seeing newer data.
type Router struct {
	store       *ranking.Store
	defaultRole string
	// bootstrap maps role to a static ordered model list used before the
	// first successful evaluation ever publishes.
	bootstrap map[string][]string
	bus       *hooks.EventBus
}

// New creates a router. bus may be nil to disable event publication.
func New(store *ranking.Store, defaultRole string, bootstrap map[string][]string, bus *hooks.EventBus) *Router {
	return &Router{
		store:       store,
		defaultRole: defaultRole,
		bootstrap:   bootstrap,
		bus:         bus,
	}
}

// DefaultRole returns the role used when a request's role is unconfigured.
func (r *Router) DefaultRole() string {
	return r.defaultRole
}

// Route returns the routing decision for a role. An unconfigured role falls
// back to the default role's ranking; with no published snapshot at all the
// configured bootstrap ranking serves the request. Requests are never
// rejected because ranking data is stale or a refresh failed.
func (r *Router) Route(role string) (*Decision, error) {
	requested := role
	if role == "" {
		role = r.defaultRole
	}

	decision, err := r.resolve(role, requested)
	if err != nil {
		return nil, err
	}

	if r.bus != nil {
		r.bus.PublishAsync(&hooks.EventContext{
			Event:     hooks.EventRoutingDecision,
			Timestamp: time.Now(),
			Role:      decision.Role,
			Model:     decision.Primary,
			Data: map[string]interface{}{
				"requested_role":   decision.RequestedRole,
				"snapshot_version": decision.SnapshotVersion,
				"bootstrap":        decision.Bootstrap,
			},
		})
	}
	return decision, nil
}

func (r *Router) resolve(role, requested string) (*Decision, error) {
	snap := r.store.Current()
	if snap != nil {
		if rr := r.lookupRanking(snap, role); rr != nil {
			resolvedRole := rr.Role
			return &Decision{
				Role:            resolvedRole,
				RequestedRole:   requested,
				Primary:         rr.Primary,
				Fallbacks:       append([]string(nil), rr.Fallbacks...),
				FreeAlternative: rr.FreeAlternative,
				SnapshotVersion: snap.Version,
			}, nil
		}
		log.WithField("role", role).Debug("Snapshot has no usable ranking for role; using bootstrap")
	}

	return r.bootstrapDecision(role, requested)
}

// lookupRanking finds the ranking for role, or the default role's, skipping
// rankings that ended up empty (no primary).
func (r *Router) lookupRanking(snap *ranking.Snapshot, role string) *ranking.RoleRanking {
	if rr, ok := snap.Roles[role]; ok && rr.Primary != "" {
		return rr
	}
	if rr, ok := snap.Roles[r.defaultRole]; ok && rr.Primary != "" {
		return rr
	}
	return nil
}

// bootstrapDecision serves the static cold-start ranking.
func (r *Router) bootstrapDecision(role, requested string) (*Decision, error) {
	models := r.bootstrap[role]
	resolved := role
	if len(models) == 0 {
		models = r.bootstrap[r.defaultRole]
		resolved = r.defaultRole
	}
	if len(models) == 0 {
		return nil, ErrNoRanking
	}

	return &Decision{
		Role:          resolved,
		RequestedRole: requested,
		Primary:       models[0],
		Fallbacks:     append([]string(nil), models[1:]...),
		Bootstrap:     true,
	}, nil
}
