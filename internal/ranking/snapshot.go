// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ranking holds the versioned per-role model rankings and the store
// that publishes them atomically to concurrent readers.
package ranking

import (
	"time"

	"github.com/traylinx/roleroute/internal/benchmark"
)

// RoleRanking is the ordered model ranking for one role inside one snapshot.
type RoleRanking struct {
	Role string `json:"role"`
	// Primary is the highest-scoring model for the role.
	Primary string `json:"primary"`
	// Fallbacks is the remainder of the candidate list, best first.
	Fallbacks []string `json:"fallbacks,omitempty"`
	// FreeAlternative is the highest-scoring member of the configured
	// free-tier set, when any ranked model belongs to it. It is always also
	// part of the fallback-eligible set.
	FreeAlternative string `json:"free_alternative,omitempty"`
	// Scores maps every ranked model to its composite score for the role.
	Scores map[string]float64 `json:"scores"`
}

// Candidates returns the full ordered candidate list, primary first.
func (r *RoleRanking) Candidates() []string {
	out := make([]string, 0, 1+len(r.Fallbacks))
	if r.Primary != "" {
		out = append(out, r.Primary)
	}
	out = append(out, r.Fallbacks...)
	return out
}

// Snapshot is an immutable, versioned set of per-role rankings. It also
// carries the metric vectors that produced it so the next incremental
// evaluation can re-score previously ranked models that are absent from the
// latest benchmark pull. Snapshots are never mutated after publication.
type Snapshot struct {
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	// Roles maps role name to its ranking.
	Roles map[string]*RoleRanking `json:"roles"`
	// Models maps model identity to the metric vector used for this cycle.
	Models map[string]*benchmark.MetricVector `json:"models"`
}

// RankedModels returns every model identity present in any role ranking.
func (s *Snapshot) RankedModels() map[string]struct{} {
	if s == nil {
		return map[string]struct{}{}
	}
	out := make(map[string]struct{})
	for _, rr := range s.Roles {
		for _, m := range rr.Candidates() {
			out[m] = struct{}{}
		}
	}
	return out
}

// LowConfidenceModels lists models whose vectors carry low-confidence flags,
// for the management status surface.
func (s *Snapshot) LowConfidenceModels() []string {
	if s == nil {
		return nil
	}
	var out []string
	for model, vec := range s.Models {
		if vec.IsLowConfidence() {
			out = append(out, model)
		}
	}
	return out
}
