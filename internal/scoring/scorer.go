// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scoring computes per-role composite scores from normalized metric
// vectors. Everything here is a pure function of its inputs: identical
// vectors and profiles always produce identical scores and orderings, which
// is what makes published rankings reproducible.
package scoring

import (
	"sort"

	"github.com/traylinx/roleroute/internal/benchmark"
)

// Profile maps benchmark dimension names to positive weights for one role.
// Profiles are static configuration; the scorer never mutates them.
type Profile map[string]float64

// Candidate is one scored model in a role's ordered candidate list.
type Candidate struct {
	Model string  `json:"model"`
	Score float64 `json:"score"`
}

// Composite computes the weighted score of one vector under one profile.
// Dimensions absent from the profile are ignored; dimensions absent from the
// vector score at neutral. The sum is normalized by the total weight actually
// applied, so profiles with different weight magnitudes stay comparable.
// A nil or empty vector scores entirely at neutral.
func Composite(vec *benchmark.MetricVector, profile Profile, neutral float64) float64 {
	var weighted, totalWeight float64
	for dim, weight := range profile {
		if weight <= 0 {
			continue
		}
		weighted += vec.Score(dim, neutral) * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return neutral
	}
	return weighted / totalWeight
}

// Rank produces the ordered candidate list for one role: descending composite
// score, ties broken by ascending model identity. Models without a vector in
// the map still rank, scored entirely at neutral.
func Rank(models []string, vectors map[string]*benchmark.MetricVector, profile Profile, neutral float64) []Candidate {
	candidates := make([]Candidate, 0, len(models))
	for _, model := range models {
		candidates = append(candidates, Candidate{
			Model: model,
			Score: Composite(vectors[model], profile, neutral),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Model < candidates[j].Model
	})

	return candidates
}
