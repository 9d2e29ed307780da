// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package benchmark

import (
	"math"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

// Normalizer reconciles raw records from overlapping sources into one
// MetricVector per model.
//
// Reconciliation rule per (model, dimension): the most recently observed
// value wins. When another observation disagrees with the winner by more than
// Tolerance, all observed values are averaged instead and the dimension is
// flagged low-confidence. The flag is advisory; it never blocks ranking.
type Normalizer struct {
	// Tolerance is the maximum cross-source disagreement (0-100 scale)
	// before a dimension is averaged and flagged.
	Tolerance float64
}

// NewNormalizer creates a normalizer with the given disagreement tolerance.
func NewNormalizer(tolerance float64) *Normalizer {
	if tolerance < 0 {
		tolerance = 0
	}
	return &Normalizer{Tolerance: tolerance}
}

// observation is one candidate value for a (model, dimension) pair.
type observation struct {
	value      float64
	observedAt time.Time
	source     string
}

// Normalize reduces records to one immutable MetricVector per model.
// Records with empty model or dimension names are dropped. Values are clamped
// to [ScoreMin, ScoreMax].
func (n *Normalizer) Normalize(records []RawRecord) map[string]*MetricVector {
	type dimKey struct{ model, dim string }
	grouped := make(map[dimKey][]observation)

	for _, r := range records {
		if r.Model == "" || r.Dimension == "" {
			continue
		}
		k := dimKey{r.Model, r.Dimension}
		grouped[k] = append(grouped[k], observation{
			value:      clamp(r.Value),
			observedAt: r.ObservedAt,
			source:     r.Source,
		})
	}

	vectors := make(map[string]*MetricVector)
	for k, obs := range grouped {
		vec := vectors[k.model]
		if vec == nil {
			vec = &MetricVector{
				Model:      k.model,
				Scores:     make(map[string]float64),
				ObservedAt: make(map[string]time.Time),
			}
			vectors[k.model] = vec
		}

		value, newest, flagged := n.resolve(obs)
		vec.Scores[k.dim] = value
		vec.ObservedAt[k.dim] = newest
		if flagged {
			vec.LowConfidence = append(vec.LowConfidence, k.dim)
		}
	}

	for _, vec := range vectors {
		sort.Strings(vec.LowConfidence)
		if vec.IsLowConfidence() {
			log.WithField("model", vec.Model).
				WithField("dimensions", vec.LowConfidence).
				Debug("Benchmark sources disagree beyond tolerance")
		}
	}

	return vectors
}

// resolve picks the reconciled value for one dimension's observations. It
// returns the value, the newest observation time, and whether the dimension
// should be flagged low-confidence.
func (n *Normalizer) resolve(obs []observation) (float64, time.Time, bool) {
	// Newest first; ties broken by source name so results are deterministic.
	sort.Slice(obs, func(i, j int) bool {
		if !obs[i].observedAt.Equal(obs[j].observedAt) {
			return obs[i].observedAt.After(obs[j].observedAt)
		}
		return obs[i].source < obs[j].source
	})

	winner := obs[0].value
	disagree := false
	for _, o := range obs[1:] {
		if math.Abs(o.value-winner) > n.Tolerance {
			disagree = true
			break
		}
	}
	if !disagree {
		return winner, obs[0].observedAt, false
	}

	sum := 0.0
	for _, o := range obs {
		sum += o.value
	}
	return sum / float64(len(obs)), obs[0].observedAt, true
}

func clamp(v float64) float64 {
	return math.Min(ScoreMax, math.Max(ScoreMin, v))
}
