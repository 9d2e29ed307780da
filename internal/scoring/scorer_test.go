// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scoring

import (
	"fmt"
	"math"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/roleroute/internal/benchmark"
)

func vec(model string, scores map[string]float64) *benchmark.MetricVector {
	return &benchmark.MetricVector{Model: model, Scores: scores}
}

// TestCompositeWeightedScenario pins the exact weighted-sum arithmetic:
// architect weights reasoning 3x over coding, implementation the reverse,
// and the two models swap primaries accordingly.
func TestCompositeWeightedScenario(t *testing.T) {
	vectors := map[string]*benchmark.MetricVector{
		"A": vec("A", map[string]float64{"reasoning": 90, "coding": 60}),
		"B": vec("B", map[string]float64{"reasoning": 70, "coding": 95}),
	}

	architect := Profile{"reasoning": 3, "coding": 1}
	implementation := Profile{"coding": 3, "reasoning": 1}

	assert.InDelta(t, 82.5, Composite(vectors["A"], architect, 50), 1e-9)
	assert.InDelta(t, 76.25, Composite(vectors["B"], architect, 50), 1e-9)
	assert.InDelta(t, 67.5, Composite(vectors["A"], implementation, 50), 1e-9)
	assert.InDelta(t, 88.75, Composite(vectors["B"], implementation, 50), 1e-9)

	models := []string{"A", "B"}
	archRanking := Rank(models, vectors, architect, 50)
	require.Len(t, archRanking, 2)
	assert.Equal(t, "A", archRanking[0].Model)

	implRanking := Rank(models, vectors, implementation, 50)
	assert.Equal(t, "B", implRanking[0].Model)
}

func TestCompositeIgnoresDimensionsAbsentFromProfile(t *testing.T) {
	v := vec("A", map[string]float64{"coding": 80, "latency": 10})
	profile := Profile{"coding": 2}

	// latency is not in the profile; it must not dilute the score.
	assert.InDelta(t, 80, Composite(v, profile, 50), 1e-9)
}

func TestCompositeNeutralForMissingDimensions(t *testing.T) {
	v := vec("A", map[string]float64{"coding": 80})
	profile := Profile{"coding": 1, "reasoning": 1}

	assert.InDelta(t, 65, Composite(v, profile, 50), 1e-9)
}

func TestCompositeEmptyVectorScoresNeutral(t *testing.T) {
	profile := Profile{"coding": 2, "reasoning": 1}
	assert.InDelta(t, 50, Composite(nil, profile, 50), 1e-9)
	assert.InDelta(t, 50, Composite(vec("A", nil), profile, 50), 1e-9)
}

func TestCompositeEmptyProfileScoresNeutral(t *testing.T) {
	v := vec("A", map[string]float64{"coding": 80})
	assert.InDelta(t, 50, Composite(v, Profile{}, 50), 1e-9)
	assert.InDelta(t, 50, Composite(v, Profile{"coding": -1}, 50), 1e-9)
}

func TestRankTiesBreakByModelIdentity(t *testing.T) {
	vectors := map[string]*benchmark.MetricVector{
		"zeta/m": vec("zeta/m", map[string]float64{"coding": 80}),
		"alph/m": vec("alph/m", map[string]float64{"coding": 80}),
	}
	ranking := Rank([]string{"zeta/m", "alph/m"}, vectors, Profile{"coding": 1}, 50)

	require.Len(t, ranking, 2)
	assert.Equal(t, "alph/m", ranking[0].Model)
	assert.Equal(t, "zeta/m", ranking[1].Model)
}

func TestRankModelsWithoutVectorsStillRank(t *testing.T) {
	vectors := map[string]*benchmark.MetricVector{
		"acme/m1": vec("acme/m1", map[string]float64{"coding": 90}),
	}
	ranking := Rank([]string{"acme/m1", "acme/unknown"}, vectors, Profile{"coding": 1}, 50)

	require.Len(t, ranking, 2)
	assert.Equal(t, "acme/m1", ranking[0].Model)
	assert.InDelta(t, 50, ranking[1].Score, 1e-9)
}

// Property-based tests in the style of the steering and router suites.

func genProfileAndVector() gopter.Gen {
	dims := []string{"reasoning", "coding", "math", "latency", "cost", "context"}
	return gen.SliceOfN(len(dims), gen.Float64Range(0, 100)).Map(func(values []float64) map[string]float64 {
		scores := make(map[string]float64, len(dims))
		for i, d := range dims {
			scores[d] = values[i]
		}
		return scores
	})
}

func TestPropertyCompositeDeterminism(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("identical inputs yield identical scores", prop.ForAll(
		func(scores map[string]float64, w1, w2 float64) bool {
			v := vec("acme/m1", scores)
			profile := Profile{"reasoning": w1, "coding": w2}

			first := Composite(v, profile, 50)
			second := Composite(v, profile, 50)
			return first == second
		},
		genProfileAndVector(),
		gen.Float64Range(0.1, 10),
		gen.Float64Range(0.1, 10),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestPropertyCompositeBounded(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("composite stays within the score range", prop.ForAll(
		func(scores map[string]float64, w1, w2 float64) bool {
			v := vec("acme/m1", scores)
			profile := Profile{"reasoning": w1, "math": w2}

			score := Composite(v, profile, 50)
			return score >= benchmark.ScoreMin-1e-9 && score <= benchmark.ScoreMax+1e-9
		},
		genProfileAndVector(),
		gen.Float64Range(0.1, 10),
		gen.Float64Range(0.1, 10),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestPropertyRankPrimaryIsMaximal(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("head of ranking has maximal composite score", prop.ForAll(
		func(values []float64) bool {
			vectors := make(map[string]*benchmark.MetricVector, len(values))
			models := make([]string, 0, len(values))
			for i, val := range values {
				model := fmt.Sprintf("acme/m%02d", i)
				models = append(models, model)
				vectors[model] = vec(model, map[string]float64{"coding": val})
			}

			ranking := Rank(models, vectors, Profile{"coding": 1}, 50)
			if len(ranking) == 0 {
				return len(models) == 0
			}
			for _, c := range ranking[1:] {
				if c.Score > ranking[0].Score {
					return false
				}
			}
			// Ordering must be a permutation sorted by (score desc, model asc).
			ordered := sort.SliceIsSorted(ranking, func(i, j int) bool {
				if ranking[i].Score != ranking[j].Score {
					return ranking[i].Score > ranking[j].Score
				}
				return ranking[i].Model < ranking[j].Model
			})
			return ordered && !math.IsNaN(ranking[0].Score)
		},
		gen.SliceOf(gen.Float64Range(0, 100)),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
