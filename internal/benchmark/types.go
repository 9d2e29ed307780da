// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package benchmark collects raw benchmark records from external feeds and
// normalizes them into one canonical metric vector per model. The vectors are
// the only input the scoring and evaluation layers see; feed shape, recency
// reconciliation, and confidence flagging all stay inside this package.
package benchmark

import (
	"errors"
	"time"
)

// ErrSourceUnavailable is returned by Collect when every configured source
// failed for the current cycle. Partial source failures never produce this
// error; they just reduce the data available for normalization.
var ErrSourceUnavailable = errors.New("benchmark: all sources unavailable")

// ScoreMin and ScoreMax bound every normalized dimension value.
const (
	ScoreMin = 0.0
	ScoreMax = 100.0
)

// RawRecord is the smallest unit a benchmark source produces: one observation
// of one dimension for one model. Sources with richer shapes reduce to these
// tuples before handing data to the normalizer.
type RawRecord struct {
	// Model is the opaque, stable model identity (vendor+model+version).
	Model string `json:"model"`
	// Dimension names the benchmark axis (reasoning, coding, latency, ...).
	Dimension string `json:"dimension"`
	// Value is the reported score, expected on the 0-100 scale.
	Value float64 `json:"value"`
	// ObservedAt is when the source observed this value, used for
	// recency-based reconciliation across sources.
	ObservedAt time.Time `json:"observed_at"`
	// Source identifies the feed that produced the record.
	Source string `json:"source"`
}

// MetricVector holds the normalized per-dimension scores for one model in one
// evaluation cycle. It is immutable once the normalizer returns it; everything
// downstream shares it by reference.
type MetricVector struct {
	Model string `json:"model"`
	// Scores maps dimension name to the reconciled value, clamped to [0,100].
	Scores map[string]float64 `json:"scores"`
	// ObservedAt records the most recent observation backing each dimension.
	ObservedAt map[string]time.Time `json:"observed_at,omitempty"`
	// LowConfidence lists dimensions whose sources disagreed by more than the
	// configured tolerance. Advisory only; never blocks ranking.
	LowConfidence []string `json:"low_confidence,omitempty"`
}

// IsLowConfidence reports whether any dimension of the vector was flagged.
func (v *MetricVector) IsLowConfidence() bool {
	return len(v.LowConfidence) > 0
}

// Score returns the value for dim, or neutral when the dimension is absent.
// An absent score must never exclude a model from ranking.
func (v *MetricVector) Score(dim string, neutral float64) float64 {
	if v == nil || v.Scores == nil {
		return neutral
	}
	if s, ok := v.Scores[dim]; ok {
		return s
	}
	return neutral
}
