// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package usage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteSinkRoundTrip(t *testing.T) {
	sink, err := OpenSQLiteSink(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer sink.Close()

	sink.Record(&Record{
		Timestamp:       time.Now().UTC(),
		Role:            "architect",
		RequestedRole:   "architect",
		ModelUsed:       "acme/m2",
		PrimaryModel:    "acme/m1",
		FallbackDepth:   1,
		SnapshotVersion: 3,
		ConversationID:  "conv-1",
		Success:         true,
		LatencyMs:       120,
	})
	sink.Record(&Record{
		Timestamp:    time.Now().UTC(),
		Role:         "debugging",
		ModelUsed:    "acme/m1",
		PrimaryModel: "acme/m1",
		Success:      false,
		ErrorMessage: "upstream timeout",
	})

	records, err := sink.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first.
	assert.Equal(t, "debugging", records[0].Role)
	assert.Equal(t, "upstream timeout", records[0].ErrorMessage)

	// The record keeps the model actually used, not just the primary.
	assert.Equal(t, "acme/m2", records[1].ModelUsed)
	assert.Equal(t, "acme/m1", records[1].PrimaryModel)
	assert.Equal(t, 1, records[1].FallbackDepth)
	assert.Equal(t, int64(3), records[1].SnapshotVersion)
	assert.Equal(t, "conv-1", records[1].ConversationID)
}

func TestSQLiteSinkRecentLimit(t *testing.T) {
	sink, err := OpenSQLiteSink(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer sink.Close()

	for i := 0; i < 5; i++ {
		sink.Record(&Record{Timestamp: time.Now(), Role: "architect", ModelUsed: "m", PrimaryModel: "m", Success: true})
	}

	records, err := sink.Recent(2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestOpenSQLiteSinkEmptyPath(t *testing.T) {
	_, err := OpenSQLiteSink("")
	assert.Error(t, err)
}

func TestNopSink(t *testing.T) {
	var sink Sink = NopSink{}
	sink.Record(&Record{Role: "architect"})

	records, err := sink.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, sink.Close())
}
