// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ranking

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/roleroute/internal/benchmark"
)

func snapshotForTest(version int64, roles ...string) *Snapshot {
	snap := &Snapshot{
		Version:   version,
		CreatedAt: time.Now().UTC(),
		Roles:     make(map[string]*RoleRanking),
		Models:    make(map[string]*benchmark.MetricVector),
	}
	for _, role := range roles {
		snap.Roles[role] = &RoleRanking{
			Role:      role,
			Primary:   "acme/m1",
			Fallbacks: []string{"acme/m2"},
			Scores:    map[string]float64{"acme/m1": 90, "acme/m2": 80},
		}
	}
	return snap
}

func TestStoreColdStart(t *testing.T) {
	s := NewStore("", 0)
	assert.Nil(t, s.Current())
	assert.Equal(t, int64(1), s.NextVersion())
}

func TestStorePublishAndCurrent(t *testing.T) {
	s := NewStore("", 0)
	snap := snapshotForTest(1, "architect")
	s.Publish(snap)

	assert.Same(t, snap, s.Current())
	assert.Equal(t, int64(2), s.NextVersion())
}

func TestStorePersistAndLoad(t *testing.T) {
	dir := t.TempDir()

	s := NewStore(dir, 0)
	s.Publish(snapshotForTest(1, "architect", "debugging"))
	s.Publish(snapshotForTest(2, "architect"))

	restored := NewStore(dir, 0)
	ok, err := restored.Load()
	require.NoError(t, err)
	require.True(t, ok)

	cur := restored.Current()
	require.NotNil(t, cur)
	assert.Equal(t, int64(2), cur.Version)
	assert.Contains(t, cur.Roles, "architect")
	assert.Equal(t, "acme/m1", cur.Roles["architect"].Primary)
}

func TestStoreLoadWithoutArtifacts(t *testing.T) {
	s := NewStore(t.TempDir(), 0)
	ok, err := s.Load()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, s.Current())
}

func TestStorePrunesOldGenerations(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 2)

	for v := int64(1); v <= 5; v++ {
		s.Publish(snapshotForTest(v, "architect"))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"snapshot-4.json", "snapshot-5.json"}, names)

	// Newest generation is always retrievable.
	_, err = os.Stat(filepath.Join(dir, "snapshot-5.json"))
	assert.NoError(t, err)
}

// TestStoreAtomicPublishUnderReaders hammers Current while snapshots are
// published underneath. Every snapshot is internally consistent (all roles
// from the same version), so a reader seeing mixed versions would prove a
// torn publish.
func TestStoreAtomicPublishUnderReaders(t *testing.T) {
	s := NewStore("", 0)
	s.Publish(snapshotForTest(1, "architect", "debugging"))

	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Current()
				if snap == nil {
					t.Error("reader observed nil snapshot after first publish")
					return
				}
				for role, rr := range snap.Roles {
					if rr.Scores["acme/m1"] != float64(88+snap.Version) {
						t.Errorf("role %s carries score from a different version", role)
						return
					}
				}
			}
		}()
	}

	for v := int64(2); v <= 50; v++ {
		snap := &Snapshot{
			Version: v,
			Roles:   make(map[string]*RoleRanking),
			Models:  map[string]*benchmark.MetricVector{},
		}
		for _, role := range []string{"architect", "debugging"} {
			snap.Roles[role] = &RoleRanking{
				Role:    role,
				Primary: "acme/m1",
				Scores:  map[string]float64{"acme/m1": float64(88 + v)},
			}
		}
		s.Publish(snap)
	}

	close(stop)
	wg.Wait()
}

func TestSnapshotRankedModels(t *testing.T) {
	snap := snapshotForTest(1, "architect")
	models := snap.RankedModels()
	assert.Contains(t, models, "acme/m1")
	assert.Contains(t, models, "acme/m2")

	var nilSnap *Snapshot
	assert.Empty(t, nilSnap.RankedModels())
}

func TestSnapshotLowConfidenceModels(t *testing.T) {
	snap := snapshotForTest(1, "architect")
	snap.Models["acme/m1"] = &benchmark.MetricVector{Model: "acme/m1", LowConfidence: []string{"coding"}}
	snap.Models["acme/m2"] = &benchmark.MetricVector{Model: "acme/m2"}

	assert.Equal(t, []string{"acme/m1"}, snap.LowConfidenceModels())
}

func TestRoleRankingCandidates(t *testing.T) {
	rr := &RoleRanking{Primary: "a", Fallbacks: []string{"b", "c"}}
	assert.Equal(t, []string{"a", "b", "c"}, rr.Candidates())

	empty := &RoleRanking{}
	assert.Empty(t, empty.Candidates())
}

func TestArtifactVersionOrdering(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 0)
	for _, v := range []int64{3, 10, 2} {
		require.NoError(t, s.persist(snapshotForTest(v, "architect")))
	}
	// Unrelated files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshot-bad.json"), []byte("x"), 0o644))

	versions, err := s.artifactVersions()
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 10}, versions)

	ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), s.Current().Version)
}
