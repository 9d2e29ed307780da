// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ranking

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Store holds the single current snapshot. Publication swaps an atomic
// pointer, so the request path reads a consistent, immutable snapshot without
// taking any lock; readers observe either the previous snapshot or the fully
// published next one, never a mix.
//
// Every successful publication also writes the snapshot to disk as a
// versioned JSON artifact so a restart can reload the latest ranking without
// re-running evaluation.
type Store struct {
	current atomic.Pointer[Snapshot]

	// dir is the artifact directory; empty disables persistence.
	dir string
	// generations is how many artifacts to keep on disk; 0 keeps all.
	generations int
}

// NewStore creates a store persisting artifacts under dir. An empty dir
// disables persistence (snapshots then live only in memory).
func NewStore(dir string, generations int) *Store {
	return &Store{dir: dir, generations: generations}
}

// Current returns the latest published snapshot, or nil before any
// publication (cold start). Safe for concurrent use from any goroutine.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// NextVersion returns the version the next published snapshot should carry.
func (s *Store) NextVersion() int64 {
	if cur := s.Current(); cur != nil {
		return cur.Version + 1
	}
	return 1
}

// Publish makes snap the current snapshot and persists it. The pointer swap
// is the final step of an evaluation run; once it happens the snapshot is
// visible to every router call. A persistence failure is logged but does not
// un-publish: routing correctness never depends on disk.
func (s *Store) Publish(snap *Snapshot) {
	s.current.Store(snap)
	log.WithField("version", snap.Version).
		WithField("roles", len(snap.Roles)).
		Info("Published ranking snapshot")

	if s.dir == "" {
		return
	}
	if err := s.persist(snap); err != nil {
		log.WithError(err).WithField("version", snap.Version).
			Warn("Failed to persist ranking snapshot artifact")
		return
	}
	s.prune()
}

// Load restores the newest artifact from disk into the store. It returns
// false when no artifact exists; that is the true cold-start case.
func (s *Store) Load() (bool, error) {
	if s.dir == "" {
		return false, nil
	}

	versions, err := s.artifactVersions()
	if err != nil {
		return false, err
	}
	if len(versions) == 0 {
		return false, nil
	}

	newest := versions[len(versions)-1]
	data, err := os.ReadFile(s.artifactPath(newest))
	if err != nil {
		return false, fmt.Errorf("failed to read snapshot artifact: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false, fmt.Errorf("failed to decode snapshot artifact: %w", err)
	}

	s.current.Store(&snap)
	log.WithField("version", snap.Version).Info("Restored ranking snapshot from disk")
	return true, nil
}

func (s *Store) persist(snap *Snapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	// Write-then-rename so a crash never leaves a truncated artifact.
	path := s.artifactPath(snap.Version)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize snapshot artifact: %w", err)
	}
	return nil
}

// prune deletes artifacts beyond the configured generation count, oldest
// first. The current generation is never deleted.
func (s *Store) prune() {
	if s.generations <= 0 {
		return
	}
	versions, err := s.artifactVersions()
	if err != nil {
		log.WithError(err).Debug("Skipping snapshot artifact pruning")
		return
	}
	for len(versions) > s.generations {
		victim := versions[0]
		versions = versions[1:]
		if err := os.Remove(s.artifactPath(victim)); err != nil {
			log.WithError(err).WithField("version", victim).
				Warn("Failed to prune snapshot artifact")
		}
	}
}

func (s *Store) artifactPath(version int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("snapshot-%d.json", version))
}

// artifactVersions lists on-disk artifact versions in ascending order.
func (s *Store) artifactVersions() ([]int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list snapshot dir: %w", err)
	}

	var versions []int64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "snapshot-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, "snapshot-"), ".json")
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}
