// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package benchmark

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Source produces raw benchmark records for one feed. Implementations own
// their transport and parsing; the collector only sees tuples.
type Source interface {
	// ID returns the stable source identifier used in records and logs.
	ID() string
	// Fetch retrieves the current records. It must honor ctx cancellation.
	Fetch(ctx context.Context) ([]RawRecord, error)
}

// FeedConfig describes one remote JSON benchmark feed and how to reduce its
// document to RawRecord tuples. Field paths are gjson paths relative to each
// element of Records; feeds differ too much in shape for fixed structs.
type FeedConfig struct {
	ID string `yaml:"id"`
	// URL of the JSON document.
	URL string `yaml:"url"`
	// AuthHeader is an optional Authorization header value.
	AuthHeader string `yaml:"auth-header"`
	// Timeout bounds a single fetch, as a duration string like "15s".
	// Empty or unparsable means DefaultFetchTimeout.
	Timeout string `yaml:"timeout"`
	// Records is the gjson path of the array of per-model entries.
	Records string `yaml:"records"`
	// ModelPath locates the model identity inside one entry.
	ModelPath string `yaml:"model-path"`
	// ObservedAtPath optionally locates an RFC3339 timestamp inside one
	// entry. When absent or unparsable, fetch time is used.
	ObservedAtPath string `yaml:"observed-at-path"`
	// Dimensions maps canonical dimension names to the gjson path of their
	// value inside one entry. Entries missing a path simply yield no record
	// for that dimension.
	Dimensions map[string]string `yaml:"dimensions"`
}

// FetchTimeout returns the configured fetch timeout as a time.Duration.
func (c FeedConfig) FetchTimeout() time.Duration {
	timeout, err := time.ParseDuration(c.Timeout)
	if err != nil || timeout <= 0 {
		return DefaultFetchTimeout
	}
	return timeout
}

// DefaultFetchTimeout bounds a feed fetch when the config leaves it unset.
const DefaultFetchTimeout = 15 * time.Second

// FeedSource fetches a JSON benchmark feed over HTTP and extracts records via
// configured gjson paths.
type FeedSource struct {
	cfg    FeedConfig
	client *http.Client
}

// NewFeedSource creates a source for the given feed configuration.
func NewFeedSource(cfg FeedConfig) *FeedSource {
	return &FeedSource{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.FetchTimeout()},
	}
}

// ID returns the configured feed identifier.
func (s *FeedSource) ID() string { return s.cfg.ID }

// Fetch retrieves the feed document and reduces it to raw records.
func (s *FeedSource) Fetch(ctx context.Context) ([]RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "roleroute/1.0 (benchmark-collector)")
	req.Header.Set("Accept", "application/json")
	if s.cfg.AuthHeader != "" {
		req.Header.Set("Authorization", s.cfg.AuthHeader)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", s.cfg.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned status %d", s.cfg.ID, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed %s body: %w", s.cfg.ID, err)
	}

	return s.parse(body, time.Now()), nil
}

// parse extracts records from the raw document. Entries without a model
// identity or with non-numeric values are skipped, not fatal.
func (s *FeedSource) parse(body []byte, fetchedAt time.Time) []RawRecord {
	entries := gjson.GetBytes(body, s.cfg.Records)
	if !entries.Exists() || !entries.IsArray() {
		log.WithField("source", s.cfg.ID).WithField("path", s.cfg.Records).
			Warn("Feed document has no records array")
		return nil
	}

	var records []RawRecord
	entries.ForEach(func(_, entry gjson.Result) bool {
		model := entry.Get(s.cfg.ModelPath).String()
		if model == "" {
			return true
		}

		observed := fetchedAt
		if s.cfg.ObservedAtPath != "" {
			if raw := entry.Get(s.cfg.ObservedAtPath).String(); raw != "" {
				if ts, err := time.Parse(time.RFC3339, raw); err == nil {
					observed = ts
				}
			}
		}

		for dim, path := range s.cfg.Dimensions {
			val := entry.Get(path)
			if !val.Exists() || val.Type != gjson.Number {
				continue
			}
			records = append(records, RawRecord{
				Model:      model,
				Dimension:  dim,
				Value:      val.Float(),
				ObservedAt: observed,
				Source:     s.cfg.ID,
			})
		}
		return true
	})

	return records
}

// Collector fans out across all configured sources concurrently and merges
// their records. Sources are independent; a slow or failing source only costs
// its own data for the cycle.
type Collector struct {
	sources []Source
}

// NewCollector creates a collector over the given sources.
func NewCollector(sources []Source) *Collector {
	return &Collector{sources: sources}
}

// Collect fetches every source concurrently and returns the merged records.
// It fails with ErrSourceUnavailable only when all sources failed; partial
// data is returned as-is for the normalizer to work with.
func (c *Collector) Collect(ctx context.Context) ([]RawRecord, error) {
	if len(c.sources) == 0 {
		return nil, ErrSourceUnavailable
	}

	var (
		mu      sync.Mutex
		merged  []RawRecord
		failed  int
		wg      sync.WaitGroup
	)

	for _, src := range c.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()

			records, err := src.Fetch(ctx)
			if err != nil {
				log.WithError(err).WithField("source", src.ID()).
					Warn("Benchmark source unavailable this cycle")
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}

			log.WithField("source", src.ID()).WithField("records", len(records)).
				Debug("Collected benchmark records")
			mu.Lock()
			merged = append(merged, records...)
			mu.Unlock()
		}(src)
	}

	wg.Wait()

	if failed == len(c.sources) {
		return nil, ErrSourceUnavailable
	}
	return merged, nil
}
