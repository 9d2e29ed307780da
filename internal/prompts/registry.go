// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package prompts manages per-role prompt strategies. Each role may have a
// Markdown file with YAML frontmatter; its body is prepended to the request
// as a system message before dispatch. A missing strategy never fails a
// request: the body passes through untouched.
package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/traylinx/roleroute/internal/hooks"
)

// Strategy is one role's prompt rewriting instruction, loaded from a
// <role>.md file.
type Strategy struct {
	// Role is derived from the file name.
	Role string `yaml:"-"`

	// Name is the human-readable name from the frontmatter.
	Name string `yaml:"name"`

	// Description explains when the strategy applies.
	Description string `yaml:"description"`

	// Body is the Markdown content after the frontmatter, injected as a
	// system message.
	Body string `yaml:"-"`
}

// Registry loads and serves role prompt strategies, hot-reloading on
// directory changes.
type Registry struct {
	dir         string
	defaultRole string
	strategies  map[string]*Strategy
	mu          sync.RWMutex

	bus         *hooks.EventBus
	watcher     *fsnotify.Watcher
	stopWatcher chan struct{}
}

// NewRegistry creates a registry rooted at dir. defaultRole is consulted
// when the requested role has no strategy of its own. bus may be nil.
func NewRegistry(dir, defaultRole string, bus *hooks.EventBus) *Registry {
	return &Registry{
		dir:         dir,
		defaultRole: defaultRole,
		strategies:  make(map[string]*Strategy),
		bus:         bus,
		stopWatcher: make(chan struct{}),
	}
}

// LoadAll parses every .md file in the prompts directory. Malformed files
// are skipped with a warning so one bad strategy cannot take down the rest.
func (r *Registry) LoadAll() error {
	if r.dir == "" {
		return fmt.Errorf("prompts directory not specified")
	}
	if _, err := os.Stat(r.dir); os.IsNotExist(err) {
		return fmt.Errorf("prompts directory does not exist: %s", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("failed to read prompts directory: %w", err)
	}

	loaded := make(map[string]*Strategy)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}

		path := filepath.Join(r.dir, entry.Name())
		strategy, err := parseFile(path)
		if err != nil {
			log.Warnf("Skipping prompt strategy %s: %v", path, err)
			continue
		}
		loaded[strategy.Role] = strategy
	}

	r.mu.Lock()
	r.strategies = loaded
	r.mu.Unlock()

	log.Infof("Loaded %d prompt strategies from %s", len(loaded), r.dir)
	return nil
}

// parseFile splits frontmatter from body. Format: ---\nYAML\n---\nContent.
// Frontmatter is optional; a file without it is all body.
func parseFile(path string) (*Strategy, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	role := strings.TrimSuffix(filepath.Base(path), ".md")
	strategy := &Strategy{Role: role}

	text := string(content)
	if strings.HasPrefix(text, "---") {
		parts := strings.SplitN(text, "---", 3)
		if len(parts) < 3 {
			return nil, fmt.Errorf("unterminated frontmatter")
		}
		if err := yaml.Unmarshal([]byte(parts[1]), strategy); err != nil {
			return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
		}
		strategy.Body = strings.TrimSpace(parts[2])
	} else {
		strategy.Body = strings.TrimSpace(text)
	}

	if strategy.Name == "" {
		strategy.Name = role
	}
	if strategy.Body == "" {
		return nil, fmt.Errorf("empty strategy body")
	}
	return strategy, nil
}

// Lookup returns the strategy for a role, falling back to the default role.
// Returns nil when neither exists.
func (r *Registry) Lookup(role string) *Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.strategies[role]; ok {
		return s
	}
	if s, ok := r.strategies[r.defaultRole]; ok {
		return s
	}
	return nil
}

// Count returns the number of loaded strategies.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies)
}

// Rewrite injects the role's strategy into an OpenAI-style request body.
// If the first message is already a system message the strategy text is
// prepended to it, otherwise a new system message is inserted at the front.
// Without a strategy the body is returned unchanged.
func (r *Registry) Rewrite(role string, body []byte) []byte {
	strategy := r.Lookup(role)
	if strategy == nil {
		return body
	}

	messages := gjson.GetBytes(body, "messages")
	if !messages.Exists() || !messages.IsArray() {
		return body
	}

	first := gjson.GetBytes(body, "messages.0")
	if first.Get("role").String() == "system" {
		merged := strategy.Body + "\n\n" + first.Get("content").String()
		out, err := sjson.SetBytes(body, "messages.0.content", merged)
		if err != nil {
			log.WithError(err).Warn("Failed to merge prompt strategy into system message")
			return body
		}
		return out
	}

	sysMsg, _ := sjson.Set(`{"role":"system"}`, "content", strategy.Body)
	rebuilt := "[" + sysMsg
	messages.ForEach(func(_, msg gjson.Result) bool {
		rebuilt += "," + msg.Raw
		return true
	})
	rebuilt += "]"

	out, err := sjson.SetRawBytes(body, "messages", []byte(rebuilt))
	if err != nil {
		log.WithError(err).Warn("Failed to inject prompt strategy")
		return body
	}
	return out
}

// StartWatcher begins hot-reloading strategies on directory changes.
func (r *Registry) StartWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return err
	}
	r.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					log.Infof("Prompts directory changed (%s), reloading strategies...", event.Name)
					// Debounce editor write bursts.
					time.Sleep(100 * time.Millisecond)
					if err := r.LoadAll(); err != nil {
						log.Errorf("Failed to reload prompt strategies: %v", err)
						continue
					}
					if r.bus != nil {
						r.bus.PublishAsync(&hooks.EventContext{
							Event:     hooks.EventPromptsReloaded,
							Timestamp: time.Now(),
							Data:      map[string]interface{}{"count": r.Count()},
						})
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("Prompts watcher error: %v", err)
			case <-r.stopWatcher:
				return
			}
		}
	}()

	return nil
}

// StopWatcher stops the file watcher.
func (r *Registry) StopWatcher() {
	if r.watcher != nil {
		select {
		case <-r.stopWatcher:
		default:
			close(r.stopWatcher)
		}
		r.watcher.Close()
		r.watcher = nil
	}
}
