// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package steering infers a role for requests that carry none. Rules are
// expression conditions evaluated against lightweight request features;
// the first matching rule wins.
package steering

import (
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	log "github.com/sirupsen/logrus"
)

// RequestContext is the environment a rule condition is evaluated against.
type RequestContext struct {
	// Model is the model the client asked for, if any.
	Model string

	// ContentLength is the total length of message content in the request.
	ContentLength int

	// Hour is the local hour of day, 0-23.
	Hour int

	// DayOfWeek is the local weekday, 0 (Sunday) through 6.
	DayOfWeek int
}

// Rule maps a condition to a role.
type Rule struct {
	// Name identifies the rule in logs.
	Name string `yaml:"name"`

	// When is an expr condition over RequestContext fields. Empty or
	// "true" always matches.
	When string `yaml:"when"`

	// Role is assigned when the condition holds.
	Role string `yaml:"role"`
}

// Inferencer evaluates rules in order and returns the first matching role.
type Inferencer struct {
	rules []Rule

	mu       sync.Mutex
	programs map[string]*vm.Program
}

// NewInferencer creates an inferencer over the given rules. Rules with an
// empty role are rejected up front.
func NewInferencer(rules []Rule) (*Inferencer, error) {
	for i, r := range rules {
		if r.Role == "" {
			return nil, fmt.Errorf("steering rule %d (%s) has no role", i, r.Name)
		}
	}
	return &Inferencer{
		rules:    rules,
		programs: make(map[string]*vm.Program),
	}, nil
}

// ContextFor builds a RequestContext from request features at the given time.
func ContextFor(model string, contentLength int, now time.Time) *RequestContext {
	return &RequestContext{
		Model:         model,
		ContentLength: contentLength,
		Hour:          now.Hour(),
		DayOfWeek:     int(now.Weekday()),
	}
}

// Infer returns the role of the first matching rule, or "" when no rule
// matches. A rule that fails to compile or run is skipped with a warning.
func (inf *Inferencer) Infer(ctx *RequestContext) string {
	for _, rule := range inf.rules {
		matched, err := inf.evaluate(rule.When, ctx)
		if err != nil {
			log.Warnf("Failed to evaluate steering rule %s: %v", rule.Name, err)
			continue
		}
		if matched {
			log.Debugf("Steering rule %s matched, inferring role %s", rule.Name, rule.Role)
			return rule.Role
		}
	}
	return ""
}

func (inf *Inferencer) evaluate(condition string, ctx *RequestContext) (bool, error) {
	if condition == "" || condition == "true" {
		return true, nil
	}

	inf.mu.Lock()
	program, exists := inf.programs[condition]
	if !exists {
		var err error
		program, err = expr.Compile(condition, expr.Env(ctx))
		if err != nil {
			inf.mu.Unlock()
			return false, fmt.Errorf("failed to compile condition '%s': %w", condition, err)
		}
		inf.programs[condition] = program
	}
	inf.mu.Unlock()

	output, err := expr.Run(program, ctx)
	if err != nil {
		return false, fmt.Errorf("failed to run condition '%s': %w", condition, err)
	}

	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition '%s' did not return a boolean", condition)
	}
	return result, nil
}
