// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package hooks provides the internal event bus connecting the evaluation
// subsystem, the routing path, and observers such as the management API.
// Publication is fire-and-forget; no core behavior depends on a subscriber.
package hooks

import (
	"time"
)

// Event names a notification kind flowing over the bus.
type Event string

const (
	// EventEvaluationStarted fires when an evaluation run begins.
	EventEvaluationStarted Event = "evaluation_started"
	// EventEvaluationPublished fires after a new snapshot became current.
	EventEvaluationPublished Event = "evaluation_published"
	// EventEvaluationFailed fires when a run ends without publishing.
	EventEvaluationFailed Event = "evaluation_failed"
	// EventModelDiscovered fires once per newly discovered model identity.
	EventModelDiscovered Event = "model_discovered"
	// EventRoutingDecision fires for every routed request.
	EventRoutingDecision Event = "routing_decision"
	// EventRequestDispatched fires after a dispatch completed, including the
	// model actually used (which may be a fallback).
	EventRequestDispatched Event = "request_dispatched"
	// EventPromptsReloaded fires when role prompt strategies were reloaded.
	EventPromptsReloaded Event = "prompts_reloaded"
)

// EventContext carries one published event and its payload.
type EventContext struct {
	Event     Event                  `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	Role      string                 `json:"role,omitempty"`
	Model     string                 `json:"model,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     error                  `json:"-"`
}
