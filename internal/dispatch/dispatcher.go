// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dispatch forwards a routed request to the chosen backend model and
// walks the fallback chain on failure. It is deliberately thin: everything
// interesting about model selection already happened in the router.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/traylinx/roleroute/internal/hooks"
	"github.com/traylinx/roleroute/internal/router"
	"github.com/traylinx/roleroute/internal/usage"
)

// Backend invokes one model with an OpenAI-style request body and returns
// the raw response body.
type Backend interface {
	Invoke(ctx context.Context, model string, body []byte) ([]byte, error)
}

// HTTPBackend forwards chat completion requests to an OpenAI-compatible
// upstream endpoint.
type HTTPBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPBackend creates a backend for an OpenAI-compatible base URL.
func NewHTTPBackend(baseURL, apiKey string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPBackend{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Invoke posts the body to the upstream chat completions endpoint.
func (b *HTTPBackend) Invoke(ctx context.Context, model string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request for %s failed: %w", model, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("upstream returned status %d for %s", resp.StatusCode, model)
	}
	return data, nil
}

// Result is the outcome of a dispatch, including which model actually
// answered and how deep into the fallback chain it sat.
type Result struct {
	Response      []byte
	ModelUsed     string
	FallbackDepth int
	Latency       time.Duration
}

// Dispatcher executes routing decisions against a backend and emits one
// usage record per request.
type Dispatcher struct {
	backend Backend
	sink    usage.Sink
	bus     *hooks.EventBus
}

// New creates a dispatcher. sink must be non-nil (use usage.NopSink{} to
// disable accounting); bus may be nil.
func New(backend Backend, sink usage.Sink, bus *hooks.EventBus) *Dispatcher {
	return &Dispatcher{backend: backend, sink: sink, bus: bus}
}

// Dispatch tries the decision's primary, then each fallback in order. The
// model field of the raw request body is rewritten per attempt. The usage
// record always carries the model that actually served the request.
func (d *Dispatcher) Dispatch(ctx context.Context, decision *router.Decision, body []byte) (*Result, error) {
	started := time.Now()
	candidates := append([]string{decision.Primary}, decision.Fallbacks...)

	var lastErr error
	for depth, model := range candidates {
		patched, err := sjson.SetBytes(body, "model", model)
		if err != nil {
			return nil, fmt.Errorf("failed to set model on request body: %w", err)
		}

		resp, err := d.backend.Invoke(ctx, model, patched)
		if err != nil {
			lastErr = err
			log.WithError(err).WithField("model", model).WithField("depth", depth).
				Debug("Dispatch attempt failed; walking fallback chain")
			if ctx.Err() != nil {
				break
			}
			continue
		}

		result := &Result{
			Response:      resp,
			ModelUsed:     model,
			FallbackDepth: depth,
			Latency:       time.Since(started),
		}
		d.record(decision, result, true, "")
		return result, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate models for role %s", decision.Role)
	}
	d.record(decision, &Result{Latency: time.Since(started)}, false, lastErr.Error())
	return nil, fmt.Errorf("all candidates failed for role %s: %w", decision.Role, lastErr)
}

func (d *Dispatcher) record(decision *router.Decision, result *Result, success bool, errMsg string) {
	modelUsed := result.ModelUsed
	if modelUsed == "" {
		modelUsed = decision.Primary
	}
	d.sink.Record(&usage.Record{
		Timestamp:       time.Now().UTC(),
		Role:            decision.Role,
		RequestedRole:   decision.RequestedRole,
		ModelUsed:       modelUsed,
		PrimaryModel:    decision.Primary,
		FallbackDepth:   result.FallbackDepth,
		SnapshotVersion: decision.SnapshotVersion,
		Success:         success,
		LatencyMs:       result.Latency.Milliseconds(),
		ErrorMessage:    errMsg,
	})

	if d.bus != nil {
		d.bus.PublishAsync(&hooks.EventContext{
			Event:     hooks.EventRequestDispatched,
			Timestamp: time.Now(),
			Role:      decision.Role,
			Model:     modelUsed,
			Data: map[string]interface{}{
				"success":        success,
				"fallback_depth": result.FallbackDepth,
			},
		})
	}
}
