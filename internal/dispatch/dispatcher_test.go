// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/traylinx/roleroute/internal/router"
	"github.com/traylinx/roleroute/internal/usage"
)

type stubBackend struct {
	mu       sync.Mutex
	failures map[string]error
	invoked  []string
	bodies   [][]byte
}

func (b *stubBackend) Invoke(_ context.Context, model string, body []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invoked = append(b.invoked, model)
	b.bodies = append(b.bodies, body)
	if err, ok := b.failures[model]; ok {
		return nil, err
	}
	return []byte(`{"served_by":"` + model + `"}`), nil
}

type captureSink struct {
	mu      sync.Mutex
	records []*usage.Record
}

func (s *captureSink) Record(rec *usage.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *captureSink) Recent(int) ([]*usage.Record, error) { return s.records, nil }
func (s *captureSink) Close() error                        { return nil }

func decision() *router.Decision {
	return &router.Decision{
		Role:            "coding",
		RequestedRole:   "coding",
		Primary:         "model-a",
		Fallbacks:       []string{"model-b", "model-c"},
		SnapshotVersion: 7,
	}
}

func TestDispatchUsesPrimary(t *testing.T) {
	backend := &stubBackend{}
	sink := &captureSink{}
	d := New(backend, sink, nil)

	result, err := d.Dispatch(context.Background(), decision(), []byte(`{"model":"requested","messages":[]}`))
	require.NoError(t, err)

	assert.Equal(t, "model-a", result.ModelUsed)
	assert.Equal(t, 0, result.FallbackDepth)
	assert.Equal(t, []string{"model-a"}, backend.invoked)

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, "model-a", rec.ModelUsed)
	assert.Equal(t, "model-a", rec.PrimaryModel)
	assert.Equal(t, int64(7), rec.SnapshotVersion)
	assert.True(t, rec.Success)
}

func TestDispatchRewritesModelField(t *testing.T) {
	backend := &stubBackend{}
	d := New(backend, usage.NopSink{}, nil)

	_, err := d.Dispatch(context.Background(), decision(), []byte(`{"model":"client-choice","messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)

	require.Len(t, backend.bodies, 1)
	body := backend.bodies[0]
	assert.Equal(t, "model-a", gjson.GetBytes(body, "model").String())
	assert.Equal(t, "hi", gjson.GetBytes(body, "messages.0.content").String())
}

func TestDispatchWalksFallbackChain(t *testing.T) {
	backend := &stubBackend{failures: map[string]error{
		"model-a": errors.New("rate limited"),
		"model-b": errors.New("unavailable"),
	}}
	sink := &captureSink{}
	d := New(backend, sink, nil)

	result, err := d.Dispatch(context.Background(), decision(), []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, "model-c", result.ModelUsed)
	assert.Equal(t, 2, result.FallbackDepth)
	assert.Equal(t, []string{"model-a", "model-b", "model-c"}, backend.invoked)

	require.Len(t, sink.records, 1)
	assert.Equal(t, "model-c", sink.records[0].ModelUsed)
	assert.Equal(t, "model-a", sink.records[0].PrimaryModel)
	assert.Equal(t, 2, sink.records[0].FallbackDepth)
}

func TestDispatchAllCandidatesFail(t *testing.T) {
	backend := &stubBackend{failures: map[string]error{
		"model-a": errors.New("down"),
		"model-b": errors.New("down"),
		"model-c": errors.New("down"),
	}}
	sink := &captureSink{}
	d := New(backend, sink, nil)

	_, err := d.Dispatch(context.Background(), decision(), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all candidates failed")

	require.Len(t, sink.records, 1)
	assert.False(t, sink.records[0].Success)
	assert.NotEmpty(t, sink.records[0].ErrorMessage)
}

func TestDispatchStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &stubBackend{failures: map[string]error{
		"model-a": context.Canceled,
	}}
	cancel()

	d := New(backend, usage.NopSink{}, nil)
	_, err := d.Dispatch(ctx, decision(), []byte(`{}`))
	require.Error(t, err)

	// No fallback attempts after cancellation.
	assert.Equal(t, []string{"model-a"}, backend.invoked)
}

func TestHTTPBackendInvoke(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	backend := NewHTTPBackend(server.URL+"/v1", "sk-test", 5*time.Second)
	resp, err := backend.Invoke(context.Background(), "model-a", []byte(`{"model":"model-a"}`))
	require.NoError(t, err)

	assert.Equal(t, `{"choices":[]}`, string(resp))
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, `{"model":"model-a"}`, gotBody)
}

func TestHTTPBackendErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	backend := NewHTTPBackend(server.URL, "", 5*time.Second)
	_, err := backend.Invoke(context.Background(), "model-a", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
