// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package installer

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// weightServer serves a fixed payload with full Range support, the way
// the Hub's resolve endpoint does, and records the headers it saw.
func weightServer(t *testing.T, payload []byte) (*httptest.Server, *[]http.Header) {
	t.Helper()
	var seen []http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Clone())
		http.ServeContent(w, r, "weights.ckpt", time.Time{}, bytes.NewReader(payload))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func testClient(cfg Settings) *Client {
	if cfg.ChunkSize == 0 {
		cfg = DefaultSettings()
	}
	return NewClient(cfg, nil)
}

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return b
}

func TestFetch_FullDownload(t *testing.T) {
	payload := randomPayload(t, 8192)
	srv, seen := weightServer(t, payload)
	dest := filepath.Join(t.TempDir(), "weights", "model.ckpt")

	cfg := DefaultSettings()
	cfg.Token = "hf_testtoken"
	got, err := NewClient(cfg, nil).Fetch(context.Background(), srv.URL, dest)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got != dest {
		t.Errorf("Expected path %s, got %s", dest, got)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("Downloaded bytes differ from payload (%d vs %d bytes)", len(data), len(payload))
	}

	req := (*seen)[0]
	if auth := req.Get("Authorization"); auth != "Bearer hf_testtoken" {
		t.Errorf("Expected bearer token header, got %q", auth)
	}
	if req.Get("Range") != "" {
		t.Error("Fresh download should not carry a Range header")
	}
}

func TestFetch_ResumesPartialFile(t *testing.T) {
	payload := randomPayload(t, 8192)
	srv, seen := weightServer(t, payload)

	dest := filepath.Join(t.TempDir(), "model.ckpt")
	const offset = 3000
	if err := os.WriteFile(dest, payload[:offset], 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := testClient(Settings{}).Fetch(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if got := (*seen)[0].Get("Range"); got != "bytes=3000-" {
		t.Errorf("Expected Range bytes=3000-, got %q", got)
	}
	data, _ := os.ReadFile(dest)
	if !bytes.Equal(data, payload) {
		t.Errorf("Resumed file differs from payload (%d vs %d bytes)", len(data), len(payload))
	}
}

func TestFetch_AlreadyCompleteVia416(t *testing.T) {
	payload := randomPayload(t, 4096)
	srv, _ := weightServer(t, payload)

	dest := filepath.Join(t.TempDir(), "model.ckpt")
	if err := os.WriteFile(dest, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	var events []ProgressEvent
	cfg := DefaultSettings()
	c := NewClient(cfg, func(ev ProgressEvent) { events = append(events, ev) })

	got, err := c.Fetch(context.Background(), srv.URL, dest)
	if err != nil {
		t.Fatalf("Expected success on complete file, got %v", err)
	}
	if got != dest {
		t.Errorf("Expected %s, got %s", dest, got)
	}

	data, _ := os.ReadFile(dest)
	if !bytes.Equal(data, payload) {
		t.Error("Complete file was modified by a no-op fetch")
	}

	// Second call must be byte-identical too: the operation is idempotent.
	if _, err := c.Fetch(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("Second fetch failed: %v", err)
	}
	data, _ = os.ReadFile(dest)
	if !bytes.Equal(data, payload) {
		t.Error("Repeated fetch modified a complete file")
	}

	found := false
	for _, ev := range events {
		if ev.Event == "file_done" && strings.Contains(ev.Message, "skipping") {
			found = true
		}
	}
	if !found {
		t.Error("Expected a skip event for the complete file")
	}
}

func TestFetch_RejectsContentAnomaly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Gated repos answer with a short HTML page and a 200 status.
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html>Access to this model requires agreement</html>"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.ckpt")
	_, err := testClient(Settings{}).Fetch(context.Background(), srv.URL, dest)

	var anomaly *ContentAnomalyError
	if !errors.As(err, &anomaly) {
		t.Fatalf("Expected ContentAnomalyError, got %v", err)
	}
	if !strings.Contains(anomaly.Body, "agreement") {
		t.Errorf("Expected captured body excerpt, got %q", anomaly.Body)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("Anomalous response must not create or grow the destination file")
	}
}

func TestFetch_AnomalyDoesNotGrowPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("denied"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.ckpt")
	partial := []byte("first-half-of-the-weights")
	if err := os.WriteFile(dest, partial, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := testClient(Settings{}).Fetch(context.Background(), srv.URL, dest)
	var anomaly *ContentAnomalyError
	if !errors.As(err, &anomaly) {
		t.Fatalf("Expected ContentAnomalyError, got %v", err)
	}
	data, _ := os.ReadFile(dest)
	if !bytes.Equal(data, partial) {
		t.Error("Partial file changed after an anomalous response")
	}
}

func TestFetch_HubErrorKeepsPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.ckpt")
	partial := []byte("partial-bytes")
	if err := os.WriteFile(dest, partial, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := testClient(Settings{}).Fetch(context.Background(), srv.URL, dest)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized, got %v", err)
	}
	var hubErr *HubError
	if !errors.As(err, &hubErr) || hubErr.StatusCode != http.StatusForbidden {
		t.Errorf("Expected HubError with status 403, got %v", err)
	}
	data, _ := os.ReadFile(dest)
	if !bytes.Equal(data, partial) {
		t.Error("Partial file must survive a failed attempt")
	}
}

func TestFetch_MissingContentLengthTolerated(t *testing.T) {
	// Flushing mid-body forces chunked encoding: the response carries
	// no Content-Length at all.
	payload := []byte("short body without an advertised length")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload[:10])
		w.(http.Flusher).Flush()
		w.Write(payload[10:])
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.ckpt")
	var events []ProgressEvent
	cfg := DefaultSettings()
	c := NewClient(cfg, func(ev ProgressEvent) { events = append(events, ev) })

	// The payload is far below MinContentLength, but the anomaly check
	// applies only when the server advertises a length.
	got, err := c.Fetch(context.Background(), srv.URL, dest)
	if err != nil {
		t.Fatalf("Fetch without Content-Length failed: %v", err)
	}
	if got != dest {
		t.Errorf("Expected %s, got %s", dest, got)
	}
	data, _ := os.ReadFile(dest)
	if !bytes.Equal(data, payload) {
		t.Errorf("Downloaded bytes differ from payload (%d vs %d bytes)", len(data), len(payload))
	}

	// With no advertised length the target is unknown; progress is an
	// unbounded counter.
	var done bool
	for _, ev := range events {
		if ev.Event == "file_done" {
			done = true
			if ev.Total != 0 {
				t.Errorf("Expected zero total for unknown length, got %d", ev.Total)
			}
			if ev.Downloaded != int64(len(payload)) {
				t.Errorf("Expected %d downloaded, got %d", len(payload), ev.Downloaded)
			}
		}
	}
	if !done {
		t.Error("Expected a file_done event")
	}
}

func TestFetch_SmallFileAllowedBelowDefaultThreshold(t *testing.T) {
	// The threshold is configurable; with it disabled small payloads
	// such as config files pass through.
	payload := []byte(`{"model_type": "unet"}`)
	srv, _ := weightServer(t, payload)

	dest := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultSettings()
	c := NewClient(cfg, nil)
	if _, err := c.fetch(context.Background(), srv.URL, dest, 0); err != nil {
		t.Fatalf("Fetch with disabled threshold failed: %v", err)
	}
	data, _ := os.ReadFile(dest)
	if !bytes.Equal(data, payload) {
		t.Error("Small payload corrupted")
	}
}
