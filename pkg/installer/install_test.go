// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package installer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeHub is a minimal Hub: resolve endpoints with Range support, tree
// listings for snapshot repos, and a configurable set of gated repos
// that answer 403.
type fakeHub struct {
	files map[string][]byte           // "owner/name/file" -> content
	trees map[string][]map[string]any // "owner/name" -> tree nodes
	gated map[string]bool             // "owner/name" -> forbidden
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		files: map[string][]byte{},
		trees: map[string][]map[string]any{},
		gated: map[string]bool{},
	}
}

func (h *fakeHub) addFile(repo, file string, content []byte) {
	h.files[repo+"/"+file] = content
}

func (h *fakeHub) addSnapshot(repo string, files map[string][]byte) {
	for name, content := range files {
		h.addFile(repo, name, content)
		h.trees[repo] = append(h.trees[repo], map[string]any{
			"type": "file",
			"path": name,
			"size": len(content),
		})
	}
}

func (h *fakeHub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")

		if strings.HasPrefix(path, "api/models/") {
			rest := strings.TrimPrefix(path, "api/models/")
			repo := strings.TrimSuffix(strings.Split(rest, "/tree/")[0], "/")
			if h.gated[repo] {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			nodes, ok := h.trees[repo]
			if !ok {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(nodes)
			return
		}

		// owner/name/resolve/main/file...
		parts := strings.SplitN(path, "/resolve/main/", 2)
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		repo := parts[0]
		if h.gated[repo] {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		content, ok := h.files[repo+"/"+parts[1]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, filepath.Base(parts[1]), time.Time{}, bytes.NewReader(content))
	})
}

func installFixture(t *testing.T, hub *fakeHub) (*Installer, Paths, *Catalog) {
	t.Helper()
	srv := httptest.NewServer(hub.handler())
	t.Cleanup(srv.Close)

	p := NewPaths(t.TempDir(), "")
	catalog, err := ParseCatalog([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}

	cfg := DefaultSettings()
	cfg.Endpoint = srv.URL
	cfg.Retries = 0
	cfg.BackoffInitial = "1ms"
	return New(catalog, p, cfg, nil), p, catalog
}

func TestInstall_CheckpointWithCompanion(t *testing.T) {
	hub := newFakeHub()
	weights := randomPayload(t, 4096)
	vae := randomPayload(t, 4096)
	hub.addFile("runwayml/stable-diffusion-v1-5", "v1-5-pruned-emaonly.ckpt", weights)
	hub.addFile("stabilityai/sd-vae-ft-mse-original", "vae-ft-mse-840000-ema-pruned.ckpt", vae)

	inst, p, _ := installFixture(t, hub)
	outcomes := inst.Install(context.Background(), []string{"stable-diffusion-1.5"})

	if len(outcomes.Failed()) != 0 {
		t.Fatalf("Expected success, got %v", outcomes.Failed())
	}
	wantPath := filepath.Join(p.WeightsDir, "v1-5-pruned-emaonly.ckpt")
	if outcomes[0].Path != wantPath {
		t.Errorf("Expected outcome path %s, got %s", wantPath, outcomes[0].Path)
	}

	got, _ := os.ReadFile(wantPath)
	if !bytes.Equal(got, weights) {
		t.Error("Weights content mismatch")
	}
	gotVAE, _ := os.ReadFile(filepath.Join(p.WeightsDir, "vae-ft-mse-840000-ema-pruned.ckpt"))
	if !bytes.Equal(gotVAE, vae) {
		t.Error("Companion content mismatch")
	}
}

func TestInstall_PipelineSnapshot(t *testing.T) {
	hub := newFakeHub()
	snapshot := map[string][]byte{
		"model_index.json":         []byte(`{"_class_name": "StableDiffusionPipeline"}`),
		"unet/config.json":         []byte(`{"sample_size": 64}`),
		"unet/weights.safetensors": randomPayload(t, 4096),
		"tokenizer/merges.txt":     []byte("a b\n"),
	}
	hub.addSnapshot("Fictiverse/Stable_Diffusion_PaperCut_Model", snapshot)

	inst, p, _ := installFixture(t, hub)
	outcomes := inst.Install(context.Background(), []string{"papercut-1.0"})

	if len(outcomes.Failed()) != 0 {
		t.Fatalf("Expected success, got %+v", outcomes.Failed())
	}
	root := filepath.Join(p.ModelsDir, "Fictiverse", "Stable_Diffusion_PaperCut_Model")
	if outcomes[0].Path != root {
		t.Errorf("Expected snapshot dir %s, got %s", root, outcomes[0].Path)
	}
	for name, content := range snapshot {
		got, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
		if err != nil {
			t.Errorf("Missing snapshot file %s: %v", name, err)
			continue
		}
		if !bytes.Equal(got, content) {
			t.Errorf("Content mismatch for %s", name)
		}
	}
}

func TestInstall_ContinuesPastFailures(t *testing.T) {
	hub := newFakeHub()
	hub.gated["runwayml/stable-diffusion-v1-5"] = true
	wd := randomPayload(t, 4096)
	hub.addFile("hakurei/waifu-diffusion-v1-3", "model-epoch09-float32.ckpt", wd)

	inst, p, _ := installFixture(t, hub)
	outcomes := inst.Install(context.Background(), []string{"stable-diffusion-1.5", "waifu-diffusion-1.3"})

	if len(outcomes) != 2 {
		t.Fatalf("Expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Err == nil {
		t.Error("Gated model should fail")
	}
	if !errors.Is(outcomes[0].Err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", outcomes[0].Err)
	}
	if outcomes[1].Err != nil {
		t.Errorf("Second model should still install, got %v", outcomes[1].Err)
	}

	got, _ := os.ReadFile(filepath.Join(p.WeightsDir, "model-epoch09-float32.ckpt"))
	if !bytes.Equal(got, wd) {
		t.Error("Second model content mismatch")
	}

	// The registry records only the successful model, which becomes
	// the default even though it was processed second.
	if err := inst.SyncRegistry(outcomes); err != nil {
		t.Fatalf("SyncRegistry failed: %v", err)
	}
	doc, _ := LoadDocument(p.RegistryFile)
	if doc.Len() != 1 {
		t.Fatalf("Expected one stanza, got %d", doc.Len())
	}
	st, _ := doc.Get("waifu-diffusion-1.3")
	if st == nil || !st.Default {
		t.Error("Sole successful model should be the registry default")
	}
}

func TestInstall_UnknownModel(t *testing.T) {
	inst, _, _ := installFixture(t, newFakeHub())
	outcomes := inst.Install(context.Background(), []string{"does-not-exist"})
	if len(outcomes) != 1 || !errors.Is(outcomes[0].Err, ErrUnknownModel) {
		t.Fatalf("Expected ErrUnknownModel outcome, got %+v", outcomes)
	}
}

func TestInstall_RetriesTransientFailures(t *testing.T) {
	payload := randomPayload(t, 4096)
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}
		http.ServeContent(w, r, "m.ckpt", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	p := NewPaths(t.TempDir(), "")
	catalog, _ := ParseCatalog([]byte(testCatalogYAML))
	cfg := DefaultSettings()
	cfg.Endpoint = srv.URL
	cfg.Retries = 2
	cfg.BackoffInitial = "1ms"
	cfg.BackoffMax = "5ms"

	var retries int
	inst := New(catalog, p, cfg, func(ev ProgressEvent) {
		if ev.Event == "retry" {
			retries++
		}
	})

	dest := filepath.Join(p.WeightsDir, "m.ckpt")
	got, err := inst.fetchWithRetry(context.Background(), "m", srv.URL+"/x/resolve/main/m.ckpt", dest)
	if err != nil {
		t.Fatalf("Expected recovery after retry, got %v", err)
	}
	if got != dest {
		t.Errorf("Expected %s, got %s", dest, got)
	}
	if retries != 1 {
		t.Errorf("Expected 1 retry event, got %d", retries)
	}
	data, _ := os.ReadFile(dest)
	if !bytes.Equal(data, payload) {
		t.Error("Recovered download content mismatch")
	}
}

func TestInstall_DoesNotRetryAnomalies(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("<html>license wall</html>"))
	}))
	defer srv.Close()

	p := NewPaths(t.TempDir(), "")
	catalog, _ := ParseCatalog([]byte(testCatalogYAML))
	cfg := DefaultSettings()
	cfg.Endpoint = srv.URL
	cfg.Retries = 3
	cfg.BackoffInitial = "1ms"

	inst := New(catalog, p, cfg, nil)
	_, err := inst.fetchWithRetry(context.Background(), "m", srv.URL+"/x/resolve/main/m.ckpt", filepath.Join(p.WeightsDir, "m.ckpt"))

	var anomaly *ContentAnomalyError
	if !errors.As(err, &anomaly) {
		t.Fatalf("Expected ContentAnomalyError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Anomalies must not be retried, server saw %d calls", calls)
	}
}

func TestInstall_ContextCancellation(t *testing.T) {
	inst, _, _ := installFixture(t, newFakeHub())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := inst.Install(ctx, []string{"stable-diffusion-1.5", "waifu-diffusion-1.3"})
	if len(outcomes) != 2 {
		t.Fatalf("Expected outcomes for all requested models, got %d", len(outcomes))
	}
	for _, oc := range outcomes {
		if !errors.Is(oc.Err, context.Canceled) {
			t.Errorf("Expected context.Canceled for %s, got %v", oc.ID, oc.Err)
		}
	}
}
