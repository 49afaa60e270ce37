// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package installer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func clearTokenEnv(t *testing.T) {
	t.Helper()
	for _, ev := range TokenEnvVars {
		t.Setenv(ev, "")
	}
}

func TestResolveToken_Precedence(t *testing.T) {
	clearTokenEnv(t)
	p := NewPaths(t.TempDir(), "")

	t.Run("nothing configured", func(t *testing.T) {
		if got := ResolveToken(p, ""); got != "" {
			t.Errorf("Expected empty token, got %q", got)
		}
	})

	t.Run("environment fallback", func(t *testing.T) {
		t.Setenv("HUGGING_FACE_HUB_TOKEN", "hf_fromenv")
		if got := ResolveToken(p, ""); got != "hf_fromenv" {
			t.Errorf("Expected env token, got %q", got)
		}
	})

	t.Run("cache beats environment", func(t *testing.T) {
		t.Setenv("HF_TOKEN", "hf_fromenv")
		if err := SaveToken(p, "hf_cached"); err != nil {
			t.Fatal(err)
		}
		defer DeleteCachedToken(p)
		if got := ResolveToken(p, ""); got != "hf_cached" {
			t.Errorf("Expected cached token, got %q", got)
		}
	})

	t.Run("explicit beats everything", func(t *testing.T) {
		if err := SaveToken(p, "hf_cached"); err != nil {
			t.Fatal(err)
		}
		defer DeleteCachedToken(p)
		if got := ResolveToken(p, "hf_explicit"); got != "hf_explicit" {
			t.Errorf("Expected explicit token, got %q", got)
		}
	})
}

func TestTokenCache_RoundTrip(t *testing.T) {
	p := NewPaths(t.TempDir(), "")

	if err := SaveToken(p, "hf_secret"); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}
	fi, err := os.Stat(p.TokenCacheFile())
	if err != nil {
		t.Fatalf("stat cache: %v", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("Expected 0600 cache permissions, got %v", fi.Mode().Perm())
	}

	if got := CachedToken(p); got != "hf_secret" {
		t.Errorf("Expected trimmed token back, got %q", got)
	}

	if err := DeleteCachedToken(p); err != nil {
		t.Fatalf("DeleteCachedToken failed: %v", err)
	}
	if got := CachedToken(p); got != "" {
		t.Errorf("Expected no token after delete, got %q", got)
	}
	// Deleting again is not an error.
	if err := DeleteCachedToken(p); err != nil {
		t.Errorf("Second delete should be a no-op, got %v", err)
	}
}

func TestWhoAmI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/whoami-v2" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer hf_good" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"name": "dreamer"}`))
	}))
	defer srv.Close()

	cfg := DefaultSettings()
	cfg.Endpoint = srv.URL

	t.Run("valid token", func(t *testing.T) {
		cfg.Token = "hf_good"
		name, err := NewClient(cfg, nil).WhoAmI(context.Background())
		if err != nil {
			t.Fatalf("WhoAmI failed: %v", err)
		}
		if name != "dreamer" {
			t.Errorf("Expected account name dreamer, got %q", name)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		cfg.Token = "hf_bad"
		_, err := NewClient(cfg, nil).WhoAmI(context.Background())
		if err == nil {
			t.Fatal("Expected error for invalid token")
		}
	})
}
