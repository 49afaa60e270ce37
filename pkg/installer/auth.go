// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TokenEnvVars are checked in order when no explicit token is given.
var TokenEnvVars = []string{"HF_TOKEN", "HUGGING_FACE_HUB_TOKEN", "HUGGINGFACE_TOKEN"}

const tokenCacheName = ".hub_token"

// TokenCacheFile is where a validated token persists between runs.
func (p Paths) TokenCacheFile() string {
	return filepath.Join(p.Root, tokenCacheName)
}

// CachedToken returns the token cached under the runtime root, or "".
func CachedToken(p Paths) string {
	b, err := os.ReadFile(p.TokenCacheFile())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// SaveToken caches the token under the runtime root so future runs,
// interactive or not, stay authenticated.
func SaveToken(p Paths, token string) error {
	if err := os.MkdirAll(p.Root, 0o755); err != nil {
		return fmt.Errorf("create runtime root %s: %w", p.Root, err)
	}
	if err := os.WriteFile(p.TokenCacheFile(), []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("cache token: %w", err)
	}
	return nil
}

// DeleteCachedToken removes an invalid cached token. Missing files are
// not an error.
func DeleteCachedToken(p Paths) error {
	err := os.Remove(p.TokenCacheFile())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// TokenFromEnv returns the first token found in TokenEnvVars and the
// variable it came from.
func TokenFromEnv() (token, source string) {
	for _, ev := range TokenEnvVars {
		if v := strings.TrimSpace(os.Getenv(ev)); v != "" {
			return v, ev
		}
	}
	return "", ""
}

// ResolveToken picks the access token: explicit value first, then the
// cache, then the environment. Returns "" when nothing is configured;
// public models still download without one.
func ResolveToken(p Paths, explicit string) string {
	if t := strings.TrimSpace(explicit); t != "" {
		return t
	}
	if t := CachedToken(p); t != "" {
		return t
	}
	t, _ := TokenFromEnv()
	return t
}
