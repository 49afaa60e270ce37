// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package installer

import (
	"errors"
	"fmt"
)

// Common errors returned by the library.
var (
	// ErrUnauthorized is returned when a repository requires a token that
	// was not provided or was rejected.
	ErrUnauthorized = errors.New("unauthorized: this repository requires authentication")

	// ErrNotFound is returned when the repository or file does not exist.
	ErrNotFound = errors.New("repository or file not found")

	// ErrRateLimited is returned when the Hub rate limit is exceeded.
	ErrRateLimited = errors.New("rate limited: too many requests")

	// ErrUnknownModel is returned when a requested ID is not in the catalog.
	ErrUnknownModel = errors.New("unknown model id")
)

// DownloadError wraps a local I/O or mid-stream transfer failure with
// the destination path. The partial file at Path is preserved.
type DownloadError struct {
	Path string
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.Path, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// HubError represents a non-success HTTP status from the Hub.
type HubError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HubError) Error() string {
	return fmt.Sprintf("hub error %d (%s): %s", e.StatusCode, e.Status, e.URL)
}

// IsRetryable returns true if the request might succeed on retry.
func (e *HubError) IsRetryable() bool {
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Is implements errors.Is for common error comparisons.
func (e *HubError) Is(target error) bool {
	switch e.StatusCode {
	case 401, 403:
		return errors.Is(target, ErrUnauthorized)
	case 404:
		return errors.Is(target, ErrNotFound)
	case 429:
		return errors.Is(target, ErrRateLimited)
	default:
		return false
	}
}

// ContentAnomalyError is returned when a 2xx response advertises a body
// too small to be a weights file, typically an HTML error page for a
// gated repository. The rejected body is retained for logging.
type ContentAnomalyError struct {
	URL    string
	Length int64
	Body   string
}

func (e *ContentAnomalyError) Error() string {
	return fmt.Sprintf("implausibly small response (%d bytes) for %s: %s", e.Length, e.URL, e.Body)
}
