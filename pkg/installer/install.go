// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package installer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Installer drives a whole install run: it fetches each selected model
// in order, collects per-model outcomes, and feeds them to the registry
// synchronizer. Models are processed strictly sequentially; each
// destination file is owned exclusively by its own fetch for the
// duration of the transfer.
type Installer struct {
	client  *Client
	catalog *Catalog
	paths   Paths
	cfg     Settings
	emit    func(ProgressEvent)
}

// New builds an Installer. The progress callback may be nil.
func New(catalog *Catalog, p Paths, cfg Settings, progress ProgressFunc) *Installer {
	emit := func(ev ProgressEvent) {
		if progress != nil {
			if ev.Time.IsZero() {
				ev.Time = time.Now()
			}
			progress(ev)
		}
	}
	return &Installer{
		client:  NewClient(cfg, progress),
		catalog: catalog,
		paths:   p,
		cfg:     cfg,
		emit:    emit,
	}
}

// Client exposes the underlying Hub client, mainly for token checks.
func (in *Installer) Client() *Client { return in.client }

// Install fetches every model in ids, in the given order, and returns
// one outcome per model. A failure marks that model's outcome and the
// batch moves on; partial downloads stay on disk so the next run can
// resume them. Only context cancellation stops the whole batch early.
func (in *Installer) Install(ctx context.Context, ids []string) Outcomes {
	outcomes := make(Outcomes, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, Outcome{ID: id, Err: err})
			continue
		}

		desc, ok := in.catalog.Get(id)
		if !ok {
			outcomes = append(outcomes, Outcome{ID: id, Err: fmt.Errorf("%w: %s", ErrUnknownModel, id)})
			continue
		}

		in.emit(ProgressEvent{Event: "model_start", Model: id, Message: desc.Description})
		path, err := in.installOne(ctx, desc)
		if err != nil {
			in.emit(ProgressEvent{Level: "error", Event: "error", Model: id, Message: err.Error()})
			outcomes = append(outcomes, Outcome{ID: id, Err: err})
			continue
		}
		in.emit(ProgressEvent{Event: "model_done", Model: id, Path: path})
		outcomes = append(outcomes, Outcome{ID: id, Path: path})
	}

	ok := len(outcomes.Succeeded())
	in.emit(ProgressEvent{
		Event:   "done",
		Message: fmt.Sprintf("install complete (%d succeeded, %d failed)", ok, len(outcomes)-ok),
	})
	return outcomes
}

// installOne fetches a single model's backing files and returns the
// resolved path recorded in its outcome.
func (in *Installer) installOne(ctx context.Context, desc ModelDescriptor) (string, error) {
	switch desc.Format {
	case FormatCheckpoint:
		dest := filepath.Join(in.paths.WeightsDir, desc.File)
		url := in.client.ResolveURL(desc.SourceReference, desc.File)
		path, err := in.fetchWithRetry(ctx, desc.ID, url, dest)
		if err != nil {
			return "", err
		}
		if comp := desc.Companion; comp != nil && comp.File != "" {
			compDest := filepath.Join(in.paths.WeightsDir, comp.File)
			compURL := in.client.ResolveURL(comp.SourceReference, comp.File)
			if _, err := in.fetchWithRetry(ctx, desc.ID, compURL, compDest); err != nil {
				return "", fmt.Errorf("companion %s: %w", comp.SourceReference, err)
			}
		}
		return path, nil

	case FormatDiffusionPipeline:
		destDir := filepath.Join(in.paths.ModelsDir, filepath.FromSlash(desc.SourceReference))
		path, err := in.client.FetchRepo(ctx, desc.SourceReference, destDir)
		if err != nil {
			return "", err
		}
		if comp := desc.Companion; comp != nil && comp.File == "" {
			compDir := filepath.Join(in.paths.ModelsDir, filepath.FromSlash(comp.SourceReference))
			if _, err := in.client.FetchRepo(ctx, comp.SourceReference, compDir); err != nil {
				return "", fmt.Errorf("companion %s: %w", comp.SourceReference, err)
			}
		}
		return path, nil

	default:
		return "", fmt.Errorf("model %q: unknown format %q", desc.ID, desc.Format)
	}
}

// fetchWithRetry re-invokes Fetch after transient failures, with
// exponential backoff between attempts. Each re-invocation resumes from
// the bytes the previous one left on disk, so a retry only transfers
// the remaining tail. Non-transient failures (content anomalies, 4xx
// statuses) are surfaced immediately.
func (in *Installer) fetchWithRetry(ctx context.Context, model, url, dest string) (string, error) {
	retry := newRetry(in.cfg)
	var lastErr error
	for attempt := 0; attempt <= in.cfg.Retries; attempt++ {
		path, err := in.client.Fetch(ctx, url, dest)
		if err == nil {
			return path, nil
		}
		lastErr = err
		if !isTransient(err) || ctx.Err() != nil {
			return "", err
		}
		if attempt < in.cfg.Retries {
			in.emit(ProgressEvent{Event: "retry", Model: model, Path: filepath.Base(dest), Attempt: attempt + 1, Message: err.Error()})
			if !sleepCtx(ctx, retry.Next()) {
				return "", ctx.Err()
			}
		}
	}
	return "", lastErr
}

// isTransient reports whether re-invoking the fetch could plausibly
// succeed: connection and mid-stream errors, plus retryable statuses.
func isTransient(err error) bool {
	var he *HubError
	if errors.As(err, &he) {
		return he.IsRetryable()
	}
	var ae *ContentAnomalyError
	if errors.As(err, &ae) {
		return false
	}
	var de *DownloadError
	return errors.As(err, &de)
}

// SyncRegistry merges outcomes into the on-disk registry.
func (in *Installer) SyncRegistry(outcomes Outcomes) error {
	return Synchronize(in.paths, outcomes, in.catalog)
}

// Summary formats the batch result for the final report, one line per
// failure.
func Summary(outcomes Outcomes) string {
	failed := outcomes.Failed()
	if len(failed) == 0 {
		return ""
	}
	var b strings.Builder
	for _, oc := range failed {
		fmt.Fprintf(&b, " - %s: %v\n", oc.ID, oc.Err)
	}
	return b.String()
}
