// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package installer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// progressReader wraps an io.Reader and emits progress events during
// reads. The counter is seeded at the resume offset so the numbers
// reflect the whole file, not just this invocation's tail.
type progressReader struct {
	reader     io.Reader
	total      int64
	downloaded int64
	path       string
	emit       func(ProgressEvent)
	lastEmit   time.Time
	interval   time.Duration
}

func newProgressReader(r io.Reader, total, offset int64, path string, emit func(ProgressEvent)) *progressReader {
	return &progressReader{
		reader:     r,
		total:      total,
		downloaded: offset,
		path:       path,
		emit:       emit,
		lastEmit:   time.Now(),
		interval:   200 * time.Millisecond, // emit at most 5 times per second
	}
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.downloaded += int64(n)
		if time.Since(pr.lastEmit) >= pr.interval || err == io.EOF {
			pr.emit(ProgressEvent{
				Event:      "file_progress",
				Path:       pr.path,
				Downloaded: pr.downloaded,
				Total:      pr.total,
			})
			pr.lastEmit = time.Now()
		}
	}
	return n, err
}

// Fetch downloads rawURL to dest, resuming from whatever bytes dest
// already holds, and returns the destination path.
//
// If dest exists its size becomes the resume offset and the request
// carries a Range header for the remaining tail. A 416 response means
// the file is already complete and no body is transferred. Any other
// non-2xx status is a failure; the partial file is left in place so a
// later call can resume it. Existing bytes are never truncated.
//
// A 2xx response advertising fewer than Settings.MinContentLength bytes
// is rejected as a content anomaly (gated repos return small HTML error
// pages with a 200 status). A missing length header is tolerated;
// progress then degrades to an unbounded counter.
//
// Fetch makes exactly one attempt. Retrying is the caller's decision;
// resume makes it cheap.
func (c *Client) Fetch(ctx context.Context, rawURL, dest string) (string, error) {
	return c.fetch(ctx, rawURL, dest, c.cfg.MinContentLength)
}

func (c *Client) fetch(ctx context.Context, rawURL, dest string, minLength int64) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", &DownloadError{Path: dest, Err: err}
	}

	var offset int64
	flags := os.O_CREATE | os.O_WRONLY
	if fi, err := os.Stat(dest); err == nil {
		offset = fi.Size()
		flags |= os.O_APPEND
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	c.addAuth(req)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", &DownloadError{Path: dest, Err: err}
	}
	defer resp.Body.Close()

	name := filepath.Base(dest)

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		// Nothing left to transfer.
		c.emit(ProgressEvent{Event: "file_done", Path: name, Downloaded: offset, Total: offset, Message: "complete file found, skipping"})
		return dest, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HubError{StatusCode: resp.StatusCode, Status: resp.Status, URL: rawURL}
	}

	total := resp.ContentLength // -1 when the server sent no length
	if minLength > 0 && total >= 0 && total < minLength {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &ContentAnomalyError{URL: rawURL, Length: total, Body: string(body)}
	}

	var target int64
	if total >= 0 {
		target = offset + total
	}

	out, err := os.OpenFile(dest, flags, 0o644)
	if err != nil {
		return "", &DownloadError{Path: dest, Err: err}
	}

	msg := "downloading"
	if offset > 0 {
		msg = "partial file found, resuming"
	}
	c.emit(ProgressEvent{Event: "file_start", Path: name, Downloaded: offset, Total: target, Message: msg})

	pr := newProgressReader(resp.Body, target, offset, name, c.emit)
	buf := make([]byte, c.cfg.ChunkSize)
	if _, cerr := io.CopyBuffer(out, pr, buf); cerr != nil {
		out.Close()
		// Keep the partial file; the next invocation resumes from here.
		return "", &DownloadError{Path: dest, Err: cerr}
	}
	if err := out.Close(); err != nil {
		return "", &DownloadError{Path: dest, Err: err}
	}

	c.emit(ProgressEvent{Event: "file_done", Path: name, Downloaded: pr.downloaded, Total: target})
	return dest, nil
}

// FetchRepo snapshots an entire Hub repository into destDir, walking
// the tree API and transferring files one at a time in path order.
// Files whose size already matches the remote are skipped without a
// request. Returns destDir.
func (c *Client) FetchRepo(ctx context.Context, sourceRef, destDir string) (string, error) {
	if !IsValidSourceReference(sourceRef) {
		return "", fmt.Errorf("invalid source reference %q (expected owner/name)", sourceRef)
	}

	c.emit(ProgressEvent{Event: "scan_start", Message: "scanning " + sourceRef})

	var files []hubNode
	err := c.walkTree(ctx, sourceRef, "", func(n hubNode) error {
		if n.Type == "file" || n.Type == "blob" {
			files = append(files, n)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", sourceRef, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	for _, n := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		dest := filepath.Join(destDir, filepath.FromSlash(n.Path))
		if fi, err := os.Stat(dest); err == nil && n.size() > 0 && fi.Size() == n.size() {
			c.emit(ProgressEvent{Event: "file_done", Path: n.Path, Downloaded: fi.Size(), Total: fi.Size(), Message: "skip (size match)"})
			continue
		}
		// Repo snapshots carry many legitimately tiny files (configs,
		// tokenizer merges), so the anomaly threshold does not apply.
		if _, err := c.fetch(ctx, c.ResolveURL(sourceRef, n.Path), dest, 0); err != nil {
			return "", err
		}
	}
	return destDir, nil
}
