// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultEndpoint is the public Hugging Face Hub URL. Can be overridden
// via Settings.Endpoint for mirrors or enterprise deployments.
const DefaultEndpoint = "https://huggingface.co"

const userAgent = "dreamforge-modelinstaller/1"

// Client performs Hub requests and resumable file transfers. It is
// safe to reuse across an entire install run; the zero value is not
// usable, construct with NewClient.
type Client struct {
	httpc *http.Client
	cfg   Settings
	emit  ProgressFunc
}

// NewClient builds a Client from settings. The progress callback may be
// nil. Connect and response-header timeouts are explicit; the body
// transfer itself is bounded only by the caller's context so that
// multi-gigabyte files are not cut off mid-stream.
func NewClient(cfg Settings, progress ProgressFunc) *Client {
	def := DefaultSettings()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/")
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = def.MinContentLength
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: parseTimeout(cfg.ConnectTimeout, 10*time.Second),
		}).DialContext,
		ResponseHeaderTimeout: parseTimeout(cfg.ReadTimeout, 30*time.Second),
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Client{
		httpc: &http.Client{Transport: tr},
		cfg:   cfg,
		emit: func(ev ProgressEvent) {
			if progress != nil {
				if ev.Time.IsZero() {
					ev.Time = time.Now()
				}
				progress(ev)
			}
		},
	}
}

// addAuth adds authentication and user-agent headers to a request.
func (c *Client) addAuth(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	req.Header.Set("User-Agent", userAgent)
}

// IsValidSourceReference checks "owner/name".
func IsValidSourceReference(ref string) bool {
	if ref == "" || !strings.Contains(ref, "/") {
		return false
	}
	parts := strings.Split(ref, "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}

// hubNode represents a file or directory in the Hub repo tree.
type hubNode struct {
	Type string      `json:"type"` // "file"|"directory" (sometimes "blob"|"tree")
	Path string      `json:"path"`
	Size int64       `json:"size,omitempty"`
	LFS  *hubLFSInfo `json:"lfs,omitempty"`
}

// hubLFSInfo contains LFS metadata for large files.
type hubLFSInfo struct {
	Oid  string `json:"oid,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// size returns the real file size; for LFS files the node size is the
// pointer file, not the object.
func (n hubNode) size() int64 {
	if n.LFS != nil && n.LFS.Size > 0 {
		return n.LFS.Size
	}
	return n.Size
}

// ResolveURL builds the direct-download URL for one file in a repo.
// This is the same scheme the Hub's hf_hub_url helper produces.
func (c *Client) ResolveURL(sourceRef, file string) string {
	return fmt.Sprintf("%s/%s/resolve/main/%s", c.cfg.Endpoint, sourceRef, pathEscapeAll(file))
}

func (c *Client) treeURL(sourceRef, prefix string) string {
	if prefix == "" {
		return fmt.Sprintf("%s/api/models/%s/tree/main", c.cfg.Endpoint, sourceRef)
	}
	return fmt.Sprintf("%s/api/models/%s/tree/main/%s", c.cfg.Endpoint, sourceRef, pathEscapeAll(prefix))
}

func (c *Client) agreementURL(sourceRef string) string {
	return fmt.Sprintf("%s/%s", c.cfg.Endpoint, sourceRef)
}

// walkTree recursively walks a Hub repo tree, calling fn for each file.
func (c *Client) walkTree(ctx context.Context, sourceRef, prefix string, fn func(hubNode) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.treeURL(sourceRef, prefix), nil)
	if err != nil {
		return err
	}
	c.addAuth(req)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: repo requires a token or you do not have access (visit %s)", ErrUnauthorized, c.agreementURL(sourceRef))
	case http.StatusForbidden:
		return fmt.Errorf("%w: please accept the repository terms: %s", ErrUnauthorized, c.agreementURL(sourceRef))
	default:
		return &HubError{StatusCode: resp.StatusCode, Status: resp.Status, URL: req.URL.String()}
	}

	var nodes []hubNode
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return fmt.Errorf("tree API decode: %w", err)
	}

	for _, n := range nodes {
		switch n.Type {
		case "directory", "tree":
			if err := c.walkTree(ctx, sourceRef, n.Path, fn); err != nil {
				return err
			}
		default:
			if err := fn(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// WhoAmI validates the configured token against the Hub and returns the
// account name it belongs to.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/api/whoami-v2", nil)
	if err != nil {
		return "", err
	}
	c.addAuth(req)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &HubError{StatusCode: resp.StatusCode, Status: resp.Status, URL: req.URL.String()}
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("whoami decode: %w", err)
	}
	return body.Name, nil
}

func pathEscapeAll(p string) string {
	segs := strings.Split(p, "/")
	for i := range segs {
		segs[i] = url.PathEscape(segs[i])
	}
	return strings.Join(segs, "/")
}
