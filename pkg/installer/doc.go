// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package installer implements the DreamForge model installation library.
//
// It covers the non-interactive half of the installer: locating and
// creating the runtime directory tree, resolving Hugging Face Hub
// credentials, downloading model weight files with resumable HTTP
// transfer, and rewriting the YAML model registry that the main
// application reads at startup.
//
// The two central pieces are the resumable fetcher and the registry
// synchronizer.
//
// The fetcher downloads a remote resource to a local path, resuming
// from whatever bytes are already on disk:
//
//	client := installer.NewClient(installer.DefaultSettings(), nil)
//	path, err := client.Fetch(ctx, url, "/opt/dreamforge/models/ldm/sd-v1-5.ckpt")
//
// A partially written file is never deleted on failure; re-invoking
// Fetch picks up where the previous attempt stopped. A file that is
// already complete causes no body transfer at all.
//
// The synchronizer merges the outcome of a download batch into the
// on-disk registry document, preserving stanzas for models that were
// not touched this run, and replaces the file atomically (temp file
// plus rename, previous version kept as a ".orig" sibling):
//
//	err := installer.Synchronize(paths, outcomes, catalog)
//
// All interactive prompting lives in the CLI layer; every component
// here takes an explicit Paths and Settings value rather than reading
// shared global state, so the fetcher and synchronizer are testable in
// isolation.
package installer
