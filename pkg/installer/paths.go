// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package installer

import (
	"fmt"
	"os"
	"path/filepath"
)

// RootEnvVar overrides the default runtime root when set.
const RootEnvVar = "DREAMFORGE_ROOT"

// Paths locates every file and directory the installer touches. It is
// built once and passed explicitly to each component; nothing in the
// library reads shared global state.
type Paths struct {
	// Root is the runtime directory holding everything below.
	Root string

	// OutDir is the default image output directory, recorded in the
	// initialization file.
	OutDir string

	// ModelsDir caches pipeline snapshots and support models.
	ModelsDir string

	// WeightsDir holds single-file checkpoint weights.
	WeightsDir string

	// ConfigsDir holds per-format inference config files.
	ConfigsDir string

	// RegistryFile is the YAML model registry the application reads.
	RegistryFile string

	// InitFile is the line-oriented file of default command-line
	// arguments.
	InitFile string

	// CatalogFile is the initial-models catalog.
	CatalogFile string
}

// DefaultRoot returns the runtime root: the RootEnvVar environment
// variable when set, otherwise "dreamforge" under the home directory.
func DefaultRoot() string {
	if v := os.Getenv(RootEnvVar); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "dreamforge"
	}
	return filepath.Join(home, "dreamforge")
}

// NewPaths builds the standard layout under root. Empty arguments fall
// back to defaults; outdir defaults to "outputs" under root.
func NewPaths(root, outdir string) Paths {
	if root == "" {
		root = DefaultRoot()
	}
	if outdir == "" {
		outdir = filepath.Join(root, "outputs")
	}
	return Paths{
		Root:         root,
		OutDir:       outdir,
		ModelsDir:    filepath.Join(root, "models"),
		WeightsDir:   filepath.Join(root, "models", "ldm", "stable-diffusion-v1"),
		ConfigsDir:   filepath.Join(root, "configs", "stable-diffusion"),
		RegistryFile: filepath.Join(root, "configs", "models.yaml"),
		InitFile:     filepath.Join(root, "dreamforge.init"),
		CatalogFile:  filepath.Join(root, "configs", "initial_models.yaml"),
	}
}

// PathEntry describes one element of the runtime tree for validation
// reporting.
type PathEntry struct {
	Description string
	Kind        string // "directory" or "file"
	Location    string
}

// Entries lists the runtime tree elements in display order.
func (p Paths) Entries() []PathEntry {
	return []PathEntry{
		{"runtime root", "directory", p.Root},
		{"image outputs", "directory", p.OutDir},
		{"model cache", "directory", p.ModelsDir},
		{"checkpoint weights", "directory", p.WeightsDir},
		{"inference configs", "directory", p.ConfigsDir},
		{"model catalog", "file", p.CatalogFile},
		{"initialization file", "file", p.InitFile},
	}
}

// Validate reports the entries missing from disk. An empty result means
// the tree is ready.
func (p Paths) Validate() []PathEntry {
	var missing []PathEntry
	for _, e := range p.Entries() {
		if _, err := os.Stat(e.Location); err != nil {
			missing = append(missing, e)
		}
	}
	return missing
}

// Initialize creates the directory tree and seeds the model catalog
// with defaultCatalog when no catalog exists yet. It does not write the
// initialization file; that is a separate, wholesale rewrite.
func (p Paths) Initialize(defaultCatalog []byte) error {
	for _, e := range p.Entries() {
		if e.Kind != "directory" {
			continue
		}
		if err := os.MkdirAll(e.Location, 0o755); err != nil {
			return fmt.Errorf("create %s %s: %w", e.Description, e.Location, err)
		}
	}
	if _, err := os.Stat(p.CatalogFile); os.IsNotExist(err) {
		if err := os.WriteFile(p.CatalogFile, defaultCatalog, 0o644); err != nil {
			return fmt.Errorf("seed model catalog %s: %w", p.CatalogFile, err)
		}
	}
	return nil
}

// InitFileOptions are the configuration choices recorded in the
// initialization file.
type InitFileOptions struct {
	// NSFWChecker selects whether the safety checker is on by default.
	NSFWChecker bool
}

// WriteInitFile rewrites the initialization file wholesale. The file is
// a line-oriented list of default command-line arguments consumed by
// the main application at startup.
func (p Paths) WriteInitFile(opts InitFileOptions) error {
	checker := "--no-nsfw_checker"
	if opts.NSFWChecker {
		checker = "--nsfw_checker"
	}
	content := fmt.Sprintf(`# DreamForge initialization file
# This file contains command-line default values.
# Feel free to edit. If anything goes wrong, you can re-initialize this file by
# deleting or renaming it and then running the installer again.

# the --outdir option controls the default location of image files.
--outdir="%s"

# generation arguments
%s

# You may place other frequently-used startup commands here, one or more per line.
# Examples:
# --web --host=0.0.0.0
# --steps=20
#
`, p.OutDir, checker)

	if err := os.WriteFile(p.InitFile, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write initialization file %s: %w", p.InitFile, err)
	}
	return nil
}

// LegacyWeightsFile returns the path of a pre-rename "model.ckpt" in
// the weights directory, or "" when none exists. Early releases shipped
// the Stable Diffusion 1.4 weights under that generic name.
func (p Paths) LegacyWeightsFile() string {
	legacy := filepath.Join(p.WeightsDir, "model.ckpt")
	if fi, err := os.Stat(legacy); err == nil && !fi.IsDir() {
		return legacy
	}
	return ""
}
