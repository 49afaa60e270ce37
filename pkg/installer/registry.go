// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package installer

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// registryPreamble is written verbatim ahead of the mapping.
const registryPreamble = `# This file describes the alternative machine learning models
# available to the DreamForge script.
#
# To add a new model, follow the examples below. Each
# model requires a model config file, a weights file,
# and the width and height of the images it
# was trained on.
`

// registryTempName is the staging file for the atomic rewrite.
const registryTempName = "new_config.tmp"

// Stanza is one model's metadata block within the registry document.
//
// Companion is either a string (path to a companion weights file,
// relative to the installation root) or a nested mapping with a
// source_reference. Fields not known to this version of the installer
// survive a rewrite via the inline map.
type Stanza struct {
	Description     string         `yaml:"description"`
	SourceReference string         `yaml:"source_reference"`
	Format          string         `yaml:"format"`
	Width           int            `yaml:"width,omitempty"`
	Height          int            `yaml:"height,omitempty"`
	Weights         string         `yaml:"weights,omitempty"`
	Config          string         `yaml:"config,omitempty"`
	Companion       any            `yaml:"companion,omitempty"`
	Default         bool           `yaml:"default,omitempty"`
	Extra           map[string]any `yaml:",inline"`
}

// Document is the model registry: an ordered mapping from model ID to
// stanza. Stanza order is preserved across load, merge and serialize so
// rewrites do not shuffle a hand-edited file.
type Document struct {
	names   []string
	stanzas map[string]*Stanza
}

// NewDocument returns an empty registry document.
func NewDocument() *Document {
	return &Document{stanzas: map[string]*Stanza{}}
}

// LoadDocument reads the registry at path. A missing file yields an
// empty document; any other read or parse failure is an error.
func LoadDocument(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(b, &root); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	doc := NewDocument()
	if root.Kind == 0 || len(root.Content) == 0 {
		return doc, nil
	}
	m := root.Content[0]
	if m.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("registry %s: top level must be a mapping", path)
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		var st Stanza
		if err := m.Content[i+1].Decode(&st); err != nil {
			return nil, fmt.Errorf("registry %s: stanza %q: %w", path, m.Content[i].Value, err)
		}
		doc.Set(m.Content[i].Value, &st)
	}
	return doc, nil
}

// Get returns the stanza for id, if present.
func (d *Document) Get(id string) (*Stanza, bool) {
	st, ok := d.stanzas[id]
	return st, ok
}

// Set inserts or replaces the stanza for id, appending new IDs at the
// end of the document.
func (d *Document) Set(id string, st *Stanza) {
	if _, ok := d.stanzas[id]; !ok {
		d.names = append(d.names, id)
	}
	d.stanzas[id] = st
}

// Len returns the number of stanzas.
func (d *Document) Len() int { return len(d.names) }

// IDs returns the stanza IDs in document order.
func (d *Document) IDs() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Marshal serializes the document, preamble included.
func (d *Document) Marshal() ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range d.names {
		key := yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}
		var val yaml.Node
		if err := val.Encode(d.stanzas[name]); err != nil {
			return nil, fmt.Errorf("stanza %q: %w", name, err)
		}
		root.Content = append(root.Content, &key, &val)
	}
	body, err := yaml.Marshal(root)
	if err != nil {
		return nil, err
	}
	return append([]byte(registryPreamble), body...), nil
}

// Synchronize merges the successful outcomes of a download batch into
// the registry at p.RegistryFile and atomically replaces it, keeping
// the previous version as a ".orig" sibling.
//
// Stanzas for models not touched this run are preserved as-is. Each
// rewritten stanza is rebuilt from its catalog descriptor; weights and
// config paths are expressed relative to the installation root. The
// default marker on a rewritten stanza is cleared, then the first model
// in outcome order receives it. First processed wins; the default is
// not user-selectable.
func Synchronize(p Paths, outcomes Outcomes, catalog *Catalog) error {
	doc, err := LoadDocument(p.RegistryFile)
	if err != nil {
		return err
	}
	if err := merge(doc, outcomes, catalog, p); err != nil {
		return err
	}
	return WriteDocument(p.RegistryFile, doc)
}

func merge(doc *Document, outcomes Outcomes, catalog *Catalog, p Paths) error {
	defaultAssigned := false
	for _, oc := range outcomes.Succeeded() {
		desc, ok := catalog.Get(oc.ID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownModel, oc.ID)
		}

		st, found := doc.Get(oc.ID)
		if !found {
			st = &Stanza{}
		}
		st.Description = desc.Description
		st.SourceReference = desc.SourceReference
		st.Format = desc.Format
		if desc.Width > 0 {
			st.Width = desc.Width
		}
		if desc.Height > 0 {
			st.Height = desc.Height
		}
		if desc.File != "" {
			st.Weights = relToRoot(p, oc.Path)
			st.Config = relToRoot(p, filepath.Join(p.ConfigsDir, desc.Config))
		}
		if desc.Companion != nil {
			if desc.Companion.File != "" {
				st.Companion = relToRoot(p, filepath.Join(p.WeightsDir, desc.Companion.File))
			} else {
				st.Companion = desc.Companion
			}
		}

		st.Default = false
		if !defaultAssigned {
			st.Default = true
			defaultAssigned = true
		}
		doc.Set(oc.ID, st)
	}
	return nil
}

// relToRoot expresses path relative to the installation root, falling
// back to the path unchanged when it lies outside the root.
func relToRoot(p Paths, path string) string {
	rel, err := filepath.Rel(p.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// WriteDocument atomically replaces the registry at path with doc.
//
// The new content is written fully to a temporary sibling first, the
// previous file (if any) is renamed to a ".orig" backup, and only then
// is the staging file moved into place. Readers never observe a
// half-written document; on failure the previous registry, or its
// backup, remains the last known-good state.
func WriteDocument(path string, doc *Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("serialize registry %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir %s: %w", dir, err)
	}
	tmp := filepath.Join(dir, registryTempName)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry staging file %s: %w", tmp, err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".orig"); err != nil {
			return fmt.Errorf("back up registry %s: %w", path, err)
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace registry %s: %w", path, err)
	}
	return nil
}
