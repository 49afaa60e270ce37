// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package installer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog holds the installable model descriptors, in the order they
// appear in the catalog file. Order is user-visible: selection menus
// and the recommended set follow it.
type Catalog struct {
	Models []ModelDescriptor
	byID   map[string]*ModelDescriptor
}

// LoadCatalog reads and parses the catalog YAML at path.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	cat, err := ParseCatalog(b)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// ParseCatalog parses catalog YAML: a mapping from model ID to
// descriptor. Mapping order is preserved.
func ParseCatalog(data []byte) (*Catalog, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	cat := &Catalog{byID: map[string]*ModelDescriptor{}}
	if root.Kind == 0 || len(root.Content) == 0 {
		return cat, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("catalog root must be a mapping, got %v", doc.Kind)
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		var desc ModelDescriptor
		if err := doc.Content[i+1].Decode(&desc); err != nil {
			return nil, fmt.Errorf("model %q: %w", doc.Content[i].Value, err)
		}
		desc.ID = doc.Content[i].Value
		if err := validateDescriptor(desc); err != nil {
			return nil, err
		}
		cat.Models = append(cat.Models, desc)
		cat.byID[desc.ID] = &cat.Models[len(cat.Models)-1]
	}
	return cat, nil
}

func validateDescriptor(d ModelDescriptor) error {
	if !IsValidSourceReference(d.SourceReference) {
		return fmt.Errorf("model %q: invalid source_reference %q (expected owner/name)", d.ID, d.SourceReference)
	}
	switch d.Format {
	case FormatCheckpoint:
		if d.File == "" {
			return fmt.Errorf("model %q: checkpoint format requires a file", d.ID)
		}
	case FormatDiffusionPipeline:
	default:
		return fmt.Errorf("model %q: unknown format %q", d.ID, d.Format)
	}
	if d.Companion != nil && !IsValidSourceReference(d.Companion.SourceReference) {
		return fmt.Errorf("model %q: invalid companion source_reference %q", d.ID, d.Companion.SourceReference)
	}
	return nil
}

// Get returns the descriptor for id.
func (c *Catalog) Get(id string) (ModelDescriptor, bool) {
	d, ok := c.byID[id]
	if !ok {
		return ModelDescriptor{}, false
	}
	return *d, true
}

// IDs returns every model ID in catalog order.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.Models))
	for _, m := range c.Models {
		out = append(out, m.ID)
	}
	return out
}

// Recommended returns the IDs of models marked recommended, in catalog
// order.
func (c *Catalog) Recommended() []string {
	var out []string
	for _, m := range c.Models {
		if m.Recommended {
			out = append(out, m.ID)
		}
	}
	return out
}
