// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package assets provides the embedded default model catalog seeded
// into fresh runtime directories.
package assets

import _ "embed"

//go:embed initial_models.yaml
var defaultCatalog []byte

// DefaultCatalog returns the catalog YAML shipped with the installer.
func DefaultCatalog() []byte {
	return defaultCatalog
}
