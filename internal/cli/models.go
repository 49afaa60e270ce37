// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreamforge-ai/modelinstaller/internal/assets"
	"github.com/dreamforge-ai/modelinstaller/pkg/installer"
)

func newModelsCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models available for installation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog(installer.NewPaths(ro.Root, ""))
			if err != nil {
				return err
			}
			for _, m := range catalog.Models {
				rec := ""
				if m.Recommended {
					rec = accent(" (recommended)")
				}
				fmt.Printf("%s%s\n    %s\n", headline(m.ID), rec, m.Description)
				fmt.Printf("    format: %s  source: %s\n", m.Format, m.SourceReference)
			}
			return nil
		},
	}
}

// loadCatalog prefers the catalog seeded into the runtime directory so
// user edits are honored, and falls back to the built-in copy when the
// directory has not been initialized yet.
func loadCatalog(paths installer.Paths) (*installer.Catalog, error) {
	if _, err := os.Stat(paths.CatalogFile); err == nil {
		return installer.LoadCatalog(paths.CatalogFile)
	}
	return installer.ParseCatalog(assets.DefaultCatalog())
}
