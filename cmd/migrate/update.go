/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"

	"github.com/HamedShams/pivotal-azure/internal/csvfile"
	"github.com/spf13/cobra"
)

var idMapPath string

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Patch priority, story points and tags of already-migrated items",
	Long: "Addresses existing board items through the exported ID/PTStory CSV and\n" +
		"patches the fields that were refined after the initial migration. Epics,\n" +
		"releases and rows without an estimate are skipped.",
	Run: func(cmd *cobra.Command, args []string) {
		svc, cfg, log := newService()
		path := idMapPath
		if path == "" { path = cfg.IDMapPath }
		if path == "" {
			log.Fatal().Msg("no id map: set AZURE_ID_MAP_CSV or pass --id-map")
		}
		if !confirm("Do you want to sync board: " + cfg.Project + "?") { return }

		reader := csvfile.NewReader(log)
		items, err := reader.SourceItems(cfg.CSVPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.CSVPath).Msg("cannot load tracker export")
		}
		idMap, err := reader.IDMap(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("cannot load id map")
		}

		if err := svc.UpdateExisting(context.Background(), items, idMap); err != nil {
			log.Error().Err(err).Msg("update pass failed")
		}
	},
}

func init() {
	updateCmd.Flags().StringVar(&idMapPath, "id-map", "", "CSV with ID and PTStory columns of existing board items")
}
