/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"

	"github.com/HamedShams/pivotal-azure/internal/csvfile"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "run",
	Short: "Create board work items from the tracker CSV export",
	Long: "Reads the tracker export, creates epics first, then user stories, bugs,\n" +
		"releases and chores under their resolved parents, and finishes with one\n" +
		"retry pass over the failure ledger.",
	Run: func(cmd *cobra.Command, args []string) {
		svc, cfg, log := newService()
		if !confirm("Do you want to sync board: " + cfg.Project + "?") { return }

		items, err := csvfile.NewReader(log).SourceItems(cfg.CSVPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.CSVPath).Msg("cannot load tracker export")
		}

		ctx := context.Background()
		if err := svc.RunMigration(ctx, items); err != nil {
			log.Error().Err(err).Msg("migration pass ended with errors")
		}
		if err := svc.RetryFailed(ctx); err != nil {
			log.Error().Err(err).Msg("retry pass failed")
		}
	},
}
