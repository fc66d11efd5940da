/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"

	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Replay the failure ledger",
	Long: "Re-runs every unresolved operation recorded in the ledger: creations from\n" +
		"their stored snapshots, comments against their stored target, attachments\n" +
		"from their stored paths. Entries that keep failing stay in the ledger.",
	Run: func(cmd *cobra.Command, args []string) {
		svc, _, log := newService()
		if err := svc.RetryFailed(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("retry pass failed")
		}
	},
}
