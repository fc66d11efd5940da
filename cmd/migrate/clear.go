/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every work item on the board",
	Long:  "Queries each known work item type and deletes all returned items. Meant for resetting a test board between migration dry runs.",
	Run: func(cmd *cobra.Command, args []string) {
		svc, cfg, log := newService()
		if !confirm("This deletes every work item in project " + cfg.Project + ".") { return }
		if err := svc.ClearBoard(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("clear failed")
		}
	},
}
