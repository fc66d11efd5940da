/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/HamedShams/pivotal-azure/internal/adapters/azure"
	"github.com/HamedShams/pivotal-azure/internal/config"
	"github.com/HamedShams/pivotal-azure/internal/logger"
	"github.com/HamedShams/pivotal-azure/internal/services"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var skipConfirm bool

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate Pivotal Tracker work items to an Azure DevOps board",
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&skipConfirm, "yes", "y", false, "skip confirmation prompts")
	rootCmd.AddCommand(migrateCmd, updateCmd, retryCmd, clearCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newService loads configuration and wires the gateway, ledger and engine.
// Missing settings are the one fatal startup condition.
func newService() (*services.Service, config.Config, zerolog.Logger) {
	cfg := config.Load()
	log := logger.New(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}
	client := azure.NewClient(cfg, log)
	ledger := services.NewLedger(cfg.LedgerPath, log)
	return services.New(cfg, log, client, ledger), cfg, log
}

func confirm(prompt string) bool {
	if skipConfirm { return true }
	fmt.Printf("%s Press enter to continue.\n", prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	if strings.TrimSpace(line) != "" {
		fmt.Println("Aborting.")
		return false
	}
	return true
}
