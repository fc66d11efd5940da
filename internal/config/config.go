/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package config

import (
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv string
	TZ     string

	Organization string
	Project      string
	PAT          string

	// BaseURL / GraphBaseURL are overridable for tests and on-prem servers.
	BaseURL      string
	GraphBaseURL string
	APIVersion   string

	CSVPath       string
	AttachmentDir string
	IDMapPath     string

	LedgerPath string
	LogPath    string

	HTTPTimeout time.Duration
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" { return def }
	return v
}

func dur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" { return def }
	d, err := time.ParseDuration(v)
	if err != nil { return def }
	return d
}

func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppEnv: getenv("APP_ENV", "dev"),
		TZ:     getenv("APP_TZ", "UTC"),

		Organization: getenv("AZURE_ORGANIZATION", ""),
		Project:      getenv("AZURE_PROJECT", ""),
		PAT:          getenv("AZURE_PAT", ""),

		BaseURL:      getenv("AZURE_BASE_URL", "https://dev.azure.com"),
		GraphBaseURL: getenv("AZURE_GRAPH_BASE_URL", "https://vssps.dev.azure.com"),
		APIVersion:   getenv("AZURE_API_VERSION", "7.1"),

		CSVPath:       getenv("TRACKER_CSV", "pivotal.csv"),
		AttachmentDir: getenv("ATTACHMENT_DIR", "attachments"),
		IDMapPath:     getenv("AZURE_ID_MAP_CSV", ""),

		LedgerPath: getenv("LEDGER_PATH", "log/failed_work_items.json"),
		LogPath:    getenv("LOG_PATH", "log/migrate.log"),

		HTTPTimeout: dur("HTTP_TIMEOUT", 30*time.Second),
	}

	if loc, err := time.LoadLocation(cfg.TZ); err == nil {
		time.Local = loc
	} else {
		log.Printf("warning: cannot load TZ %s: %v", cfg.TZ, err)
	}
	return cfg
}

// Validate reports the settings every remote-facing command needs up front.
// Missing configuration is the one fatal condition of the tool.
func (c Config) Validate() error {
	var missing []string
	if c.Organization == "" { missing = append(missing, "AZURE_ORGANIZATION") }
	if c.Project == "" { missing = append(missing, "AZURE_PROJECT") }
	if c.PAT == "" { missing = append(missing, "AZURE_PAT") }
	if len(missing) > 0 {
		return errors.New("missing required settings: " + strings.Join(missing, ", "))
	}
	return nil
}
