package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AZURE_ORGANIZATION", "acme")
	t.Setenv("AZURE_PROJECT", "widgets")
	t.Setenv("AZURE_PAT", "secret")
	t.Setenv("HTTP_TIMEOUT", "")

	cfg := Load()
	if cfg.BaseURL != "https://dev.azure.com" { t.Fatalf("base url = %q", cfg.BaseURL) }
	if cfg.GraphBaseURL != "https://vssps.dev.azure.com" { t.Fatalf("graph url = %q", cfg.GraphBaseURL) }
	if cfg.APIVersion != "7.1" { t.Fatalf("api version = %q", cfg.APIVersion) }
	if cfg.LedgerPath != "log/failed_work_items.json" { t.Fatalf("ledger path = %q", cfg.LedgerPath) }
	if cfg.HTTPTimeout != 30*time.Second { t.Fatalf("timeout = %v", cfg.HTTPTimeout) }
	if err := cfg.Validate(); err != nil { t.Fatalf("valid config rejected: %v", err) }
}

func TestValidateListsAllMissingSettings(t *testing.T) {
	err := Config{Organization: "acme"}.Validate()
	if err == nil { t.Fatal("expected an error") }
	msg := err.Error()
	for _, want := range []string{"AZURE_PROJECT", "AZURE_PAT"} {
		if !strings.Contains(msg, want) { t.Fatalf("error %q misses %s", msg, want) }
	}
	if strings.Contains(msg, "AZURE_ORGANIZATION") {
		t.Fatalf("error %q names a setting that is present", msg)
	}
}

func TestDurFallsBackOnGarbage(t *testing.T) {
	t.Setenv("HTTP_TIMEOUT", "not-a-duration")
	if got := dur("HTTP_TIMEOUT", 7*time.Second); got != 7*time.Second {
		t.Fatalf("dur = %v, want fallback", got)
	}
}
