/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/HamedShams/pivotal-azure/internal/domain"
	"github.com/rs/zerolog"
)

// Ledger persists unresolved operations as an ordered JSON sequence. Entries
// recorded during a run are batched in memory and merged into the file at the
// end of a phase; the file is only ever appended to across runs, except by
// Rewrite at the end of a retry pass.
type Ledger struct {
	path    string
	log     zerolog.Logger
	pending []domain.FailedItem
}

func NewLedger(path string, log zerolog.Logger) *Ledger {
	return &Ledger{path: path, log: log}
}

// Record adds an unresolved operation to the run batch.
func (l *Ledger) Record(item domain.FailedItem) {
	l.pending = append(l.pending, item)
	l.log.Warn().Str("source_id", item.ID).Str("failed_type", item.FailedType).Str("reason", item.Reason).Msg("ledger: operation recorded for retry")
}

func (l *Ledger) Pending() int { return len(l.pending) }

// Load reads the full persisted sequence. A missing file is an empty ledger.
func (l *Ledger) Load() ([]domain.FailedItem, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) { return nil, nil }
		return nil, fmt.Errorf("ledger read: %w", err)
	}
	if len(data) == 0 { return nil, nil }
	var items []domain.FailedItem
	if err := json.Unmarshal(data, &items); err != nil { return nil, fmt.Errorf("ledger parse: %w", err) }
	return items, nil
}

// Flush merges the run batch into the persisted sequence. Existing entries
// are never dropped here.
func (l *Ledger) Flush() error {
	if len(l.pending) == 0 { return nil }
	existing, err := l.Load()
	if err != nil { return err }
	if err := l.write(append(existing, l.pending...)); err != nil { return err }
	l.log.Info().Int("appended", len(l.pending)).Str("path", l.path).Msg("ledger: flushed")
	l.pending = nil
	return nil
}

// Rewrite replaces the persisted sequence with the entries that are still
// unresolved after a retry pass, plus anything recorded during that pass.
func (l *Ledger) Rewrite(entries []domain.FailedItem) error {
	if err := l.write(append(entries, l.pending...)); err != nil { return err }
	l.pending = nil
	return nil
}

func (l *Ledger) write(items []domain.FailedItem) error {
	if items == nil { items = []domain.FailedItem{} }
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil { return fmt.Errorf("ledger marshal: %w", err) }
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil { return fmt.Errorf("ledger mkdir: %w", err) }
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil { return fmt.Errorf("ledger write: %w", err) }
	return nil
}
