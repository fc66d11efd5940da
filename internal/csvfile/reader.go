/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package csvfile

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HamedShams/pivotal-azure/internal/domain"
	"github.com/rs/zerolog"
)

// Reader loads the tracker CSV export and the exported remote-id map.
type Reader struct {
	log zerolog.Logger
}

func NewReader(log zerolog.Logger) *Reader {
	return &Reader{log: log}
}

// SourceItems reads the export into normalized records. A row with an empty
// or duplicate id violates the export's contract and fails the whole load;
// rows with the wrong column count are skipped with a warning.
func (r *Reader) SourceItems(path string) ([]domain.SourceItem, error) {
	f, err := os.Open(path)
	if err != nil { return nil, fmt.Errorf("csv open: %w", err) }
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil { return nil, fmt.Errorf("csv read: %w", err) }
	if len(rows) < 2 { return nil, fmt.Errorf("csv %s: no data rows", path) }

	header := rows[0]
	col := map[string]int{}
	var commentCols []int
	for i, h := range header {
		key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(h), " ", ""))
		if strings.HasPrefix(key, "comment") {
			commentCols = append(commentCols, i)
			continue
		}
		if _, ok := col[key]; !ok { col[key] = i }
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) { return "" }
		return row[i]
	}

	seen := map[string]bool{}
	out := make([]domain.SourceItem, 0, len(rows)-1)
	for n, row := range rows[1:] {
		if len(row) != len(header) {
			r.log.Warn().Int("row", n+2).Int("fields", len(row)).Int("header", len(header)).Msg("csv: column count mismatch, row skipped")
			continue
		}
		id := strings.TrimSpace(field(row, "id"))
		if id == "" { return nil, fmt.Errorf("csv row %d: empty id", n+2) }
		if seen[id] { return nil, fmt.Errorf("csv row %d: duplicate id %s", n+2, id) }
		seen[id] = true

		item := domain.SourceItem{
			ID:           id,
			Title:        field(row, "title"),
			Labels:       field(row, "labels"),
			Type:         field(row, "type"),
			Description:  field(row, "description"),
			Estimate:     parseFloat(field(row, "estimate")),
			Priority:     field(row, "priority"),
			CurrentState: field(row, "currentstate"),
			RequestedBy:  field(row, "requestedby"),
			CreatedAt:    parseTimeUTC(field(row, "createdat")),
			AcceptedAt:   parseTimeUTC(field(row, "acceptedat")),
			Deadline:     parseTimeUTC(field(row, "deadline")),
			OwnedBy1:     field(row, "ownedby1"),
			OwnedBy2:     field(row, "ownedby2"),
		}
		for _, i := range commentCols {
			if i < len(row) && strings.TrimSpace(row[i]) != "" {
				item.Comments = append(item.Comments, row[i])
			}
		}
		out = append(out, item)
	}
	r.log.Info().Str("path", path).Int("rows", len(out)).Msg("csv: export loaded")
	return out, nil
}

// IDMap reads the exported "ID,PTStory" CSV into a source-id to remote-id map.
// Used by the update pass to address already-migrated items.
func (r *Reader) IDMap(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil { return nil, fmt.Errorf("id map open: %w", err) }
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil { return nil, fmt.Errorf("id map read: %w", err) }
	if len(rows) < 1 { return nil, fmt.Errorf("id map %s: empty", path) }

	idIdx, ptIdx := -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "id": idIdx = i
		case "ptstory": ptIdx = i
		}
	}
	if idIdx < 0 || ptIdx < 0 { return nil, fmt.Errorf("id map %s: ID/PTStory columns not found", path) }

	out := map[string]string{}
	for _, row := range rows[1:] {
		if idIdx >= len(row) || ptIdx >= len(row) { continue }
		remote := strings.TrimSpace(row[idIdx])
		source := strings.TrimSpace(row[ptIdx])
		if remote != "" && source != "" { out[source] = remote }
	}
	return out, nil
}

func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" { return nil }
	v, err := strconv.ParseFloat(s, 64)
	if err != nil { return nil }
	return &v
}

func parseTimeUTC(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" { return nil }
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "Jan 2, 2006", "2006-01-02"}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			tt := t.UTC()
			return &tt
		}
	}
	return nil
}
