/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"strings"

	"github.com/HamedShams/pivotal-azure/internal/domain"
	"github.com/HamedShams/pivotal-azure/internal/mapper"
)

// resolveParent finds the remote id of the record's parent, or "" when the
// record has no parent. Comparisons are always over normalized text.
//
// The first comma-separated label token is looked up in the epic index; if
// that misses, the whole normalized label is matched against normalized epic
// titles and routed through the epic source-id map. A chore with no epic
// match falls back to the chore parent feature; a real epic match wins.
func resolveParent(item domain.SourceItem, items []domain.SourceItem, r *run) string {
	epicID := ""
	if label := mapper.FirstLabel(item.Labels); label != "" {
		epicID = r.epicByLabel[label]
	}
	if epicID == "" {
		if norm := mapper.Normalize(item.Labels); norm != "" {
			for _, e := range items {
				if !strings.EqualFold(strings.TrimSpace(e.Type), "epic") { continue }
				if mapper.Normalize(e.Title) != norm { continue }
				if id := r.epicSource[e.ID]; id != "" {
					epicID = id
					break
				}
			}
		}
	}
	if epicID != "" { return epicID }
	if strings.EqualFold(strings.TrimSpace(item.Type), "chore") { return r.choreParent }
	return ""
}
