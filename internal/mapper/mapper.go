/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package mapper

import (
	"strings"
	"unicode"
)

// WorkItemType translates a tracker record type into the board work item type.
// Unknown types return "" and the record is unroutable.
func WorkItemType(sourceType string) string {
	switch strings.ToLower(strings.TrimSpace(sourceType)) {
	case "epic":
		return "Feature"
	case "feature":
		return "User Story"
	case "bug":
		return "Bug"
	case "chore":
		return "User Story"
	case "release":
		return "Release"
	}
	return ""
}

// Priority maps raw tracker priority text ("p2 - High") to the board's 1..4
// scale. The word after the last dash decides; anything unrecognized is 4.
// Convention: High=1, Medium=2, Low=3, none=4.
func Priority(raw string) int {
	idx := strings.LastIndex(raw, "-")
	if idx < 0 { return 4 }
	switch strings.ToLower(strings.TrimSpace(raw[idx+1:])) {
	case "high":
		return 1
	case "medium":
		return 2
	case "low":
		return 3
	}
	return 4
}

// State maps a tracker story state onto the board state vocabulary.
func State(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "started":
		return "Active"
	case "unstarted", "unscheduled":
		return "New"
	case "delivered":
		return "Resolved"
	case "accepted":
		return "Closed"
	}
	return "New"
}

// Normalize strips punctuation, trims and lowercases text for title/label
// comparison. Empty or whitespace-only input yields "". All epic matching
// goes through this; raw text is never compared directly.
func Normalize(text string) string {
	var b strings.Builder
	for _, r := range text {
		if unicode.IsPunct(r) { continue }
		b.WriteRune(r)
	}
	return strings.ToLower(strings.TrimSpace(b.String()))
}

// FirstLabel returns the normalized first comma-separated label token.
func FirstLabel(labels string) string {
	first, _, _ := strings.Cut(labels, ",")
	return Normalize(first)
}

// Tags converts the raw comma-separated label text into the board's
// semicolon-joined tag list. Chore records always carry at least a "chore"
// tag so they stay findable after migration.
func Tags(labels, sourceType string) string {
	chore := strings.EqualFold(strings.TrimSpace(sourceType), "chore")
	if strings.TrimSpace(labels) == "" {
		if chore { return "chore" }
		return ""
	}
	parts := strings.Split(labels, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts { out = append(out, strings.TrimSpace(p)) }
	return strings.Join(out, ";")
}
