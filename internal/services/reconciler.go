/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/HamedShams/pivotal-azure/internal/domain"
)

const hierarchyForward = "System.LinkTypes.Hierarchy-Forward"

// AggregateState derives a parent state from its children's states.
// Decision order: any Active -> Active; all Closed -> Closed; all New -> New;
// all Resolved -> Resolved; mixed -> Active. Empty input yields "".
func AggregateState(children []string) string {
	if len(children) == 0 { return "" }
	anyActive := false
	allClosed, allNew, allResolved := true, true, true
	for _, st := range children {
		if st == "Active" { anyActive = true }
		if st != "Closed" { allClosed = false }
		if st != "New" { allNew = false }
		if st != "Resolved" { allResolved = false }
	}
	switch {
	case anyActive:
		return "Active"
	case allClosed:
		return "Closed"
	case allNew:
		return "New"
	case allResolved:
		return "Resolved"
	}
	return "Active"
}

// ReconcileParentState re-derives the parent's state from the full current
// child list and pushes it. Not incremental, so calling it repeatedly or
// after a partial failure converges on the same answer. Children whose state
// lookup fails are skipped.
func (s *Service) ReconcileParentState(ctx context.Context, parentID string) error {
	rels, err := s.azure.GetRelations(ctx, parentID)
	if err != nil { return fmt.Errorf("fetch relations of parent %s: %w", parentID, err) }

	var states []string
	for _, rel := range rels {
		if rel.Rel != hierarchyForward { continue }
		childID := rel.URL[strings.LastIndex(rel.URL, "/")+1:]
		fields, err := s.azure.GetFields(ctx, childID, []string{"System.State"})
		if err != nil {
			s.log.Warn().Err(err).Str("parent", parentID).Str("child", childID).Msg("reconcile: child state lookup failed, skipped")
			continue
		}
		if st, ok := fields["System.State"].(string); ok && st != "" { states = append(states, st) }
	}

	target := AggregateState(states)
	if target == "" { return nil }
	if err := s.azure.PatchFields(ctx, parentID, []domain.FieldOp{{Path: "/fields/System.State", Value: target}}); err != nil {
		return fmt.Errorf("push state %s to parent %s: %w", target, parentID, err)
	}
	return nil
}
