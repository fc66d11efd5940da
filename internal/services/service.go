/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/HamedShams/pivotal-azure/internal/config"
	"github.com/HamedShams/pivotal-azure/internal/domain"
	"github.com/HamedShams/pivotal-azure/internal/mapper"
	"github.com/rs/zerolog"
)

// Gateway is the remote work item API the engine drives. Every call is one
// best-effort request; failures are recorded, never propagated as fatal.
type Gateway interface {
	CreateWorkItem(ctx context.Context, witType string, ops []domain.FieldOp, parentID string) (string, error)
	PatchFields(ctx context.Context, id string, ops []domain.FieldOp) error
	GetFields(ctx context.Context, id string, fields []string) (map[string]any, error)
	GetRelations(ctx context.Context, id string) ([]domain.Relation, error)
	AddComment(ctx context.Context, id, text string) error
	UploadAttachment(ctx context.Context, filename string, data []byte) (string, error)
	LinkAttachment(ctx context.Context, id, attachmentURL string) error
	QueryIDsByType(ctx context.Context, witType string) ([]string, error)
	QueryIDsByField(ctx context.Context, field, value string) ([]string, error)
	QueryCorrelationIDs(ctx context.Context) (map[string]string, error)
	ListUsers(ctx context.Context) ([]string, error)
	DeleteWorkItem(ctx context.Context, id string) error
}

type Service struct {
	cfg    config.Config
	log    zerolog.Logger
	azure  Gateway
	ledger *Ledger
}

func New(cfg config.Config, log zerolog.Logger, gw Gateway, ledger *Ledger) *Service {
	return &Service{cfg: cfg, log: log, azure: gw, ledger: ledger}
}

// run is the state of one migration invocation. Nothing here outlives the
// run; the dedup set and epic index are rebuilt from the board every time.
type run struct {
	processed   int
	total       int
	dedup       map[string]string // source id -> remote id, from the board's correlation field
	epicByLabel map[string]string // normalized epic title/label -> remote id
	epicSource  map[string]string // epic source id -> remote id
	users       []string
	choreParent string
}

const (
	choreParentTitle = "Chore Parent Feature"
	commentPrefix    = "<b>Migrated from Pivotal Tracker</b><br><br>"
	maxTitleLen      = 255
	untitledFallback = "Untitled Work Item"
)

// RunMigration recreates the exported records on the board: epics first in
// creation order, then features/bugs/releases/chores in creation order under
// their resolved parents. Records already present remotely are skipped
// without any gateway interaction. One record's failure never aborts the run.
func (s *Service) RunMigration(ctx context.Context, items []domain.SourceItem) error {
	r := s.newRun(ctx)

	var epics, children []domain.SourceItem
	for _, it := range items {
		if strings.EqualFold(strings.TrimSpace(it.Type), "epic") {
			epics = append(epics, it)
		} else {
			children = append(children, it)
		}
	}
	sortByCreatedAt(epics)
	sortByCreatedAt(children)
	r.total = len(epics) + len(children)

	for _, epic := range epics {
		if remoteID, ok := r.dedup[epic.ID]; ok {
			s.indexEpic(r, epic, remoteID)
			s.log.Info().Str("source_id", epic.ID).Str("remote_id", remoteID).Msg("epic already migrated, skipped")
			continue
		}
		remoteID, ok := s.createItem(ctx, r, epic, "", true)
		if !ok { continue }
		s.indexEpic(r, epic, remoteID)
		r.processed++
		s.log.Info().Str("type", mapper.WorkItemType(epic.Type)).Str("source_id", epic.ID).Str("remote_id", remoteID).
			Str("progress", fmt.Sprintf("%d/%d", r.processed, r.total)).Msg("created")
	}

	if hasChore(children) {
		id, err := s.ensureChoreParent(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("chore parent feature unavailable, chores will be created without a fallback parent")
		} else {
			r.choreParent = id
		}
	}

	for _, item := range children {
		if _, ok := r.dedup[item.ID]; ok {
			s.log.Info().Str("source_id", item.ID).Msg("already migrated, skipped")
			continue
		}
		if mapper.WorkItemType(item.Type) == "" {
			s.log.Warn().Str("source_id", item.ID).Str("type", item.Type).Msg("unroutable record type, skipped")
			continue
		}
		parentID := resolveParent(item, items, r)
		remoteID, ok := s.createItem(ctx, r, item, parentID, true)
		if !ok { continue }
		r.processed++
		ev := s.log.Info().Str("type", mapper.WorkItemType(item.Type)).Str("source_id", item.ID).Str("remote_id", remoteID).
			Str("progress", fmt.Sprintf("%d/%d", r.processed, r.total))
		if parentID != "" { ev = ev.Str("parent", parentID) } else { ev = ev.Str("parent", "none") }
		ev.Msg("created")
	}

	s.log.Info().Int("processed", r.processed).Int("total", r.total).Int("failed", s.ledger.Pending()).Msg("migration pass finished")
	if err := s.ledger.Flush(); err != nil {
		s.log.Error().Err(err).Msg("ledger flush failed")
		return err
	}
	return nil
}

// newRun rebuilds the run-scoped state from the board: the dedup set from
// the correlation field and the assignee roster. Both are best-effort.
func (s *Service) newRun(ctx context.Context) *run {
	r := &run{
		dedup:       map[string]string{},
		epicByLabel: map[string]string{},
		epicSource:  map[string]string{},
	}
	if dedup, err := s.azure.QueryCorrelationIDs(ctx); err != nil {
		s.log.Warn().Err(err).Msg("dedup query failed, duplicate detection disabled for this run")
	} else {
		r.dedup = dedup
		s.log.Info().Int("count", len(dedup)).Msg("already-migrated items indexed")
	}
	if users, err := s.azure.ListUsers(ctx); err != nil {
		s.log.Warn().Err(err).Msg("user roster fetch failed, assignees will be omitted")
	} else {
		r.users = users
	}
	return r
}

func (s *Service) indexEpic(r *run, epic domain.SourceItem, remoteID string) {
	if k := mapper.Normalize(epic.Title); k != "" { r.epicByLabel[k] = remoteID }
	if k := mapper.Normalize(epic.Labels); k != "" { r.epicByLabel[k] = remoteID }
	r.epicSource[epic.ID] = remoteID
}

// ensureChoreParent finds or creates the single container feature that holds
// chore items with no epic of their own. At most one exists per board.
func (s *Service) ensureChoreParent(ctx context.Context) (string, error) {
	ids, err := s.azure.QueryIDsByField(ctx, "System.Title", choreParentTitle)
	if err != nil {
		s.log.Warn().Err(err).Msg("chore parent existence query failed, creating")
	} else if len(ids) > 0 {
		s.log.Info().Str("remote_id", ids[0]).Msg("chore parent feature found")
		return ids[0], nil
	}
	id, err := s.azure.CreateWorkItem(ctx, "Feature", []domain.FieldOp{
		{Path: "/fields/System.Title", Value: choreParentTitle},
		{Path: "/fields/System.Description", Value: "This feature contains all Chore items"},
	}, "")
	if err != nil { return "", fmt.Errorf("create chore parent feature: %w", err) }
	s.log.Info().Str("remote_id", id).Msg("chore parent feature created")
	return id, nil
}

// createItem runs the full create contract for one record: field document,
// creation, state push, parent reconciliation, comments, attachments. The
// bool result reports whether the remote item exists afterwards. When record
// is set, a failed creation is snapshotted to the ledger.
func (s *Service) createItem(ctx context.Context, r *run, item domain.SourceItem, parentID string, record bool) (string, bool) {
	witType := mapper.WorkItemType(item.Type)
	if witType == "" {
		s.log.Warn().Str("source_id", item.ID).Str("type", item.Type).Msg("unroutable record type, skipped")
		return "", false
	}

	remoteID, err := s.azure.CreateWorkItem(ctx, witType, s.buildFieldOps(item, r.users), parentID)
	if err != nil {
		s.log.Error().Err(err).Str("source_id", item.ID).Str("type", witType).Msg("work item creation failed")
		if record {
			s.ledger.Record(domain.Snapshot(item, parentID, "work item creation failed: "+err.Error()))
		}
		return "", false
	}

	if item.CurrentState != "" {
		if err := s.azure.PatchFields(ctx, remoteID, []domain.FieldOp{{Path: "/fields/System.State", Value: mapper.State(item.CurrentState)}}); err != nil {
			s.log.Error().Err(err).Str("remote_id", remoteID).Msg("state update failed")
		}
	}
	if parentID != "" {
		if err := s.ReconcileParentState(ctx, parentID); err != nil {
			s.log.Error().Err(err).Str("parent", parentID).Msg("parent state reconciliation failed")
		}
	}
	s.pushComments(ctx, remoteID, item.Comments)
	s.pushAttachments(ctx, remoteID, item.ID)
	return remoteID, true
}

// buildFieldOps assembles the ordered field document for one record per the
// fixed mapping rules. Field paths are the only wire-schema knowledge here;
// the gateway owns the patch envelope.
func (s *Service) buildFieldOps(item domain.SourceItem, users []string) []domain.FieldOp {
	ops := []domain.FieldOp{{Path: "/fields/System.Title", Value: truncateTitle(item.Title)}}
	if item.ID != "" {
		ops = append(ops, domain.FieldOp{Path: "/fields/Custom.PTStory", Value: item.ID})
	}
	if tags := mapper.Tags(item.Labels, item.Type); tags != "" {
		ops = append(ops, domain.FieldOp{Path: "/fields/System.Tags", Value: tags})
	}
	if strings.EqualFold(strings.TrimSpace(item.Type), "bug") {
		// bug rows carry reproduction details, which belong in system info
		ops = append(ops, domain.FieldOp{Path: "/fields/Microsoft.VSTS.TCM.SystemInfo", Value: htmlBlock(item.Description)})
	} else if item.Description != "" {
		ops = append(ops, domain.FieldOp{Path: "/fields/System.Description", Value: htmlBlock(item.Description)})
	}
	if item.Priority != "" {
		ops = append(ops, domain.FieldOp{Path: "/fields/Microsoft.VSTS.Common.Priority", Value: mapper.Priority(item.Priority)})
	}
	if item.Estimate != nil {
		ops = append(ops, domain.FieldOp{Path: "/fields/Microsoft.VSTS.Scheduling.StoryPoints", Value: *item.Estimate})
	}
	if item.AcceptedAt != nil {
		ops = append(ops, domain.FieldOp{Path: "/fields/Microsoft.VSTS.Scheduling.StartDate", Value: isoUTC(*item.AcceptedAt)})
	}
	if item.Deadline != nil {
		ops = append(ops, domain.FieldOp{Path: "/fields/Microsoft.VSTS.Scheduling.TargetDate", Value: isoUTC(*item.Deadline)})
	}
	if assignee := matchAssignee(users, item.OwnedBy1, item.OwnedBy2); assignee != "" {
		ops = append(ops, domain.FieldOp{Path: "/fields/System.AssignedTo", Value: assignee})
	}
	if item.RequestedBy != "" {
		ops = append(ops, domain.FieldOp{Path: "/fields/Custom.RequestedBy", Value: item.RequestedBy})
	}
	return ops
}

// pushComments replays the record's comments onto the created item. The
// first failure stops the pass and lands in the ledger with the comment it
// could not deliver.
func (s *Service) pushComments(ctx context.Context, remoteID string, comments []string) {
	for _, comment := range comments {
		text := commentPrefix + comment
		if err := s.azure.AddComment(ctx, remoteID, text); err != nil {
			s.log.Error().Err(err).Str("remote_id", remoteID).Msg("comment failed")
			s.ledger.Record(domain.FailedItem{
				ID:         remoteID,
				FailedType: domain.FailedComment,
				Comment:    text,
				Reason:     err.Error(),
			})
			return
		}
	}
}

// pushAttachments uploads and links every file under the record's attachment
// folder. Each failed file is recorded individually.
func (s *Service) pushAttachments(ctx context.Context, remoteID, sourceID string) {
	if s.cfg.AttachmentDir == "" || sourceID == "" { return }
	dir := filepath.Join(s.cfg.AttachmentDir, sourceID)
	entries, err := os.ReadDir(dir)
	if err != nil { return } // no folder means no attachments
	for _, entry := range entries {
		if entry.IsDir() { continue }
		path := filepath.Join(dir, entry.Name())
		if err := s.uploadAndLink(ctx, remoteID, path); err != nil {
			s.log.Error().Err(err).Str("remote_id", remoteID).Str("file", path).Msg("attachment failed")
			s.ledger.Record(domain.FailedItem{
				ID:             remoteID,
				FailedType:     domain.FailedAttachment,
				AttachmentPath: path,
				Reason:         err.Error(),
			})
		}
	}
}

func (s *Service) uploadAndLink(ctx context.Context, remoteID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil { return fmt.Errorf("read attachment: %w", err) }
	attachmentURL, err := s.azure.UploadAttachment(ctx, filepath.Base(path), data)
	if err != nil { return fmt.Errorf("upload attachment: %w", err) }
	if err := s.azure.LinkAttachment(ctx, remoteID, attachmentURL); err != nil {
		return fmt.Errorf("link attachment: %w", err)
	}
	return nil
}

// RetryFailed replays the persisted ledger: attachments are re-uploaded,
// comments re-posted, creations re-run from their stored snapshots. Entries
// that succeed are dropped; entries that fail again are re-persisted.
func (s *Service) RetryFailed(ctx context.Context) error {
	entries, err := s.ledger.Load()
	if err != nil { return err }
	if len(entries) == 0 {
		s.log.Info().Msg("no failed work items found for retry")
		return nil
	}
	s.log.Info().Int("count", len(entries)).Msg("retrying failed operations")

	r := s.newRun(ctx)
	var again []domain.FailedItem
	for _, entry := range entries {
		switch entry.FailedType {
		case domain.FailedAttachment:
			if err := s.uploadAndLink(ctx, entry.ID, entry.AttachmentPath); err != nil {
				s.log.Error().Err(err).Str("file", entry.AttachmentPath).Msg("attachment retry failed")
				entry.Reason = "retry failed: " + err.Error()
				again = append(again, entry)
				continue
			}
			s.log.Info().Str("file", entry.AttachmentPath).Msg("attachment retry succeeded")
		case domain.FailedComment:
			if err := s.azure.AddComment(ctx, entry.ID, entry.Comment); err != nil {
				s.log.Error().Err(err).Str("remote_id", entry.ID).Msg("comment retry failed")
				entry.Reason = "retry failed: " + err.Error()
				again = append(again, entry)
				continue
			}
			s.log.Info().Str("remote_id", entry.ID).Msg("comment retry succeeded")
		default: // Creation
			if _, ok := r.dedup[entry.ID]; ok {
				s.log.Info().Str("source_id", entry.ID).Msg("already migrated, retry entry dropped")
				continue
			}
			remoteID, ok := s.createItem(ctx, r, entry.Source(), entry.ParentID, false)
			if !ok {
				entry.Reason = "retry failed"
				again = append(again, entry)
				continue
			}
			s.log.Info().Str("source_id", entry.ID).Str("remote_id", remoteID).Msg("creation retry succeeded")
		}
	}
	if err := s.ledger.Rewrite(again); err != nil { return err }
	s.log.Info().Int("resolved", len(entries)-len(again)).Int("remaining", len(again)).Msg("retry pass finished")
	return nil
}

// UpdateExisting patches priority, story points, requested-by and chore tags
// of already-migrated items, addressed through the exported id map. Epics
// and releases are excluded, as are rows without an estimate.
func (s *Service) UpdateExisting(ctx context.Context, items []domain.SourceItem, idMap map[string]string) error {
	var candidates []domain.SourceItem
	for _, it := range items {
		t := strings.ToLower(strings.TrimSpace(it.Type))
		if t == "epic" || t == "release" { continue }
		if it.Estimate == nil { continue }
		candidates = append(candidates, it)
	}
	updated := 0
	for _, item := range candidates {
		remoteID, ok := idMap[item.ID]
		if !ok {
			s.log.Warn().Str("source_id", item.ID).Msg("no remote id found, skipped")
			continue
		}
		var ops []domain.FieldOp
		if item.RequestedBy != "" {
			ops = append(ops, domain.FieldOp{Path: "/fields/Custom.RequestedBy", Value: item.RequestedBy})
		}
		if item.Priority != "" {
			ops = append(ops, domain.FieldOp{Path: "/fields/Microsoft.VSTS.Common.Priority", Value: mapper.Priority(item.Priority)})
		}
		ops = append(ops, domain.FieldOp{Path: "/fields/Microsoft.VSTS.Scheduling.StoryPoints", Value: *item.Estimate})
		if strings.EqualFold(strings.TrimSpace(item.Type), "chore") {
			ops = append(ops, domain.FieldOp{Path: "/fields/System.Tags", Value: mapper.Tags(item.Labels, item.Type)})
		}
		if err := s.azure.PatchFields(ctx, remoteID, ops); err != nil {
			s.log.Error().Err(err).Str("source_id", item.ID).Str("remote_id", remoteID).Msg("update failed")
			continue
		}
		updated++
		s.log.Info().Str("source_id", item.ID).Str("remote_id", remoteID).
			Str("progress", fmt.Sprintf("%d/%d", updated, len(candidates))).Msg("updated")
	}
	s.log.Info().Int("updated", updated).Int("candidates", len(candidates)).Msg("update pass finished")
	return nil
}

// ClearBoard deletes every work item of the known types. Destructive;
// callers must confirm first.
func (s *Service) ClearBoard(ctx context.Context) error {
	types := []string{"Bug", "User Story", "Release", "Chore", "Feature", "Epic"}
	for _, witType := range types {
		ids, err := s.azure.QueryIDsByType(ctx, witType)
		if err != nil {
			s.log.Error().Err(err).Str("type", witType).Msg("query failed")
			continue
		}
		if len(ids) == 0 {
			s.log.Info().Str("type", witType).Msg("nothing to delete")
			continue
		}
		s.log.Info().Str("type", witType).Int("count", len(ids)).Msg("deleting")
		for _, id := range ids {
			if err := s.azure.DeleteWorkItem(ctx, id); err != nil {
				s.log.Error().Err(err).Str("remote_id", id).Msg("delete failed")
				continue
			}
			s.log.Info().Str("remote_id", id).Msg("deleted")
		}
	}
	return nil
}

// ---- helpers ----

func sortByCreatedAt(items []domain.SourceItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return derefTime(items[i].CreatedAt).Before(derefTime(items[j].CreatedAt))
	})
}

func derefTime(t *time.Time) time.Time {
	if t == nil { return time.Time{} }
	return *t
}

func hasChore(items []domain.SourceItem) bool {
	for _, it := range items {
		if strings.EqualFold(strings.TrimSpace(it.Type), "chore") { return true }
	}
	return false
}

func truncateTitle(title string) string {
	if strings.TrimSpace(title) == "" { return untitledFallback }
	if len(title) > maxTitleLen { return title[:maxTitleLen] }
	return title
}

func htmlBlock(text string) string {
	return "<pre><code>" + html.EscapeString(text) + "</code></pre>"
}

// matchAssignee matches the first name of either owner hint case-insensitively
// as a prefix against the roster. No match means the field is omitted.
func matchAssignee(users []string, owners ...string) string {
	for _, owner := range owners {
		fields := strings.Fields(owner)
		if len(fields) == 0 { continue }
		first := strings.ToLower(fields[0])
		for _, u := range users {
			if strings.HasPrefix(strings.ToLower(u), first) { return u }
		}
	}
	return ""
}

func isoUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
