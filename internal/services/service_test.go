package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HamedShams/pivotal-azure/internal/config"
	"github.com/HamedShams/pivotal-azure/internal/domain"
	"github.com/rs/zerolog"
)

// fakeGateway is an in-memory board. Creations are sequential ids from 100;
// parent links show up as forward relations on the parent.
type fakeGateway struct {
	created     []fakeItem
	states      map[string]string
	relations   map[string][]domain.Relation
	comments    map[string][]string
	correlation map[string]string
	users       []string
	byTitle     map[string][]string

	failCreate  map[string]bool // keyed by correlation id
	failComment bool

	createCalls  int
	patchCalls   int
	commentCalls int
	uploadCalls  int
}

type fakeItem struct {
	remoteID string
	witType  string
	ops      []domain.FieldOp
	parentID string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		states:      map[string]string{},
		relations:   map[string][]domain.Relation{},
		comments:    map[string][]string{},
		correlation: map[string]string{},
		byTitle:     map[string][]string{},
		failCreate:  map[string]bool{},
	}
}

func opValue(ops []domain.FieldOp, path string) any {
	for _, op := range ops {
		if op.Path == path { return op.Value }
	}
	return nil
}

func (g *fakeGateway) CreateWorkItem(_ context.Context, witType string, ops []domain.FieldOp, parentID string) (string, error) {
	g.createCalls++
	sourceID, _ := opValue(ops, "/fields/Custom.PTStory").(string)
	if g.failCreate[sourceID] { return "", errors.New("simulated 500") }
	id := fmt.Sprint(100 + len(g.created))
	g.created = append(g.created, fakeItem{remoteID: id, witType: witType, ops: ops, parentID: parentID})
	g.states[id] = "New"
	if sourceID != "" { g.correlation[sourceID] = id }
	if title, ok := opValue(ops, "/fields/System.Title").(string); ok {
		g.byTitle[title] = append(g.byTitle[title], id)
	}
	if parentID != "" {
		g.relations[parentID] = append(g.relations[parentID], domain.Relation{
			Rel: hierarchyForward,
			URL: "https://dev.azure.com/org/project/_apis/wit/workitems/" + id,
		})
	}
	return id, nil
}

func (g *fakeGateway) PatchFields(_ context.Context, id string, ops []domain.FieldOp) error {
	g.patchCalls++
	if st, ok := opValue(ops, "/fields/System.State").(string); ok { g.states[id] = st }
	return nil
}

func (g *fakeGateway) GetFields(_ context.Context, id string, _ []string) (map[string]any, error) {
	st, ok := g.states[id]
	if !ok { return nil, errors.New("not found") }
	return map[string]any{"System.State": st}, nil
}

func (g *fakeGateway) GetRelations(_ context.Context, id string) ([]domain.Relation, error) {
	return g.relations[id], nil
}

func (g *fakeGateway) AddComment(_ context.Context, id, text string) error {
	g.commentCalls++
	if g.failComment { return errors.New("simulated comment failure") }
	g.comments[id] = append(g.comments[id], text)
	return nil
}

func (g *fakeGateway) UploadAttachment(_ context.Context, filename string, _ []byte) (string, error) {
	g.uploadCalls++
	return "https://dev.azure.com/att/" + filename, nil
}

func (g *fakeGateway) LinkAttachment(_ context.Context, id, attachmentURL string) error {
	g.relations[id] = append(g.relations[id], domain.Relation{Rel: "AttachedFile", URL: attachmentURL})
	return nil
}

func (g *fakeGateway) QueryIDsByType(_ context.Context, witType string) ([]string, error) {
	var out []string
	for _, it := range g.created {
		if it.witType == witType { out = append(out, it.remoteID) }
	}
	return out, nil
}

func (g *fakeGateway) QueryIDsByField(_ context.Context, field, value string) ([]string, error) {
	if field == "System.Title" { return g.byTitle[value], nil }
	return nil, nil
}

func (g *fakeGateway) QueryCorrelationIDs(_ context.Context) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range g.correlation { out[k] = v }
	return out, nil
}

func (g *fakeGateway) ListUsers(_ context.Context) ([]string, error) { return g.users, nil }

func (g *fakeGateway) DeleteWorkItem(_ context.Context, id string) error {
	delete(g.states, id)
	return nil
}

func newTestService(t *testing.T, gw *fakeGateway) *Service {
	t.Helper()
	cfg := config.Config{AttachmentDir: filepath.Join(t.TempDir(), "attachments")}
	ledger := NewLedger(filepath.Join(t.TempDir(), "ledger.json"), zerolog.Nop())
	return New(cfg, zerolog.Nop(), gw, ledger)
}

func ts(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil { panic(err) }
	return &t
}

func TestRunMigration_EpicCreatedFirstAndChildParented(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(t, gw)

	items := []domain.SourceItem{
		{ID: "F1", Title: "Checkout flow", Labels: "Billing!", Type: "feature", CreatedAt: ts("2024-01-01")},
		{ID: "E1", Title: "Epic: Billing!!", Labels: "billing", Type: "epic", CreatedAt: ts("2024-02-01")},
	}
	if err := svc.RunMigration(context.Background(), items); err != nil {
		t.Fatalf("RunMigration: %v", err)
	}

	if len(gw.created) != 2 { t.Fatalf("expected 2 created items, got %d", len(gw.created)) }
	epic := gw.created[0]
	if epic.witType != "Feature" { t.Fatalf("epic should map to Feature, got %s", epic.witType) }
	child := gw.created[1]
	if child.witType != "User Story" { t.Fatalf("feature should map to User Story, got %s", child.witType) }
	// label "Billing!" differs from the stored epic title in case and
	// punctuation; the index lookup must still hit
	if child.parentID != epic.remoteID {
		t.Fatalf("child parent = %q, want epic id %q", child.parentID, epic.remoteID)
	}
	if got := opValue(child.ops, "/fields/Custom.PTStory"); got != "F1" {
		t.Fatalf("correlation field = %v, want F1", got)
	}
}

func TestRunMigration_DedupMembersGetZeroGatewayCalls(t *testing.T) {
	gw := newFakeGateway()
	gw.correlation["F1"] = "900"
	svc := newTestService(t, gw)

	items := []domain.SourceItem{
		{ID: "F1", Title: "Already there", Type: "feature", Comments: []string{"a comment"}},
	}
	if err := svc.RunMigration(context.Background(), items); err != nil {
		t.Fatalf("RunMigration: %v", err)
	}
	if gw.createCalls != 0 || gw.commentCalls != 0 || gw.uploadCalls != 0 || gw.patchCalls != 0 {
		t.Fatalf("dedup member triggered gateway calls: create=%d comment=%d upload=%d patch=%d",
			gw.createCalls, gw.commentCalls, gw.uploadCalls, gw.patchCalls)
	}
}

func TestRunMigration_SkippedEpicStillIndexedForChildren(t *testing.T) {
	gw := newFakeGateway()
	gw.correlation["E1"] = "500"
	gw.states["500"] = "New"
	svc := newTestService(t, gw)

	items := []domain.SourceItem{
		{ID: "E1", Title: "Billing", Labels: "billing", Type: "epic"},
		{ID: "F1", Title: "New story", Labels: "Billing", Type: "feature"},
	}
	if err := svc.RunMigration(context.Background(), items); err != nil {
		t.Fatalf("RunMigration: %v", err)
	}
	if len(gw.created) != 1 { t.Fatalf("expected only the child to be created, got %d items", len(gw.created)) }
	if gw.created[0].parentID != "500" {
		t.Fatalf("child should parent to the already-migrated epic, got %q", gw.created[0].parentID)
	}
}

func TestRunMigration_ChoreFallsBackToChoreParent(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(t, gw)

	items := []domain.SourceItem{
		{ID: "C1", Title: "Rotate keys", Type: "chore"},
	}
	if err := svc.RunMigration(context.Background(), items); err != nil {
		t.Fatalf("RunMigration: %v", err)
	}
	// chore parent feature plus the chore itself
	if len(gw.created) != 2 { t.Fatalf("expected 2 created items, got %d", len(gw.created)) }
	parent := gw.created[0]
	if got := opValue(parent.ops, "/fields/System.Title"); got != choreParentTitle {
		t.Fatalf("first created item should be the chore parent, title = %v", got)
	}
	chore := gw.created[1]
	if chore.parentID != parent.remoteID {
		t.Fatalf("chore parent = %q, want %q", chore.parentID, parent.remoteID)
	}
	if got := opValue(chore.ops, "/fields/System.Tags"); got != "chore" {
		t.Fatalf("chore fallback tag = %v, want chore", got)
	}
}

func TestRunMigration_ChorePrefersRealEpicMatch(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestService(t, gw)

	items := []domain.SourceItem{
		{ID: "E1", Title: "Infra", Labels: "infra", Type: "epic", CreatedAt: ts("2024-01-01")},
		{ID: "C1", Title: "Upgrade runners", Labels: "Infra", Type: "chore", CreatedAt: ts("2024-01-02")},
	}
	if err := svc.RunMigration(context.Background(), items); err != nil {
		t.Fatalf("RunMigration: %v", err)
	}
	epicID := gw.created[0].remoteID
	chore := gw.created[len(gw.created)-1]
	if chore.parentID != epicID {
		t.Fatalf("chore with epic label should parent to the epic %q, got %q", epicID, chore.parentID)
	}
}

func TestRunMigration_FailureRecordedThenRetrySucceedsWithoutDuplicate(t *testing.T) {
	gw := newFakeGateway()
	gw.failCreate["F1"] = true
	svc := newTestService(t, gw)

	est := 3.0
	items := []domain.SourceItem{
		{ID: "F1", Title: "Flaky one", Labels: "billing", Type: "feature", Estimate: &est, Priority: "p1 - High"},
	}
	if err := svc.RunMigration(context.Background(), items); err != nil {
		t.Fatalf("RunMigration: %v", err)
	}

	entries, err := svc.ledger.Load()
	if err != nil { t.Fatalf("ledger load: %v", err) }
	if len(entries) != 1 { t.Fatalf("expected 1 ledger entry, got %d", len(entries)) }
	e := entries[0]
	if e.FailedType != domain.FailedCreation { t.Fatalf("failed type = %s", e.FailedType) }
	if e.ID != "F1" || e.Title != "Flaky one" || e.Labels != "billing" || e.Priority != "p1 - High" {
		t.Fatalf("snapshot incomplete: %+v", e)
	}
	if e.Estimate == nil || *e.Estimate != 3.0 { t.Fatalf("snapshot estimate lost: %+v", e.Estimate) }

	// the board accepts the item on retry
	gw.failCreate["F1"] = false
	if err := svc.RetryFailed(context.Background()); err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if len(gw.created) != 1 { t.Fatalf("expected exactly 1 created item after retry, got %d", len(gw.created)) }

	entries, err = svc.ledger.Load()
	if err != nil { t.Fatalf("ledger reload: %v", err) }
	if len(entries) != 0 { t.Fatalf("ledger should be empty after successful retry, got %d entries", len(entries)) }
}

func TestRetryFailed_CommentEntryReplaysStoredText(t *testing.T) {
	gw := newFakeGateway()
	gw.states["200"] = "New"
	svc := newTestService(t, gw)
	svc.ledger.Record(domain.FailedItem{ID: "200", FailedType: domain.FailedComment, Comment: "restored comment", Reason: "x"})
	if err := svc.ledger.Flush(); err != nil { t.Fatalf("flush: %v", err) }

	if err := svc.RetryFailed(context.Background()); err != nil { t.Fatalf("RetryFailed: %v", err) }
	if len(gw.comments["200"]) != 1 || gw.comments["200"][0] != "restored comment" {
		t.Fatalf("comment not replayed: %v", gw.comments["200"])
	}
	entries, _ := svc.ledger.Load()
	if len(entries) != 0 { t.Fatalf("expected empty ledger, got %d", len(entries)) }
}

func TestBuildFieldOps(t *testing.T) {
	svc := newTestService(t, newFakeGateway())

	t.Run("bug description goes to system info, escaped", func(t *testing.T) {
		ops := svc.buildFieldOps(domain.SourceItem{ID: "B1", Title: "t", Type: "bug", Description: "<crash>"}, nil)
		v, _ := opValue(ops, "/fields/Microsoft.VSTS.TCM.SystemInfo").(string)
		if !strings.Contains(v, "&lt;crash&gt;") || !strings.HasPrefix(v, "<pre><code>") {
			t.Fatalf("system info = %q", v)
		}
		if opValue(ops, "/fields/System.Description") != nil {
			t.Fatalf("bug should not set the generic description field")
		}
	})

	t.Run("blank title falls back, long title truncated", func(t *testing.T) {
		ops := svc.buildFieldOps(domain.SourceItem{ID: "X", Title: "   ", Type: "feature"}, nil)
		if got := opValue(ops, "/fields/System.Title"); got != untitledFallback {
			t.Fatalf("title = %v", got)
		}
		long := strings.Repeat("a", 300)
		ops = svc.buildFieldOps(domain.SourceItem{ID: "X", Title: long, Type: "feature"}, nil)
		if got, _ := opValue(ops, "/fields/System.Title").(string); len(got) != maxTitleLen {
			t.Fatalf("title length = %d, want %d", len(got), maxTitleLen)
		}
	})

	t.Run("assignee prefix match against roster", func(t *testing.T) {
		users := []string{"Priya Sharma", "Jonas Weber"}
		ops := svc.buildFieldOps(domain.SourceItem{ID: "X", Title: "t", Type: "feature", OwnedBy1: "Nobody Here", OwnedBy2: "jonas k"}, users)
		if got := opValue(ops, "/fields/System.AssignedTo"); got != "Jonas Weber" {
			t.Fatalf("assignee = %v", got)
		}
		ops = svc.buildFieldOps(domain.SourceItem{ID: "X", Title: "t", Type: "feature", OwnedBy1: "Unknown Person"}, users)
		if opValue(ops, "/fields/System.AssignedTo") != nil {
			t.Fatalf("unmatched owner must omit the assignee field")
		}
	})

	t.Run("dates are ISO-8601 UTC", func(t *testing.T) {
		ops := svc.buildFieldOps(domain.SourceItem{ID: "X", Title: "t", Type: "feature", AcceptedAt: ts("2024-03-05"), Deadline: ts("2024-04-01")}, nil)
		if got := opValue(ops, "/fields/Microsoft.VSTS.Scheduling.StartDate"); got != "2024-03-05T00:00:00.000Z" {
			t.Fatalf("start date = %v", got)
		}
		if got := opValue(ops, "/fields/Microsoft.VSTS.Scheduling.TargetDate"); got != "2024-04-01T00:00:00.000Z" {
			t.Fatalf("target date = %v", got)
		}
	})
}

func TestUpdateExisting_SkipsEpicsReleasesAndNoEstimate(t *testing.T) {
	gw := newFakeGateway()
	gw.states["700"] = "New"
	svc := newTestService(t, gw)

	est := 5.0
	items := []domain.SourceItem{
		{ID: "E1", Type: "epic", Estimate: &est},
		{ID: "R1", Type: "release", Estimate: &est},
		{ID: "F1", Type: "feature"},
		{ID: "F2", Type: "feature", Estimate: &est, Priority: "p2 - Medium"},
	}
	idMap := map[string]string{"E1": "701", "R1": "702", "F1": "703", "F2": "700"}
	if err := svc.UpdateExisting(context.Background(), items, idMap); err != nil {
		t.Fatalf("UpdateExisting: %v", err)
	}
	if gw.patchCalls != 1 { t.Fatalf("expected exactly 1 patch, got %d", gw.patchCalls) }
}
