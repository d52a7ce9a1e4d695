package notes

import (
	"context"
	"testing"
)

func TestService_CreateNoteDefaultsAndNormalization(t *testing.T) {
	svc := NewService(NewNoteRepoMem(), NewTemplateRepoMem())
	n := &Note{
		Title: "TPN day 3",
		Segments: []Segment{
			{Content: "Patient stable."},
			{Kind: SegmentDynamic, Content: "api.getValue('TotalVolume')"},
		},
	}
	if err := svc.CreateNote(context.Background(), n); err != nil {
		t.Fatalf("create: %v", err)
	}
	if n.Status != StatusDraft {
		t.Errorf("expected draft status, got %q", n.Status)
	}
	if n.VersionID != 1 {
		t.Errorf("expected version 1, got %d", n.VersionID)
	}
	if n.Segments[0].Kind != SegmentStatic {
		t.Errorf("expected missing kind to default to static, got %q", n.Segments[0].Kind)
	}
	if n.Segments[0].ID != "seg-0" || n.Segments[1].ID != "seg-1" {
		t.Errorf("expected positional segment ids, got %q and %q", n.Segments[0].ID, n.Segments[1].ID)
	}
}

func TestService_CreateNoteValidation(t *testing.T) {
	svc := NewService(NewNoteRepoMem(), NewTemplateRepoMem())
	cases := []struct {
		name string
		note Note
	}{
		{name: "missing title", note: Note{}},
		{name: "bad status", note: Note{Title: "x", Status: "published"}},
		{name: "bad segment kind", note: Note{Title: "x", Segments: []Segment{{Kind: "binary"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := tc.note
			if err := svc.CreateNote(context.Background(), &n); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestService_UpdateBumpsVersion(t *testing.T) {
	svc := NewService(NewNoteRepoMem(), NewTemplateRepoMem())
	n := &Note{Title: "TPN day 3"}
	if err := svc.CreateNote(context.Background(), n); err != nil {
		t.Fatalf("create: %v", err)
	}
	n.Title = "TPN day 4"
	if err := svc.UpdateNote(context.Background(), n); err != nil {
		t.Fatalf("update: %v", err)
	}
	if n.VersionID != 2 {
		t.Errorf("expected version 2, got %d", n.VersionID)
	}
}

func TestService_ImportParsesLines(t *testing.T) {
	svc := NewService(NewNoteRepoMem(), NewTemplateRepoMem())
	lines := []string{"Fluids:", "<%", "api.getValue('TotalVolume')", "%>", "as ordered."}
	n, err := svc.ImportNote(context.Background(), "Legacy import", "MRN-1001", "alice", lines)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(n.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(n.Segments))
	}
	if n.Segments[1].Kind != SegmentDynamic {
		t.Errorf("expected dynamic middle segment, got %q", n.Segments[1].Kind)
	}

	exported, err := svc.ExportLines(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	want := []string{"Fluids:", "<%", "api.getValue('TotalVolume')", "%>", "as ordered."}
	if len(exported) != len(want) {
		t.Fatalf("expected %d lines, got %d: %v", len(want), len(exported), exported)
	}
	for i := range want {
		if exported[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], exported[i])
		}
	}
}

func TestService_TemplateVisibility(t *testing.T) {
	svc := NewService(NewNoteRepoMem(), NewTemplateRepoMem())
	ctx := context.Background()

	private := &NoteTemplate{Name: "Pediatric base", CreatedBy: "alice"}
	if err := svc.CreateTemplate(ctx, private); err != nil {
		t.Fatalf("create private: %v", err)
	}
	shared := &NoteTemplate{Name: "Adult standard", Shared: true, CreatedBy: "bob"}
	if err := svc.CreateTemplate(ctx, shared); err != nil {
		t.Fatalf("create shared: %v", err)
	}

	forAlice, total, err := svc.ListTemplates(ctx, "alice", 20, 0)
	if err != nil {
		t.Fatalf("list for alice: %v", err)
	}
	if total != 2 || len(forAlice) != 2 {
		t.Errorf("expected alice to see 2 templates, got %d", total)
	}

	forCarol, total, err := svc.ListTemplates(ctx, "carol", 20, 0)
	if err != nil {
		t.Fatalf("list for carol: %v", err)
	}
	if total != 1 || len(forCarol) != 1 {
		t.Fatalf("expected carol to see 1 template, got %d", total)
	}
	if forCarol[0].Name != "Adult standard" {
		t.Errorf("expected the shared template, got %q", forCarol[0].Name)
	}
}
