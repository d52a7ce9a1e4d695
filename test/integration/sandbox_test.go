package integration

import (
	"net/http"
	"testing"

	"github.com/ehr/tpn/internal/domain/notes"
	"github.com/ehr/tpn/internal/domain/worksheet"
	"github.com/ehr/tpn/internal/platform/sandbox"
)

func TestSandboxSeedPopulatesWorkingDemo(t *testing.T) {
	app := newTestApp(t)

	rec := app.request(t, http.MethodPost, "/api/v1/sandbox/seed", map[string]interface{}{
		"user": "dr-demo",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("seed: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res sandbox.SeedResult
	decodeJSON(t, rec, &res)
	if res.Ranges != 7 || res.Preferences != 3 || res.Functions != 3 || res.Notes != 1 || res.Templates != 1 {
		t.Fatalf("unexpected seed counts: %+v", res)
	}

	t.Run("SecondSeedDoesNotDuplicate", func(t *testing.T) {
		rec := app.request(t, http.MethodPost, "/api/v1/sandbox/seed", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("reseed: expected 200, got %d", rec.Code)
		}
		var again sandbox.SeedResult
		decodeJSON(t, rec, &again)
		if again.Ranges != res.Ranges || again.Notes != res.Notes {
			t.Errorf("reseed must return the first result, got %+v", again)
		}
		rec = app.request(t, http.MethodGet, "/api/v1/notes", nil)
		var list struct {
			Total int `json:"total"`
		}
		decodeJSON(t, rec, &list)
		if list.Total != 1 {
			t.Errorf("expected 1 note after double seed, got %d", list.Total)
		}
	})

	t.Run("SharedTemplateVisible", func(t *testing.T) {
		rec := app.request(t, http.MethodGet, "/api/v1/templates", nil)
		var list struct {
			Data []notes.NoteTemplate `json:"data"`
		}
		decodeJSON(t, rec, &list)
		if len(list.Data) != 1 || !list.Data[0].Shared || list.Data[0].CreatedBy != "dr-demo" {
			t.Errorf("unexpected seeded template: %+v", list.Data)
		}
	})

	// The worked example note must actually render: load its attached
	// test case and check the clinical output end to end.
	var seeded notes.Note
	rec = app.request(t, http.MethodGet, "/api/v1/notes?patient_id=demo-patient-001", nil)
	var list struct {
		Data []notes.Note `json:"data"`
	}
	decodeJSON(t, rec, &list)
	if len(list.Data) != 1 {
		t.Fatalf("expected 1 seeded note, got %d", len(list.Data))
	}
	seeded = list.Data[0]

	st := openWorksheet(t, app, map[string]interface{}{"note_id": seeded.ID.String()})
	wsPath := "/api/v1/worksheets/" + st.ID.String()

	rec = app.request(t, http.MethodPost, wsPath+"/testcase", map[string]interface{}{
		"segment_id": "seg-1",
		"name":       "preemie-day-3",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("load seeded test case: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var set worksheet.SetResult
	decodeJSON(t, rec, &set)
	if len(set.Reverted) != 0 || len(set.Events) != 0 {
		t.Errorf("seeded test case values must pass the seeded ranges, got %+v", set)
	}

	rec = app.request(t, http.MethodPost, wsPath+"/render", nil)
	var rendered worksheet.RenderResult
	decodeJSON(t, rec, &rendered)
	if rendered.Errors != 0 {
		t.Fatalf("seeded note must render cleanly, got %d errors: %+v", rendered.Errors, rendered.Segments)
	}
	if got := rendered.Segments[1].Output; got != "Total fluid volume: 180 mL/day" {
		t.Errorf("volume segment: got %q", got)
	}
	if got := rendered.Segments[2].Output; got != "Energy intake: 0 kcal/kg/day" {
		t.Errorf("energy segment with no macros entered: got %q", got)
	}
}

func TestSandboxSeedRequiresAdmin(t *testing.T) {
	app := newJWTApp(t)

	rec := app.tokenRequest(t, http.MethodPost, "/api/v1/sandbox/seed",
		signToken(t, "carol", "Carol", "physician"), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("physician seeding: expected 403, got %d", rec.Code)
	}

	rec = app.tokenRequest(t, http.MethodPost, "/api/v1/sandbox/seed",
		signToken(t, "root", "Root", "admin"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin seeding: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
