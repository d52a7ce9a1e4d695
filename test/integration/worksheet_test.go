package integration

import (
	"net/http"
	"reflect"
	"strings"
	"testing"

	"github.com/ehr/tpn/internal/domain/notes"
	"github.com/ehr/tpn/internal/domain/ranges"
	"github.com/ehr/tpn/internal/domain/worksheet"
)

func openWorksheet(t *testing.T, app *testApp, body map[string]interface{}) worksheet.State {
	t.Helper()
	rec := app.request(t, http.MethodPost, "/api/v1/worksheets", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open worksheet: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var st worksheet.State
	decodeJSON(t, rec, &st)
	return st
}

func TestWorksheetSessionLifecycle(t *testing.T) {
	app := newTestApp(t)

	rec := app.request(t, http.MethodPost, "/api/v1/notes/import", map[string]interface{}{
		"title": "Fluid plan",
		"lines": []string{
			"Daily TPN Summary",
			"<%",
			"var total = getValue('TotalVolume');",
			"return 'Total volume: ' + formatNumber(total) + ' mL/day';",
			"%>",
			"Reviewed by pharmacy.",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("import note: expected 201, got %d", rec.Code)
	}
	var n notes.Note
	decodeJSON(t, rec, &n)

	st := openWorksheet(t, app, map[string]interface{}{"note_id": n.ID.String()})
	if st.Title != "Fluid plan" {
		t.Errorf("expected title from note, got %q", st.Title)
	}
	if st.SegmentCount != 3 {
		t.Errorf("expected 3 segments, got %d", st.SegmentCount)
	}
	if st.OpenedBy != "dev-user" {
		t.Errorf("expected opened_by dev-user, got %q", st.OpenedBy)
	}
	if len(st.Values) != 0 {
		t.Errorf("expected empty value store, got %v", st.Values)
	}
	wsPath := "/api/v1/worksheets/" + st.ID.String()

	t.Run("List", func(t *testing.T) {
		rec := app.request(t, http.MethodGet, "/api/v1/worksheets", nil)
		var resp struct {
			Worksheets []worksheet.Summary `json:"worksheets"`
		}
		decodeJSON(t, rec, &resp)
		if len(resp.Worksheets) != 1 || resp.Worksheets[0].ID != st.ID {
			t.Errorf("unexpected worksheet list: %+v", resp.Worksheets)
		}
	})

	t.Run("SetValues", func(t *testing.T) {
		rec := app.request(t, http.MethodPost, wsPath+"/values", map[string]interface{}{
			"values": map[string]interface{}{
				"DoseWeightKG": 2.5,
				"VolumePerKG":  100,
				"Fat":          2, // legacy alias
				"TotalVolume":  999,
			},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var res worksheet.SetResult
		decodeJSON(t, rec, &res)
		if !reflect.DeepEqual(res.Applied, []string{"DoseWeightKG", "FatGPerKgPerDay", "VolumePerKG"}) {
			t.Errorf("unexpected applied keys: %v", res.Applied)
		}
		if !reflect.DeepEqual(res.Rejected, []string{"TotalVolume"}) {
			t.Errorf("derived keys must be rejected, got %v", res.Rejected)
		}
		if res.Values["DoseWeightKG"] != 2.5 {
			t.Errorf("expected stored dose weight, got %v", res.Values["DoseWeightKG"])
		}
	})

	t.Run("RenderWholeDocument", func(t *testing.T) {
		rec := app.request(t, http.MethodPost, wsPath+"/render", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var res worksheet.RenderResult
		decodeJSON(t, rec, &res)
		if res.Errors != 0 {
			t.Fatalf("expected no segment errors, got %d: %+v", res.Errors, res.Segments)
		}
		want := "Daily TPN Summary\nTotal volume: 250 mL/day\nReviewed by pharmacy."
		if res.HTML != want {
			t.Errorf("rendered document:\n got %q\nwant %q", res.HTML, want)
		}
	})

	t.Run("RenderSingleSegment", func(t *testing.T) {
		rec := app.request(t, http.MethodPost, wsPath+"/render/seg-1", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var res worksheet.RenderResult
		decodeJSON(t, rec, &res)
		if len(res.Segments) != 1 || res.Segments[0].Output != "Total volume: 250 mL/day" {
			t.Errorf("unexpected single-segment render: %+v", res.Segments)
		}

		rec = app.request(t, http.MethodPost, wsPath+"/render/seg-99", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 for unknown segment, got %d", rec.Code)
		}
	})

	t.Run("StateTracksRecentRuns", func(t *testing.T) {
		rec := app.request(t, http.MethodGet, wsPath, nil)
		var got worksheet.State
		decodeJSON(t, rec, &got)
		if len(got.RecentRuns) == 0 {
			t.Fatal("expected recent runs after rendering")
		}
		run := got.RecentRuns[0]
		if run.SegmentID != "seg-1" || run.Status != worksheet.RunOK {
			t.Errorf("unexpected run record: %+v", run)
		}
	})

	t.Run("Deps", func(t *testing.T) {
		rec := app.request(t, http.MethodGet, wsPath+"/deps", nil)
		var report worksheet.DepsReport
		decodeJSON(t, rec, &report)
		if len(report.Segments) != 1 {
			t.Fatalf("expected deps for 1 dynamic segment, got %d", len(report.Segments))
		}
		seg := report.Segments[0]
		if seg.SegmentID != "seg-1" {
			t.Errorf("unexpected segment id %q", seg.SegmentID)
		}
		if !reflect.DeepEqual(seg.Direct, []string{"TotalVolume"}) {
			t.Errorf("unexpected direct deps: %v", seg.Direct)
		}
		want := []string{"DoseWeightKG", "TotalVolume", "VolumePerKG"}
		if !reflect.DeepEqual(seg.Transitive, want) {
			t.Errorf("unexpected transitive deps: %v", seg.Transitive)
		}
		if !reflect.DeepEqual(report.Union, want) {
			t.Errorf("unexpected union: %v", report.Union)
		}
	})

	t.Run("Close", func(t *testing.T) {
		rec := app.request(t, http.MethodDelete, wsPath, nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		rec = app.request(t, http.MethodGet, wsPath, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 after close, got %d", rec.Code)
		}
		rec = app.request(t, http.MethodDelete, wsPath, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("closing twice: expected 404, got %d", rec.Code)
		}
	})
}

// TestWorksheetConfirmFlow drives the interactive state machine over
// HTTP: a firm violation asks before mutating, hard violations revert
// unconditionally, soft violations warn.
func TestWorksheetConfirmFlow(t *testing.T) {
	app := newTestApp(t)
	putVolumeRange(t, app)
	st := openWorksheet(t, app, map[string]interface{}{"title": "Confirm flow"})
	changePath := "/api/v1/worksheets/" + st.ID.String() + "/change"

	change := func(t *testing.T, body map[string]interface{}) worksheet.ChangeResult {
		t.Helper()
		rec := app.request(t, http.MethodPost, changePath, body)
		if rec.Code != http.StatusOK {
			t.Fatalf("change: expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var res worksheet.ChangeResult
		decodeJSON(t, rec, &res)
		return res
	}

	t.Run("FirmAsksBeforeMutating", func(t *testing.T) {
		res := change(t, map[string]interface{}{"key": "VolumePerKG", "value": 185})
		if !res.RequiresConfirm {
			t.Fatalf("expected confirmation request, got %+v", res)
		}
		if res.Result.Severity != ranges.SeverityFirm {
			t.Errorf("expected firm severity, got %q", res.Result.Severity)
		}
		if _, ok := res.Values["VolumePerKG"]; ok {
			t.Error("value must not be stored before confirmation")
		}
		if res.Event != nil {
			t.Error("no event may be recorded before the user answers")
		}
	})

	t.Run("ConfirmedAccepts", func(t *testing.T) {
		res := change(t, map[string]interface{}{"key": "VolumePerKG", "value": 185, "confirm": true})
		if res.RequiresConfirm || res.Reverted {
			t.Fatalf("expected acceptance, got %+v", res)
		}
		if res.Accepted != 185 || !res.Warning {
			t.Errorf("expected accepted 185 with warning, got %+v", res)
		}
		if res.Event == nil || res.Event.UserAction != ranges.ActionConfirmed {
			t.Errorf("expected confirmed event, got %+v", res.Event)
		}
		if res.Values["VolumePerKG"] != float64(185) {
			t.Errorf("expected stored value 185, got %v", res.Values["VolumePerKG"])
		}
	})

	t.Run("DeclinedReverts", func(t *testing.T) {
		res := change(t, map[string]interface{}{"key": "VolumePerKG", "value": 190, "confirm": false})
		if !res.Reverted || res.Accepted != 185 {
			t.Errorf("expected revert to previous value 185, got %+v", res)
		}
		if res.Event == nil || res.Event.UserAction != ranges.ActionReverted {
			t.Errorf("expected reverted event, got %+v", res.Event)
		}
	})

	t.Run("ValidClearsWarning", func(t *testing.T) {
		res := change(t, map[string]interface{}{"key": "VolumePerKG", "value": 100})
		if res.Warning || res.Event != nil {
			t.Errorf("expected clean acceptance, got %+v", res)
		}
		rec := app.request(t, http.MethodGet, "/api/v1/worksheets/"+st.ID.String(), nil)
		var got worksheet.State
		decodeJSON(t, rec, &got)
		if len(got.Warnings) != 0 {
			t.Errorf("expected warnings cleared, got %v", got.Warnings)
		}
	})

	t.Run("HardRevertsRegardlessOfConfirm", func(t *testing.T) {
		res := change(t, map[string]interface{}{"key": "VolumePerKG", "value": 250, "confirm": true})
		if !res.Reverted || res.Accepted != 100 {
			t.Errorf("expected hard revert to 100, got %+v", res)
		}
		if res.Result.Severity != ranges.SeverityHard {
			t.Errorf("expected hard severity, got %q", res.Result.Severity)
		}
		if res.Values["VolumePerKG"] != float64(100) {
			t.Errorf("store must keep the old value, got %v", res.Values["VolumePerKG"])
		}
	})

	t.Run("SoftWarns", func(t *testing.T) {
		res := change(t, map[string]interface{}{"key": "VolumePerKG", "value": 160})
		if res.Reverted || !res.Warning {
			t.Errorf("expected warned acceptance, got %+v", res)
		}
		if res.Event == nil || res.Event.UserAction != ranges.ActionAccepted {
			t.Errorf("expected accepted event, got %+v", res.Event)
		}
	})

	t.Run("DerivedKeyRejected", func(t *testing.T) {
		rec := app.request(t, http.MethodPost, changePath, map[string]interface{}{
			"key": "TotalVolume", "value": 10,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for derived key, got %d", rec.Code)
		}
	})

	t.Run("SessionEventLog", func(t *testing.T) {
		rec := app.request(t, http.MethodGet, "/api/v1/worksheets/"+st.ID.String()+"/events", nil)
		var resp struct {
			Events []ranges.ValidationEvent `json:"events"`
		}
		decodeJSON(t, rec, &resp)
		// confirmed, reverted, reverted (hard), accepted (soft)
		if len(resp.Events) != 4 {
			t.Fatalf("expected 4 session events, got %d", len(resp.Events))
		}
		actions := make([]string, len(resp.Events))
		for i, ev := range resp.Events {
			actions[i] = ev.UserAction
		}
		want := []string{ranges.ActionConfirmed, ranges.ActionReverted, ranges.ActionReverted, ranges.ActionAccepted}
		if !reflect.DeepEqual(actions, want) {
			t.Errorf("unexpected action sequence: %v", actions)
		}

		rec = app.request(t, http.MethodDelete, "/api/v1/worksheets/"+st.ID.String()+"/events", nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("clear events: expected 204, got %d", rec.Code)
		}
		rec = app.request(t, http.MethodGet, "/api/v1/worksheets/"+st.ID.String()+"/events", nil)
		decodeJSON(t, rec, &resp)
		if len(resp.Events) != 0 {
			t.Errorf("expected empty session log after clear, got %d", len(resp.Events))
		}
	})
}

func TestWorksheetTestCaseLoad(t *testing.T) {
	app := newTestApp(t)

	rec := app.request(t, http.MethodPost, "/api/v1/notes", map[string]interface{}{
		"title": "Template under test",
		"segments": []map[string]interface{}{
			{
				"kind":    "dynamic",
				"content": "return formatNumber(getValue('TotalVolume'));",
				"test_cases": []map[string]interface{}{
					{"name": "baseline", "values": map[string]interface{}{
						"DoseWeightKG": 1.5,
						"VolumePerKG":  120,
					}},
				},
			},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create note: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var n notes.Note
	decodeJSON(t, rec, &n)

	st := openWorksheet(t, app, map[string]interface{}{"note_id": n.ID.String()})
	wsPath := "/api/v1/worksheets/" + st.ID.String()

	rec = app.request(t, http.MethodPost, wsPath+"/testcase", map[string]interface{}{
		"segment_id": "seg-0",
		"name":       "baseline",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("load test case: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res worksheet.SetResult
	decodeJSON(t, rec, &res)
	if !reflect.DeepEqual(res.Applied, []string{"DoseWeightKG", "VolumePerKG"}) {
		t.Errorf("unexpected applied keys: %v", res.Applied)
	}

	rec = app.request(t, http.MethodPost, wsPath+"/render", nil)
	var rendered worksheet.RenderResult
	decodeJSON(t, rec, &rendered)
	if rendered.HTML != "180" {
		t.Errorf("expected 1.5 kg at 120 mL/kg to render 180, got %q", rendered.HTML)
	}

	rec = app.request(t, http.MethodPost, wsPath+"/testcase", map[string]interface{}{
		"segment_id": "seg-0",
		"name":       "no-such-case",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown test case: expected 404, got %d", rec.Code)
	}
	rec = app.request(t, http.MethodPost, wsPath+"/testcase", map[string]interface{}{
		"segment_id": "seg-7",
		"name":       "baseline",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown segment: expected 404, got %d", rec.Code)
	}
}

func TestWorksheetSegmentErrorsAreIsolated(t *testing.T) {
	app := newTestApp(t)
	st := openWorksheet(t, app, map[string]interface{}{
		"title": "Partial failure",
		"lines": []string{
			"Header",
			"<%",
			"return missingFunction();",
			"%>",
			"<%",
			"return 'still fine';",
			"%>",
		},
	})
	wsPath := "/api/v1/worksheets/" + st.ID.String()

	rec := app.request(t, http.MethodPost, wsPath+"/render", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("render must not fail the request, got %d", rec.Code)
	}
	var res worksheet.RenderResult
	decodeJSON(t, rec, &res)
	if res.Errors != 1 {
		t.Fatalf("expected 1 segment error, got %d", res.Errors)
	}
	if res.Segments[1].Error == "" || !strings.Contains(res.Segments[1].Output, "[[ERROR:") {
		t.Errorf("expected inline error marker, got %+v", res.Segments[1])
	}
	if res.Segments[2].Output != "still fine" {
		t.Errorf("sibling segment must render, got %+v", res.Segments[2])
	}

	var got worksheet.State
	rec = app.request(t, http.MethodGet, wsPath, nil)
	decodeJSON(t, rec, &got)
	var failed bool
	for _, run := range got.RecentRuns {
		if run.Status == worksheet.RunError && run.SegmentID == "seg-1" {
			failed = true
		}
	}
	if !failed {
		t.Errorf("expected an error run record, got %+v", got.RecentRuns)
	}
}
