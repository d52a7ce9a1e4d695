package integration

import (
	"net/http"
	"testing"

	"github.com/ehr/tpn/internal/domain/ranges"
)

// volumeRange is the three-tier spec used across the validation tests:
// normal 60-150, critical up to 175, feasible up to 200 mL/kg/day.
func volumeRange() map[string]interface{} {
	return map[string]interface{}{
		"feasible_low":  0,
		"critical_low":  40,
		"normal_low":    60,
		"normal_high":   150,
		"critical_high": 175,
		"feasible_high": 200,
	}
}

func putVolumeRange(t *testing.T, app *testApp) {
	t.Helper()
	rec := app.request(t, http.MethodPut, "/api/v1/ranges/VolumePerKG", volumeRange())
	if rec.Code != http.StatusOK {
		t.Fatalf("put range: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRangeAdministration(t *testing.T) {
	app := newTestApp(t)
	putVolumeRange(t, app)

	t.Run("Get", func(t *testing.T) {
		rec := app.request(t, http.MethodGet, "/api/v1/ranges/VolumePerKG", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var rr ranges.ReferenceRange
		decodeJSON(t, rec, &rr)
		if rr.Key != "VolumePerKG" {
			t.Errorf("expected canonical key, got %q", rr.Key)
		}
		if rr.NormalHigh == nil || *rr.NormalHigh != 150 {
			t.Errorf("unexpected normal high: %+v", rr.NormalHigh)
		}
	})

	t.Run("GetByAlias", func(t *testing.T) {
		// Range reads canonicalize, so legacy spellings find the spec.
		rec := app.request(t, http.MethodGet, "/api/v1/ranges/volumeperkg", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("expected case-insensitive lookup to succeed, got %d", rec.Code)
		}
	})

	t.Run("List", func(t *testing.T) {
		rec := app.request(t, http.MethodGet, "/api/v1/ranges", nil)
		var resp struct {
			Ranges []ranges.ReferenceRange `json:"ranges"`
		}
		decodeJSON(t, rec, &resp)
		if len(resp.Ranges) != 1 {
			t.Errorf("expected 1 range, got %d", len(resp.Ranges))
		}
	})

	t.Run("RejectsUnknownKey", func(t *testing.T) {
		rec := app.request(t, http.MethodPut, "/api/v1/ranges/NotAParameter", volumeRange())
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for unknown key, got %d", rec.Code)
		}
	})

	t.Run("RejectsMisorderedThresholds", func(t *testing.T) {
		rec := app.request(t, http.MethodPut, "/api/v1/ranges/DoseWeightKG", map[string]interface{}{
			"normal_low":  10,
			"normal_high": 5,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for misordered spec, got %d", rec.Code)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rec := app.request(t, http.MethodDelete, "/api/v1/ranges/VolumePerKG", nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		rec = app.request(t, http.MethodGet, "/api/v1/ranges/VolumePerKG", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 after delete, got %d", rec.Code)
		}
		rec = app.request(t, http.MethodDelete, "/api/v1/ranges/VolumePerKG", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 deleting a missing range, got %d", rec.Code)
		}
	})
}

func TestRangeWritesRequirePharmacyRole(t *testing.T) {
	app := newJWTApp(t)
	nurse := signToken(t, "nurse-1", "Nina Okafor", "nurse")
	pharmacist := signToken(t, "rx-1", "Priya Shah", "pharmacist")

	rec := app.tokenRequest(t, http.MethodPut, "/api/v1/ranges/VolumePerKG", nurse, volumeRange())
	if rec.Code != http.StatusForbidden {
		t.Errorf("nurse PUT: expected 403, got %d", rec.Code)
	}

	rec = app.tokenRequest(t, http.MethodPut, "/api/v1/ranges/VolumePerKG", pharmacist, volumeRange())
	if rec.Code != http.StatusOK {
		t.Errorf("pharmacist PUT: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = app.tokenRequest(t, http.MethodGet, "/api/v1/ranges/VolumePerKG", nurse, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("nurse GET: expected 200, got %d", rec.Code)
	}

	rec = app.tokenRequest(t, http.MethodDelete, "/api/v1/ranges/VolumePerKG", nurse, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("nurse DELETE: expected 403, got %d", rec.Code)
	}
}

func TestCheckValueClassification(t *testing.T) {
	app := newTestApp(t)
	putVolumeRange(t, app)

	cases := []struct {
		name      string
		value     float64
		status    string
		severity  string
		threshold string
	}{
		{"InNormalRange", 100, ranges.StatusValid, "", ""},
		{"OnNormalBound", 150, ranges.StatusValid, "", ""},
		{"AboveNormal", 160, ranges.StatusViolation, ranges.SeveritySoft, ranges.ThresholdNormalHigh},
		{"AboveCritical", 185, ranges.StatusViolation, ranges.SeverityFirm, ranges.ThresholdCriticalHigh},
		{"AboveFeasible", 250, ranges.StatusViolation, ranges.SeverityHard, ranges.ThresholdFeasibleHigh},
		{"BelowNormal", 50, ranges.StatusViolation, ranges.SeveritySoft, ranges.ThresholdNormalLow},
		{"BelowCritical", 30, ranges.StatusViolation, ranges.SeverityFirm, ranges.ThresholdCriticalLow},
		{"BelowFeasible", -5, ranges.StatusViolation, ranges.SeverityHard, ranges.ThresholdFeasibleLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := app.request(t, http.MethodPost, "/api/v1/ranges/check", map[string]interface{}{
				"key":   "VolumePerKG",
				"value": tc.value,
			})
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			var result ranges.CheckResult
			decodeJSON(t, rec, &result)
			if result.Status != tc.status || result.Severity != tc.severity || result.Threshold != tc.threshold {
				t.Errorf("value %v: got %+v, want status=%s severity=%s threshold=%s",
					tc.value, result, tc.status, tc.severity, tc.threshold)
			}
			if tc.status == ranges.StatusViolation && result.Message == "" {
				t.Error("expected a violation message")
			}
		})
	}

	t.Run("UnconfiguredKeyIsValid", func(t *testing.T) {
		rec := app.request(t, http.MethodPost, "/api/v1/ranges/check", map[string]interface{}{
			"key":   "InfusionHours",
			"value": 9999,
		})
		var result ranges.CheckResult
		decodeJSON(t, rec, &result)
		if result.Status != ranges.StatusValid {
			t.Errorf("expected valid for key without a range, got %+v", result)
		}
	})
}

// TestValidationEventTrail drives violations through a worksheet session
// and reads them back from the durable audit endpoint.
func TestValidationEventTrail(t *testing.T) {
	app := newTestApp(t)
	putVolumeRange(t, app)

	rec := app.request(t, http.MethodPost, "/api/v1/worksheets", map[string]interface{}{
		"title": "Audit trail session",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open worksheet: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var st struct {
		ID string `json:"id"`
	}
	decodeJSON(t, rec, &st)

	// Soft (160), then firm continued by the batch path (185).
	rec = app.request(t, http.MethodPost, "/api/v1/worksheets/"+st.ID+"/values", map[string]interface{}{
		"values": map[string]interface{}{"VolumePerKG": 160},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set values: expected 200, got %d", rec.Code)
	}
	rec = app.request(t, http.MethodPost, "/api/v1/worksheets/"+st.ID+"/values", map[string]interface{}{
		"values": map[string]interface{}{"VolumePerKG": 185},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set values: expected 200, got %d", rec.Code)
	}

	var resp struct {
		Data  []ranges.ValidationEvent `json:"data"`
		Total int                      `json:"total"`
	}
	rec = app.request(t, http.MethodGet, "/api/v1/validation-events?session_id="+st.ID, nil)
	decodeJSON(t, rec, &resp)
	if resp.Total != 2 {
		t.Fatalf("expected 2 audit events, got %d", resp.Total)
	}
	for _, ev := range resp.Data {
		if ev.SessionID != st.ID {
			t.Errorf("event not stamped with session id: %+v", ev)
		}
		if ev.UserID != "dev-user" {
			t.Errorf("event not stamped with user id: %+v", ev)
		}
		if ev.Key != "VolumePerKG" {
			t.Errorf("unexpected event key: %q", ev.Key)
		}
	}

	rec = app.request(t, http.MethodGet, "/api/v1/validation-events?session_id="+st.ID+"&severity=firm", nil)
	decodeJSON(t, rec, &resp)
	if resp.Total != 1 {
		t.Fatalf("expected 1 firm event, got %d", resp.Total)
	}
	ev := resp.Data[0]
	if ev.EnteredValue != 185 || ev.AcceptedValue != 185 {
		t.Errorf("firm event values: %+v", ev)
	}
	if ev.UserAction != ranges.ActionContinued {
		t.Errorf("expected batch firm violations recorded as continued, got %q", ev.UserAction)
	}
}
