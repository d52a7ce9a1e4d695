package integration

import (
	"net/http"
	"reflect"
	"sort"
	"testing"

	"github.com/ehr/tpn/internal/domain/params"
)

func TestParameterCatalog(t *testing.T) {
	app := newTestApp(t)

	t.Run("Definitions", func(t *testing.T) {
		rec := app.request(t, http.MethodGet, "/api/v1/params/definitions", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp struct {
			Definitions []params.Definition `json:"definitions"`
			Aliases     map[string]string   `json:"aliases"`
		}
		decodeJSON(t, rec, &resp)

		byKey := map[string]params.Definition{}
		for _, d := range resp.Definitions {
			byKey[d.Key] = d
		}
		dw, ok := byKey["DoseWeightKG"]
		if !ok || dw.Unit != "kg" {
			t.Errorf("expected DoseWeightKG in kg, got %+v", dw)
		}
		if _, ok := byKey["TotalVolume"]; !ok {
			t.Error("expected derived TotalVolume definition")
		}
		if resp.Aliases["fat"] != "FatGPerKgPerDay" {
			t.Errorf("expected alias fat -> FatGPerKgPerDay, got %q", resp.Aliases["fat"])
		}
	})

	t.Run("Derived", func(t *testing.T) {
		rec := app.request(t, http.MethodGet, "/api/v1/params/derived", nil)
		var resp struct {
			Derived []params.DerivedSpec `json:"derived"`
		}
		decodeJSON(t, rec, &resp)
		var total *params.DerivedSpec
		for i := range resp.Derived {
			if resp.Derived[i].Key == "TotalVolume" {
				total = &resp.Derived[i]
			}
		}
		if total == nil {
			t.Fatal("expected TotalVolume in derived specs")
		}
		reqs := append([]string(nil), total.Requires...)
		sort.Strings(reqs)
		if !reflect.DeepEqual(reqs, []string{"DoseWeightKG", "VolumePerKG"}) {
			t.Errorf("unexpected TotalVolume prerequisites: %v", reqs)
		}
	})

	t.Run("Expand", func(t *testing.T) {
		rec := app.request(t, http.MethodPost, "/api/v1/params/expand", map[string]interface{}{
			"keys": []string{"Osmolarity"},
		})
		var resp struct {
			Keys []string `json:"keys"`
		}
		decodeJSON(t, rec, &resp)
		// Osmolarity pulls in the dextrose and amino acid terms, which in
		// turn pull in weight, volume and the macronutrient doses.
		want := map[string]bool{
			"Osmolarity": true, "DexPercent": true, "AminoAcidPercent": true,
			"DoseWeightKG": true, "TotalVolume": true, "VolumePerKG": true,
		}
		got := map[string]bool{}
		for _, k := range resp.Keys {
			got[k] = true
		}
		for k := range want {
			if !got[k] {
				t.Errorf("expected %s in expansion, got %v", k, resp.Keys)
			}
		}
	})

	t.Run("ExpandCanonicalizesAliases", func(t *testing.T) {
		rec := app.request(t, http.MethodPost, "/api/v1/params/expand", map[string]interface{}{
			"keys": []string{"doseweight"},
		})
		var resp struct {
			Keys []string `json:"keys"`
		}
		decodeJSON(t, rec, &resp)
		if !reflect.DeepEqual(resp.Keys, []string{"DoseWeightKG"}) {
			t.Errorf("expected alias to canonicalize, got %v", resp.Keys)
		}
	})
}

func TestPreferenceRoundTrip(t *testing.T) {
	app := newTestApp(t)

	rec := app.request(t, http.MethodPut, "/api/v1/preferences/weightUnits", map[string]interface{}{
		"value": "kg",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put preference: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var pref params.Preference
	decodeJSON(t, rec, &pref)
	if pref.UserID != "dev-user" || pref.Key != "weightUnits" || pref.Value != "kg" {
		t.Errorf("unexpected preference: %+v", pref)
	}

	rec = app.request(t, http.MethodPut, "/api/v1/preferences/weightUnits", map[string]interface{}{
		"value": "lb",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("overwrite preference: expected 200, got %d", rec.Code)
	}

	rec = app.request(t, http.MethodGet, "/api/v1/preferences", nil)
	var resp struct {
		Preferences []params.Preference `json:"preferences"`
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Preferences) != 1 {
		t.Fatalf("expected a single preference after overwrite, got %d", len(resp.Preferences))
	}
	if resp.Preferences[0].Value != "lb" {
		t.Errorf("expected overwritten value lb, got %q", resp.Preferences[0].Value)
	}

	rec = app.request(t, http.MethodDelete, "/api/v1/preferences/weightUnits", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete preference: expected 204, got %d", rec.Code)
	}
	rec = app.request(t, http.MethodDelete, "/api/v1/preferences/weightUnits", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete missing preference: expected 404, got %d", rec.Code)
	}
}

func TestPreferencesAreScopedToUser(t *testing.T) {
	app := newJWTApp(t)
	alice := signToken(t, "alice", "Alice Moreau", "physician")
	bob := signToken(t, "bob", "Bob Chen", "pharmacist")

	rec := app.tokenRequest(t, http.MethodPut, "/api/v1/preferences/service", alice, map[string]interface{}{
		"value": "NICU",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Preferences []params.Preference `json:"preferences"`
	}
	rec = app.tokenRequest(t, http.MethodGet, "/api/v1/preferences", bob, nil)
	decodeJSON(t, rec, &resp)
	if len(resp.Preferences) != 0 {
		t.Errorf("bob should not see alice's preferences, got %+v", resp.Preferences)
	}

	rec = app.tokenRequest(t, http.MethodGet, "/api/v1/preferences", alice, nil)
	decodeJSON(t, rec, &resp)
	if len(resp.Preferences) != 1 || resp.Preferences[0].Value != "NICU" {
		t.Errorf("alice should see her preference, got %+v", resp.Preferences)
	}
}
