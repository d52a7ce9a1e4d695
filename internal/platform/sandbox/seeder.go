// Package sandbox seeds demo TPN data for development and sandbox
// environments: reference ranges, author preferences, custom functions,
// and a worked example note. The content is reproducible and clinically
// plausible, suitable for integration testing and developer on-boarding.
package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/tpn/internal/domain/extensions"
	"github.com/ehr/tpn/internal/domain/notes"
	"github.com/ehr/tpn/internal/domain/params"
	"github.com/ehr/tpn/internal/domain/ranges"
	"github.com/ehr/tpn/internal/platform/auth"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// SeedConfig controls attribution and scope of the seeded demo data.
type SeedConfig struct {
	// User is recorded as the author of seeded notes, preferences, and
	// custom functions.
	User string `json:"user"`
	// IncludeNote controls whether the worked example note and template
	// are created alongside ranges, preferences, and functions.
	IncludeNote bool `json:"includeNote"`
}

// DefaultSeedConfig returns the configuration used for dev-mode startup
// seeding.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		User:        "demo-pharmacist",
		IncludeNote: true,
	}
}

// SeedResult summarizes one seed operation.
type SeedResult struct {
	Ranges      int           `json:"ranges"`
	Preferences int           `json:"preferences"`
	Functions   int           `json:"functions"`
	Notes       int           `json:"notes"`
	Templates   int           `json:"templates"`
	Duration    time.Duration `json:"duration"`
}

// ---------------------------------------------------------------------------
// Demo content
// ---------------------------------------------------------------------------

func f(v float64) *float64 { return &v }

// demoRanges are neonatal TPN thresholds. Feasible bounds block, critical
// bounds require confirmation, normal bounds warn.
var demoRanges = []*ranges.ReferenceRange{
	{
		Key:          "DoseWeightKG",
		FeasibleLow:  f(0.1),
		NormalLow:    f(0.4),
		NormalHigh:   f(20),
		FeasibleHigh: f(250),
	},
	{
		Key:          "VolumePerKG",
		FeasibleLow:  f(0),
		NormalLow:    f(60),
		NormalHigh:   f(150),
		CriticalHigh: f(175),
		FeasibleHigh: f(200),
	},
	{
		Key:          "FatGPerKgPerDay",
		FeasibleLow:  f(0),
		NormalLow:    f(0.5),
		NormalHigh:   f(3),
		CriticalHigh: f(3.5),
		FeasibleHigh: f(4),
	},
	{
		Key:          "ProteinGPerKgPerDay",
		FeasibleLow:  f(0),
		NormalLow:    f(1),
		NormalHigh:   f(3.5),
		CriticalHigh: f(4),
		FeasibleHigh: f(6),
	},
	{
		Key:          "Carbohydrates",
		FeasibleLow:  f(0),
		NormalLow:    f(4),
		NormalHigh:   f(18),
		CriticalHigh: f(22),
		FeasibleHigh: f(30),
	},
	{
		Key:          "InfusionHours",
		FeasibleLow:  f(1),
		NormalLow:    f(8),
		NormalHigh:   f(24),
		FeasibleHigh: f(24),
	},
	{
		Key:          "FatConcentration",
		FeasibleLow:  f(0.05),
		NormalLow:    f(0.1),
		NormalHigh:   f(0.3),
		FeasibleHigh: f(0.5),
	},
}

// demoPreferences are author-scoped render settings read by dynamic
// segments through getPreference.
var demoPreferences = map[string]string{
	"weightUnits":     "kg",
	"volumePrecision": "0",
	"service":         "NICU",
}

// demoFunctions are custom helpers callable from dynamic segments. Energy
// factors: fat 9 kcal/g, dextrose 3.4 kcal/g, amino acids 4 kcal/g.
var demoFunctions = []*extensions.CustomFunction{
	{
		Name:        "fatCalories",
		Params:      []string{"grams"},
		Source:      "grams * 9",
		Description: "Energy from fat, kcal per gram dosed",
	},
	{
		Name:        "dextroseCalories",
		Params:      []string{"grams"},
		Source:      "grams * 3.4",
		Description: "Energy from dextrose, kcal per gram dosed",
	},
	{
		Name:   "dailyCalories",
		Params: []string{"fat", "dex", "protein"},
		Source: "var kcal = fat * 9 + dex * 3.4 + protein * 4;\nreturn kcal;",
		Description: "Total energy across the three macronutrients, " +
			"kcal per kg per day",
	},
}

// demoNoteLines is the worked example in line format, parsed through the
// codec exactly as an imported legacy note would be.
var demoNoteLines = []string{
	"Total Parenteral Nutrition - Daily Assessment",
	"<%",
	"var vol = getValue('TotalVolume');",
	"return 'Total fluid volume: ' + formatNumber(vol, 0) + ' mL/day';",
	"%>",
	"<%",
	"var perKg = dailyCalories(getValue('FatGPerKgPerDay'), getValue('Carbohydrates'), getValue('ProteinGPerKgPerDay'));",
	"return 'Energy intake: ' + formatNumber(perKg, 1) + ' kcal/kg/day';",
	"%>",
	"Reviewed with the nutrition support team.",
}

// demoTestCase exercises the volume segment with a 1.2 kg preemie at
// 150 mL/kg/day.
var demoTestCase = notes.TestCase{
	Name: "preemie-day-3",
	Values: map[string]interface{}{
		"DoseWeightKG": 1.2,
		"VolumePerKG":  150,
	},
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

// Seeder writes demo data through the domain services so every seeded
// record passes the same validation as user input.
type Seeder struct {
	notes  *notes.Service
	params *params.Service
	ranges *ranges.Service
	ext    *extensions.Service
	logger zerolog.Logger

	mu     sync.Mutex
	seeded bool
	last   *SeedResult
}

// NewSeeder returns a Seeder over the given services.
func NewSeeder(n *notes.Service, p *params.Service, r *ranges.Service, e *extensions.Service, logger zerolog.Logger) *Seeder {
	return &Seeder{notes: n, params: p, ranges: r, ext: e, logger: logger}
}

// Seed populates demo data. A second call returns the first result
// without writing again; ranges are upserts, but notes and functions
// would otherwise duplicate.
func (s *Seeder) Seed(ctx context.Context, cfg SeedConfig) (*SeedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seeded {
		return s.last, nil
	}

	start := time.Now()
	result := &SeedResult{}

	for _, def := range demoRanges {
		rr := *def
		if err := s.ranges.UpsertRange(ctx, &rr); err != nil {
			return nil, fmt.Errorf("seed range %s: %w", rr.Key, err)
		}
		result.Ranges++
	}

	for key, value := range demoPreferences {
		if _, err := s.params.SetPreference(ctx, cfg.User, key, value); err != nil {
			return nil, fmt.Errorf("seed preference %s: %w", key, err)
		}
		result.Preferences++
	}

	for _, def := range demoFunctions {
		fn := *def
		fn.Params = append([]string(nil), def.Params...)
		fn.CreatedBy = cfg.User
		if err := s.ext.CreateFunction(ctx, &fn); err != nil {
			return nil, fmt.Errorf("seed function %s: %w", fn.Name, err)
		}
		result.Functions++
	}

	if cfg.IncludeNote {
		n, err := s.notes.ImportNote(ctx, "TPN daily assessment (demo)", "demo-patient-001", cfg.User, demoNoteLines)
		if err != nil {
			return nil, fmt.Errorf("seed note: %w", err)
		}
		for i := range n.Segments {
			if n.Segments[i].Kind == notes.SegmentDynamic {
				n.Segments[i].TestCases = []notes.TestCase{demoTestCase}
				break
			}
		}
		if err := s.notes.UpdateNote(ctx, n); err != nil {
			return nil, fmt.Errorf("seed note test case: %w", err)
		}
		result.Notes++

		tpl := &notes.NoteTemplate{
			Name:      "TPN daily assessment",
			Category:  "parenteral-nutrition",
			Shared:    true,
			Segments:  n.Segments,
			CreatedBy: cfg.User,
		}
		if err := s.notes.CreateTemplate(ctx, tpl); err != nil {
			return nil, fmt.Errorf("seed template: %w", err)
		}
		result.Templates++
	}

	result.Duration = time.Since(start)
	s.seeded = true
	s.last = result

	s.logger.Info().
		Int("ranges", result.Ranges).
		Int("preferences", result.Preferences).
		Int("functions", result.Functions).
		Int("notes", result.Notes).
		Dur("duration", result.Duration).
		Msg("demo data seeded")

	return result, nil
}

// ---------------------------------------------------------------------------
// SeedHandler — Echo HTTP handlers
// ---------------------------------------------------------------------------

// SeedHandler exposes seeding over HTTP for sandbox environments.
type SeedHandler struct {
	seeder *Seeder
}

// NewSeedHandler returns a handler around the given seeder.
func NewSeedHandler(seeder *Seeder) *SeedHandler {
	return &SeedHandler{seeder: seeder}
}

// RegisterRoutes registers sandbox routes on the given Echo group. Seeding
// mutates shared state, so it is restricted to administrators.
func (h *SeedHandler) RegisterRoutes(g *echo.Group) {
	admin := g.Group("", auth.RequireRole("admin"))
	admin.POST("/seed", h.handleSeed)
}

func (h *SeedHandler) handleSeed(c echo.Context) error {
	cfg := DefaultSeedConfig()
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid seed config")
	}
	if cfg.User == "" {
		cfg.User = auth.UserIDFromContext(c.Request().Context())
	}

	result, err := h.seeder.Seed(c.Request().Context(), cfg)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}
