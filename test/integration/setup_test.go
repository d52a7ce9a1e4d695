// Package integration exercises the server end to end: real echo routing,
// the full middleware chain, and the in-memory repositories, driven over
// HTTP exactly as a client would. No external services are required.
package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/tpn/internal/domain/extensions"
	"github.com/ehr/tpn/internal/domain/notes"
	"github.com/ehr/tpn/internal/domain/params"
	"github.com/ehr/tpn/internal/domain/ranges"
	"github.com/ehr/tpn/internal/domain/worksheet"
	"github.com/ehr/tpn/internal/platform/auth"
	"github.com/ehr/tpn/internal/platform/middleware"
	"github.com/ehr/tpn/internal/platform/sandbox"
	"github.com/ehr/tpn/internal/platform/script"
	"github.com/ehr/tpn/internal/platform/telemetry"
	"github.com/ehr/tpn/internal/platform/websocket"
)

// testSigningKey signs tokens for the JWT-mode app. 32+ bytes to match
// what production configuration validation would accept.
const testSigningKey = "integration-test-signing-key-0123456789"

// testApp is a fully wired server instance backed by in-memory
// repositories. The exported services let tests reach behind the HTTP
// surface when an assertion needs internal state, such as hub
// subscription counts.
type testApp struct {
	e       *echo.Echo
	hub     *websocket.Hub
	metrics *telemetry.Provider
	cache   *script.Cache
	seeder  *sandbox.Seeder
}

type appConfig struct {
	auth      echo.MiddlewareFunc
	rateLimit middleware.RateLimitConfig
}

// newTestApp builds an app in dev-auth mode: unauthenticated requests
// act as the admin dev-user, mirroring a development deployment.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	return buildApp(t, appConfig{})
}

// newJWTApp builds an app that requires signed bearer tokens, for tests
// that need distinct identities or role enforcement.
func newJWTApp(t *testing.T) *testApp {
	t.Helper()
	return buildApp(t, appConfig{
		auth: auth.JWTMiddleware(auth.JWTConfig{SigningKey: []byte(testSigningKey)}),
	})
}

// buildApp mirrors the server entrypoint wiring with in-memory
// repositories and a no-op logger.
func buildApp(t *testing.T, cfg appConfig) *testApp {
	t.Helper()

	if cfg.auth == nil {
		cfg.auth = auth.DevAuthMiddleware()
	}
	if cfg.rateLimit.RequestsPerSecond == 0 {
		cfg.rateLimit = middleware.DefaultRateLimitConfig()
	}
	logger := zerolog.Nop()

	catalog := params.DefaultCatalog()
	cache := script.NewCache(64)
	engine := script.New(
		script.WithTimeout(2*time.Second),
		script.WithMaxSteps(100000),
		script.WithPrecision(2),
		script.WithCache(cache),
	)

	noteSvc := notes.NewService(notes.NewNoteRepoMem(), notes.NewTemplateRepoMem())
	paramSvc := params.NewService(catalog, params.NewPreferenceRepoMem())
	rangeSvc := ranges.NewService(catalog, ranges.NewRangeRepoMem(), ranges.NewEventRepoMem())
	extSvc := extensions.NewService(extensions.NewFunctionRepoMem(), engine)

	metrics := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "tpn-server",
		ServiceVersion: "test",
		Environment:    "test",
	})
	hub := websocket.NewHub()

	sheetSvc := worksheet.NewService(worksheet.Deps{
		Registry:  worksheet.NewRegistry(0),
		Engine:    engine,
		Notes:     noteSvc,
		Params:    paramSvc,
		Ranges:    rangeSvc,
		Functions: extSvc,
		Publisher: hub,
		Metrics:   metrics,
	})
	seeder := sandbox.NewSeeder(noteSvc, paramSvc, rangeSvc, extSvc, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize())
	e.Use(middleware.RequestTimeout(5 * time.Second))
	e.Use(echomw.BodyLimit("2M"))
	e.Use(metrics.MetricsMiddleware())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": "test"})
	})
	prom := metrics.PrometheusHandler()
	e.GET("/metrics", func(c echo.Context) error {
		stats := cache.Stats()
		metrics.SetCounter(telemetry.MetricCacheHits, stats.Hits)
		metrics.SetCounter(telemetry.MetricCacheMisses, stats.Misses)
		return prom(c)
	})

	apiV1 := e.Group("/api/v1", cfg.auth)
	apiV1.Use(middleware.RateLimit(cfg.rateLimit))

	notes.NewHandler(noteSvc).RegisterRoutes(apiV1)
	params.NewHandler(paramSvc).RegisterRoutes(apiV1)
	ranges.NewHandler(rangeSvc).RegisterRoutes(apiV1)
	extensions.NewHandler(extSvc).RegisterRoutes(apiV1)
	worksheet.NewHandler(sheetSvc).RegisterRoutes(apiV1)
	sandbox.NewSeedHandler(seeder).RegisterRoutes(apiV1.Group("/sandbox"))
	websocket.NewHandler(hub).RegisterRoutes(e.Group("", cfg.auth))

	return &testApp{e: e, hub: hub, metrics: metrics, cache: cache, seeder: seeder}
}

// request performs one in-process HTTP round trip. A non-nil body is
// marshaled to JSON.
func (a *testApp) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return a.tokenRequest(t, method, path, "", body)
}

// tokenRequest is request with a bearer token attached.
func (a *testApp) tokenRequest(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

// decodeJSON unmarshals a response body, failing the test on error.
func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// signToken issues an HS256 token for the JWT-mode app.
func signToken(t *testing.T, sub, name string, roles ...string) string {
	t.Helper()
	return signTokenExpiring(t, sub, name, time.Hour, roles...)
}

func signTokenExpiring(t *testing.T, sub, name string, ttl time.Duration, roles ...string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Name:  name,
		Roles: roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func ptrFloat(f float64) *float64 { return &f }
