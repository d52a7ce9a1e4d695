package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func applyHeaders(t *testing.T, method string, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, "/api/v1/worksheets", nil)
	rec := httptest.NewRecorder()
	return rec, SecurityHeaders()(handler)(e.NewContext(req, rec))
}

func TestSecurityHeaders_Values(t *testing.T) {
	rec, err := applyHeaders(t, http.MethodGet, func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := [][2]string{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"X-XSS-Protection", "0"},
		{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
		{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
		{"Referrer-Policy", "no-referrer"},
		{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
		{"Cache-Control", "no-store"},
	}
	for _, tc := range cases {
		if got := rec.Header().Get(tc[0]); got != tc[1] {
			t.Errorf("%s = %q, want %q", tc[0], got, tc[1])
		}
	}
}

func TestSecurityHeaders_HandlerStillRuns(t *testing.T) {
	rec, err := applyHeaders(t, http.MethodPost, func(c echo.Context) error {
		return c.String(http.StatusCreated, "created")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated || rec.Body.String() != "created" {
		t.Fatalf("response = %d %q", rec.Code, rec.Body.String())
	}
}

func TestSecurityHeaders_SetBeforeHandlerError(t *testing.T) {
	rec, err := applyHeaders(t, http.MethodGet, func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})

	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("err = %v, want a 404 HTTPError", err)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("headers must be written even when the handler errors")
	}
}
