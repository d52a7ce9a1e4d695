package params

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/tpn/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Catalog endpoints: every clinical role that can open a worksheet
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist", "dietitian", "nurse"))
	readGroup.GET("/params/definitions", h.ListDefinitions)
	readGroup.GET("/params/derived", h.ListDerived)
	readGroup.POST("/params/expand", h.ExpandKeys)

	// Preferences are scoped to the authenticated user
	readGroup.GET("/preferences", h.ListPreferences)
	readGroup.PUT("/preferences/:key", h.PutPreference)
	readGroup.DELETE("/preferences/:key", h.DeletePreference)
}

// -- Catalog Handlers --

func (h *Handler) ListDefinitions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"definitions": h.svc.Definitions(),
		"aliases":     h.svc.Aliases(),
	})
}

func (h *Handler) ListDerived(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"derived": h.svc.DerivedSpecs(),
	})
}

type expandRequest struct {
	Keys []string `json:"keys"`
}

// ExpandKeys returns the dependency closure of the posted keys.
func (h *Handler) ExpandKeys(c echo.Context) error {
	var req expandRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"keys": h.svc.Expand(req.Keys),
	})
}

// -- Preference Handlers --

func (h *Handler) ListPreferences(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no authenticated user")
	}
	prefs, err := h.svc.Preferences(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if prefs == nil {
		prefs = []*Preference{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"preferences": prefs,
	})
}

type putPreferenceRequest struct {
	Value string `json:"value"`
}

func (h *Handler) PutPreference(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no authenticated user")
	}
	var req putPreferenceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pref, err := h.svc.SetPreference(c.Request().Context(), userID, c.Param("key"), req.Value)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pref)
}

func (h *Handler) DeletePreference(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no authenticated user")
	}
	if err := h.svc.DeletePreference(c.Request().Context(), userID, c.Param("key")); err != nil {
		if errors.Is(err, ErrPreferenceNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "preference not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
