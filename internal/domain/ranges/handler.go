package ranges

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/tpn/internal/platform/auth"
	"github.com/ehr/tpn/internal/platform/db"
	"github.com/ehr/tpn/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist", "dietitian", "nurse"))
	readGroup.GET("/ranges", h.ListRanges)
	readGroup.GET("/ranges/:key", h.GetRange)
	readGroup.POST("/ranges/check", h.CheckValue)
	readGroup.GET("/validation-events", h.ListEvents)

	// Threshold configuration is clinical safety policy; pharmacy owns it.
	writeGroup := api.Group("", auth.RequireRole("admin", "pharmacist"))
	writeGroup.PUT("/ranges/:key", h.PutRange)
	writeGroup.DELETE("/ranges/:key", h.DeleteRange)
}

func (h *Handler) ListRanges(c echo.Context) error {
	specs, err := h.svc.ListRanges(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if specs == nil {
		specs = []*ReferenceRange{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ranges": specs,
	})
}

func (h *Handler) GetRange(c echo.Context) error {
	rr, err := h.svc.GetRange(c.Request().Context(), c.Param("key"))
	if errors.Is(err, ErrRangeNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "reference range not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rr)
}

func (h *Handler) PutRange(c echo.Context) error {
	var rr ReferenceRange
	if err := c.Bind(&rr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rr.Key = c.Param("key")
	if err := h.svc.UpsertRange(c.Request().Context(), &rr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, rr)
}

func (h *Handler) DeleteRange(c echo.Context) error {
	if err := h.svc.DeleteRange(c.Request().Context(), c.Param("key")); err != nil {
		if errors.Is(err, ErrRangeNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "reference range not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type checkRequest struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// CheckValue classifies a value without touching any session state, so
// clients can preview thresholds while the user is still typing.
func (h *Handler) CheckValue(c echo.Context) error {
	var req checkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key is required")
	}
	result, err := h.svc.Check(c.Request().Context(), req.Key, req.Value)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) ListEvents(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := db.ParamsFromQuery(c.QueryParams())
	events, total, err := h.svc.SearchEvents(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(events, total, pg.Limit, pg.Offset))
}
