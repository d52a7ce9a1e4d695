package extensions

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
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
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist", "dietitian", "nurse"))
	readGroup.GET("/functions", h.ListFunctions)
	readGroup.GET("/functions/:id", h.GetFunction)
	readGroup.POST("/functions/validate", h.ValidateFunction)

	writeGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist", "dietitian"))
	writeGroup.POST("/functions", h.CreateFunction)
	writeGroup.PUT("/functions/:id", h.UpdateFunction)
	writeGroup.DELETE("/functions/:id", h.DeleteFunction)
}

func (h *Handler) ListFunctions(c echo.Context) error {
	fns, err := h.svc.ListFunctions(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if fns == nil {
		fns = []*CustomFunction{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"functions": fns,
	})
}

func (h *Handler) GetFunction(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	fn, err := h.svc.GetFunction(c.Request().Context(), id)
	if errors.Is(err, ErrFunctionNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "custom function not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, fn)
}

func (h *Handler) CreateFunction(c echo.Context) error {
	var fn CustomFunction
	if err := c.Bind(&fn); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	fn.CreatedBy = auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.CreateFunction(c.Request().Context(), &fn); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, fn)
}

func (h *Handler) UpdateFunction(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var fn CustomFunction
	if err := c.Bind(&fn); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	fn.ID = id
	if err := h.svc.UpdateFunction(c.Request().Context(), &fn); err != nil {
		if errors.Is(err, ErrFunctionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "custom function not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, fn)
}

func (h *Handler) DeleteFunction(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteFunction(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrFunctionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "custom function not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type validateRequest struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
	Source string   `json:"source"`
}

type validateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ValidateFunction compiles a function without saving it, so editors can
// check a draft while the author is still typing.
func (h *Handler) ValidateFunction(c echo.Context) error {
	var req validateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Validate(req.Name, req.Params, req.Source); err != nil {
		return c.JSON(http.StatusOK, validateResponse{Valid: false, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, validateResponse{Valid: true})
}
