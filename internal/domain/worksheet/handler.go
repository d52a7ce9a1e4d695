package worksheet

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/tpn/internal/domain/notes"
	"github.com/ehr/tpn/internal/domain/ranges"
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
	readGroup.GET("/worksheets", h.List)
	readGroup.GET("/worksheets/:id", h.State)
	readGroup.POST("/worksheets/:id/render", h.Render)
	readGroup.POST("/worksheets/:id/render/:segment", h.Render)
	readGroup.GET("/worksheets/:id/deps", h.Deps)
	readGroup.GET("/worksheets/:id/events", h.Events)

	writeGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist", "dietitian"))
	writeGroup.POST("/worksheets", h.Open)
	writeGroup.POST("/worksheets/:id/values", h.SetValues)
	writeGroup.POST("/worksheets/:id/change", h.Change)
	writeGroup.POST("/worksheets/:id/testcase", h.LoadTestCase)
	writeGroup.DELETE("/worksheets/:id/events", h.ClearEvents)
	writeGroup.DELETE("/worksheets/:id", h.Close)
}

func worksheetID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid worksheet id")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "worksheet not found")
	case errors.Is(err, ErrSegmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "segment not found")
	case errors.Is(err, ErrTestCaseNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "test case not found")
	case errors.Is(err, notes.ErrNoteNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "note not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) Open(c echo.Context) error {
	var req OpenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	st, err := h.svc.Open(ctx, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *Handler) List(c echo.Context) error {
	sheets := h.svc.List(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]interface{}{
		"worksheets": sheets,
	})
}

func (h *Handler) State(c echo.Context) error {
	id, err := worksheetID(c)
	if err != nil {
		return err
	}
	st, err := h.svc.State(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

type setValuesRequest struct {
	Values map[string]interface{} `json:"values"`
}

func (h *Handler) SetValues(c echo.Context) error {
	id, err := worksheetID(c)
	if err != nil {
		return err
	}
	var req setValuesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Values == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "values is required")
	}
	ctx := c.Request().Context()
	res, err := h.svc.SetValues(ctx, id, req.Values, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Change(c echo.Context) error {
	id, err := worksheetID(c)
	if err != nil {
		return err
	}
	var req ChangeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	res, err := h.svc.ApplyChange(ctx, id, req, auth.UserIDFromContext(ctx))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "worksheet not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Render(c echo.Context) error {
	id, err := worksheetID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Render(c.Request().Context(), id, c.Param("segment"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Deps(c echo.Context) error {
	id, err := worksheetID(c)
	if err != nil {
		return err
	}
	report, err := h.svc.Deps(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

type testCaseRequest struct {
	SegmentID string `json:"segment_id"`
	Name      string `json:"name"`
}

// LoadTestCase fills the worksheet from a named test case on one of its
// dynamic segments, so authors can exercise a template against known
// inputs without typing them.
func (h *Handler) LoadTestCase(c echo.Context) error {
	id, err := worksheetID(c)
	if err != nil {
		return err
	}
	var req testCaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SegmentID == "" || req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "segment_id and name are required")
	}
	ctx := c.Request().Context()
	res, err := h.svc.LoadTestCase(ctx, id, req.SegmentID, req.Name, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Events(c echo.Context) error {
	id, err := worksheetID(c)
	if err != nil {
		return err
	}
	events, err := h.svc.Events(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if events == nil {
		events = []*ranges.ValidationEvent{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
	})
}

func (h *Handler) ClearEvents(c echo.Context) error {
	id, err := worksheetID(c)
	if err != nil {
		return err
	}
	if err := h.svc.ClearEvents(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Close(c echo.Context) error {
	id, err := worksheetID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Close(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
