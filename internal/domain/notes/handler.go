package notes

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
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
	// Read endpoints: every clinical role
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist", "dietitian", "nurse"))
	readGroup.GET("/notes", h.ListNotes)
	readGroup.GET("/notes/:id", h.GetNote)
	readGroup.GET("/notes/:id/export", h.ExportNote)
	readGroup.POST("/notes/parse", h.ParseLines)
	readGroup.GET("/templates", h.ListTemplates)
	readGroup.GET("/templates/:id", h.GetTemplate)

	// Write endpoints: documenting roles only
	writeGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist", "dietitian"))
	writeGroup.POST("/notes", h.CreateNote)
	writeGroup.PUT("/notes/:id", h.UpdateNote)
	writeGroup.DELETE("/notes/:id", h.DeleteNote)
	writeGroup.POST("/notes/import", h.ImportNote)
	writeGroup.POST("/templates", h.CreateTemplate)
	writeGroup.PUT("/templates/:id", h.UpdateTemplate)
	writeGroup.DELETE("/templates/:id", h.DeleteTemplate)
}

// -- Note Handlers --

func (h *Handler) CreateNote(c echo.Context) error {
	var n Note
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n.CreatedBy = auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.CreateNote(c.Request().Context(), &n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) GetNote(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	n, err := h.svc.GetNote(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "note not found")
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) ListNotes(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := db.ParamsFromQuery(c.QueryParams())
	items, total, err := h.svc.SearchNotes(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateNote(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var n Note
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n.ID = id
	if err := h.svc.UpdateNote(c.Request().Context(), &n); err != nil {
		if errors.Is(err, ErrNoteNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "note not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) DeleteNote(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteNote(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "note not found")
	}
	return c.NoContent(http.StatusNoContent)
}

type importRequest struct {
	Title     string   `json:"title"`
	PatientID string   `json:"patient_id"`
	Lines     []string `json:"lines"`
}

// ImportNote accepts the legacy flat line format and stores the parsed
// segment list as a new draft note.
func (h *Handler) ImportNote(c echo.Context) error {
	var req importRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := auth.UserIDFromContext(c.Request().Context())
	n, err := h.svc.ImportNote(c.Request().Context(), req.Title, req.PatientID, userID, req.Lines)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) ExportNote(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	lines, err := h.svc.ExportLines(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "note not found")
	}
	if lines == nil {
		lines = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"lines": lines})
}

type parseRequest struct {
	Lines []string `json:"lines"`
}

// ParseLines previews how raw lines split into segments without storing
// anything.
func (h *Handler) ParseLines(c echo.Context) error {
	var req parseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	segs := Parse(req.Lines)
	if segs == nil {
		segs = []Segment{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"segments": segs})
}

// -- Template Handlers --

func (h *Handler) CreateTemplate(c echo.Context) error {
	var t NoteTemplate
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.CreatedBy = auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.CreateTemplate(c.Request().Context(), &t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTemplate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetTemplate(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "template not found")
	}
	if !h.canSee(c, t) {
		return echo.NewHTTPError(http.StatusNotFound, "template not found")
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTemplates(c echo.Context) error {
	pg := pagination.FromContext(c)
	userID := auth.UserIDFromContext(c.Request().Context())
	items, total, err := h.svc.ListTemplates(c.Request().Context(), userID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateTemplate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	existing, err := h.svc.GetTemplate(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "template not found")
	}
	if !h.canEdit(c, existing) {
		return echo.NewHTTPError(http.StatusForbidden, "not the template owner")
	}
	var t NoteTemplate
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.ID = id
	if err := h.svc.UpdateTemplate(c.Request().Context(), &t); err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "template not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTemplate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	existing, err := h.svc.GetTemplate(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "template not found")
	}
	if !h.canEdit(c, existing) {
		return echo.NewHTTPError(http.StatusForbidden, "not the template owner")
	}
	if err := h.svc.DeleteTemplate(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "template not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// canSee: shared templates are visible to everyone, private ones to the
// owner and admins.
func (h *Handler) canSee(c echo.Context, t *NoteTemplate) bool {
	if t.Shared {
		return true
	}
	return h.canEdit(c, t)
}

// canEdit: the owner and admins.
func (h *Handler) canEdit(c echo.Context, t *NoteTemplate) bool {
	ctx := c.Request().Context()
	if t.CreatedBy == auth.UserIDFromContext(ctx) {
		return true
	}
	for _, role := range auth.RolesFromContext(ctx) {
		if role == "admin" {
			return true
		}
	}
	return false
}
