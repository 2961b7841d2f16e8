package cognitive

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"

	"github.com/alzheon/alzheon/internal/domain/identity"
	"github.com/alzheon/alzheon/internal/platform/auth"
	"github.com/alzheon/alzheon/internal/platform/blobstore"
	"github.com/alzheon/alzheon/pkg/pagination"
)

type Handler struct {
	svc   *Service
	subs  *SubmissionService
	blobs blobstore.BlobStore
}

func NewHandler(svc *Service, subs *SubmissionService, blobs blobstore.BlobStore) *Handler {
	return &Handler{svc: svc, subs: subs, blobs: blobs}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctorOnly := auth.RequireRole(identity.RoleMedico)

	api.POST("/tests/templates", h.CreateTemplate, doctorOnly)
	api.GET("/tests/templates", h.ListTemplates)
	api.GET("/tests/templates/:id", h.GetTemplate)

	api.POST("/asignaciones", h.CreateAssignment, doctorOnly)
	api.GET("/asignaciones", h.ListAssignments)
	api.GET("/asignaciones/:id", h.GetAssignment)

	api.POST("/asignaciones/:id/submissions", h.Submit)
	api.GET("/asignaciones/:id/submissions", h.ListSubmissions)
	api.GET("/submissions/:id", h.GetSubmission)
	api.GET("/submissions/:id/archivo", h.DownloadFile)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, blobstore.ErrMissingFileName),
		errors.Is(err, blobstore.ErrEmptyFile):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	}
	return err
}

func userID(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

// -- Templates --

func (h *Handler) CreateTemplate(c echo.Context) error {
	var in CreateTemplateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, err := h.svc.CreateTemplate(c.Request().Context(), userID(c), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListTemplates(c echo.Context) error {
	p := pagination.FromContext(c)
	list, total, err := h.svc.ListTemplates(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, p))
}

func (h *Handler) GetTemplate(c echo.Context) error {
	t, err := h.svc.GetTemplate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

// -- Assignments --

func (h *Handler) CreateAssignment(c echo.Context) error {
	var in CreateAssignmentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.CreateAssignment(c.Request().Context(), userID(c), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListAssignments(c echo.Context) error {
	p := pagination.FromContext(c)
	list, total, err := h.svc.ListAssignments(c.Request().Context(), userID(c), c.QueryParam("estado"), p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, p))
}

func (h *Handler) GetAssignment(c echo.Context) error {
	a, err := h.svc.GetAssignment(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- Submissions --

// uploadContentType trusts the part header unless it is missing or generic,
// then falls back to the file extension.
func uploadContentType(header, fileName string) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "application/octet-stream" {
		return mt
	}
	if mt, _, err := mime.ParseMediaType(mime.TypeByExtension(filepath.Ext(fileName))); err == nil {
		return mt
	}
	return "application/octet-stream"
}

func (h *Handler) Submit(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to open uploaded file")
	}
	defer src.Close()

	res, err := h.subs.Submit(c.Request().Context(), SubmitInput{
		AssignmentID: c.Param("id"),
		UploaderID:   userID(c),
		FileName:     file.Filename,
		ContentType:  uploadContentType(file.Header.Get(echo.HeaderContentType), file.Filename),
		Content:      src,
		Notas:        c.FormValue("notas"),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListSubmissions(c echo.Context) error {
	list, err := h.subs.ListByAssignment(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) GetSubmission(c echo.Context) error {
	sub, err := h.subs.Get(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) DownloadFile(c echo.Context) error {
	sub, err := h.subs.Get(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return blobstore.Serve(c, h.blobs, sub.Archivo.BlobID)
}
