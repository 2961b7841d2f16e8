package identity

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/alzheon/alzheon/internal/platform/auth"
)

type Handler struct {
	svc          *Service
	issuer       *auth.TokenIssuer
	cookieSecure bool
}

func NewHandler(svc *Service, issuer *auth.TokenIssuer, cookieSecure bool) *Handler {
	return &Handler{svc: svc, issuer: issuer, cookieSecure: cookieSecure}
}

// RegisterRoutes mounts the auth and usuarios routes on api. limiter guards
// the credential endpoints and may be nil.
func (h *Handler) RegisterRoutes(api *echo.Group, limiter echo.MiddlewareFunc) {
	var credMW []echo.MiddlewareFunc
	if limiter != nil {
		credMW = append(credMW, limiter)
	}
	api.POST("/auth/register", h.Register, credMW...)
	api.POST("/auth/login", h.Login, credMW...)
	api.POST("/auth/logout", h.Logout)
	api.GET("/auth/me", h.Me)

	doctorOnly := auth.RequireRole(RoleMedico)
	api.GET("/usuarios/pacientes", h.ListAssignedPatients, doctorOnly)
	api.POST("/usuarios/pacientes/:id", h.AssignPatient, doctorOnly)

	caregiverOnly := auth.RequireRole(RoleCuidador)
	api.POST("/usuarios/cuidador/paciente/:id", h.LinkCaregiver, caregiverOnly)
	api.GET("/usuarios/paciente-asociado", h.LinkedPatient, caregiverOnly)
}

type sessionResponse struct {
	Usuario *User  `json:"usuario"`
	Token   string `json:"token"`
}

// httpError maps service errors to HTTP errors. Anything unrecognised is
// returned as is for echo's error handler.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEmailTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return err
}

func (h *Handler) startSession(c echo.Context, status int, u *User) error {
	token, exp, err := h.issuer.Issue(u.ID, u.Rol)
	if err != nil {
		return err
	}
	auth.SetSessionCookie(c, token, exp, h.cookieSecure)
	return c.JSON(status, sessionResponse{Usuario: u, Token: token})
}

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.Register(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return h.startSession(c, http.StatusCreated, u)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return httpError(err)
	}
	return h.startSession(c, http.StatusOK, u)
}

func (h *Handler) Logout(c echo.Context) error {
	auth.ClearSessionCookie(c, h.cookieSecure)
	return c.JSON(http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) Me(c echo.Context) error {
	u, err := h.svc.GetUser(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListAssignedPatients(c echo.Context) error {
	patients, err := h.svc.AssignedPatients(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) AssignPatient(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.svc.AssignPatient(ctx, auth.UserIDFromContext(ctx), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "patient assigned"})
}

func (h *Handler) LinkCaregiver(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.svc.LinkCaregiver(ctx, auth.UserIDFromContext(ctx), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "patient linked"})
}

func (h *Handler) LinkedPatient(c echo.Context) error {
	ctx := c.Request().Context()
	u, err := h.svc.LinkedPatient(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}
