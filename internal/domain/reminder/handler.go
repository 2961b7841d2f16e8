package reminder

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/alzheon/alzheon/internal/platform/auth"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/configuracion", h.Get)
	api.PUT("/configuracion/recordatorios", h.UpdateReminders)
	api.POST("/configuracion/recordatorios/test", h.SendTest)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNoEmail):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return err
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	st, err := h.svc.Get(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) UpdateReminders(c echo.Context) error {
	var in UpdateRemindersInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	st, err := h.svc.UpdateReminders(ctx, auth.UserIDFromContext(ctx), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) SendTest(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	if err := h.svc.SendTest(ctx, userID); err != nil {
		if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNoEmail) || errors.Is(err, ErrNotFound) {
			return httpError(err)
		}
		h.logger.Error().Err(err).Str("user_id", userID).Msg("test reminder failed")
		return echo.NewHTTPError(http.StatusBadGateway, "could not send the test reminder")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "test reminder sent"})
}
