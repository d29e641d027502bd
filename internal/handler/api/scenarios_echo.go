package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"

	"RegimeSim/internal/domain/models"
	domrepo "RegimeSim/internal/domain/repository"
	"RegimeSim/internal/service/ratelimit"
	"RegimeSim/internal/usecase"
	xhttp "RegimeSim/pkg/http"
	xlogger "RegimeSim/pkg/logger"
)

// ScenariosEchoHandler exposes the scenario engine over HTTP.
type ScenariosEchoHandler struct {
	logger  *xlogger.Logger
	engine  *usecase.ScenarioEngine
	limiter *ratelimit.Limiter
}

func NewScenariosEchoHandler(logger *xlogger.Logger, engine *usecase.ScenarioEngine, limiter *ratelimit.Limiter) *ScenariosEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &ScenariosEchoHandler{logger: logger, engine: engine, limiter: limiter}
}

func (h *ScenariosEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/panels/assemble", h.Assemble)
	g.POST("/models/fit", h.Fit)
	g.GET("/models", h.Models)
	g.POST("/scenarios/simulate", h.Simulate)
	g.GET("/scenarios/stream", h.Stream)
}

func (h *ScenariosEchoHandler) Assemble(c echo.Context) error {
	res, err := h.engine.Assemble(c.Request().Context())
	if err != nil {
		h.logger.Error("assemble usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ScenariosEchoHandler) Fit(c echo.Context) error {
	req := &models.FitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.engine.Fit(c.Request().Context(), models.Family(req.Family))
	if err != nil {
		h.logger.Error("fit usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ScenariosEchoHandler) Models(c echo.Context) error {
	set := h.engine.Models()
	if set == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no model set has been fitted"))
	}
	c.Response().Header().Set(echo.HeaderLastModified, set.FittedAt.UTC().Format(time.RFC1123))
	return xhttp.SuccessResponse(c, set)
}

func (h *ScenariosEchoHandler) Simulate(c echo.Context) error {
	req := &models.SimulateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if ok, wait := h.limiter.Allow(c.RealIP(), weight(req)); !ok {
		h.logger.Warn("simulate rate_limited", xlogger.String("remote", c.RealIP()))
		return xhttp.AppErrorResponse(c, rateLimited(wait))
	}

	res, err := h.engine.Simulate(c.Request().Context(), simulateInput(req))
	if err != nil {
		h.logger.Error("simulate usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func simulateInput(req *models.SimulateRequest) usecase.SimulateInput {
	return usecase.SimulateInput{
		Products:   models.ProductsFromStrings(req.Products),
		RegimePath: req.RegimePathIDs(),
		Steps:      req.Steps,
		Start:      models.RegimeID(req.Start),
		PathCount:  req.PathCount,
		Seed:       req.Seed,
		Publish:    req.Publish,
	}
}

// weight is the request size in units of 1000 path steps, at least one.
func weight(req *models.SimulateRequest) float64 {
	steps := len(req.RegimePath)
	if steps == 0 {
		steps = req.Steps
	}
	w := float64(steps) * float64(req.PathCount) / 1000
	if w < 1 {
		return 1
	}
	return w
}

func rateLimited(wait time.Duration) *xhttp.AppError {
	return xhttp.TooManyRequestsError("too many simulation requests", wait)
}

// toAppError maps engine errors to HTTP errors.
func toAppError(err error) *xhttp.AppError {
	var pe *models.PreconditionError
	switch {
	case errors.As(err, &pe):
		return xhttp.ValidationFailed(pe.Field, pe.Reason).WithError(err)
	case models.IsPrecondition(err):
		return xhttp.ValidationFailed("", err.Error()).WithError(err)
	case errors.Is(err, usecase.ErrFitInProgress):
		return xhttp.ConflictError(err.Error()).WithError(err)
	case errors.Is(err, domrepo.ErrNotFound):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	default:
		return xhttp.InternalError(fmt.Sprintf("request failed: %v", err)).WithError(err)
	}
}
