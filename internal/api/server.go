// Package api exposes fence administration and the read-only
// presentation queries over HTTP/JSON.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/signalsfoundry/perimeter-tracker/core"
	"github.com/signalsfoundry/perimeter-tracker/internal/logging"
	"github.com/signalsfoundry/perimeter-tracker/internal/monitor"
	"github.com/signalsfoundry/perimeter-tracker/model"
)

// Server serves the fence admin and query endpoints.
type Server struct {
	registry    *core.FenceRegistry
	coordinator *monitor.Coordinator
	log         logging.Logger

	echo *echo.Echo
}

// New constructs the HTTP surface over the registry and coordinator.
func New(registry *core.FenceRegistry, coordinator *monitor.Coordinator, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{
		registry:    registry,
		coordinator: coordinator,
		log:         log,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())

	e.POST("/fences", s.createFence)
	e.GET("/fences", s.listFences)
	e.GET("/fences/:id", s.getFence)
	e.DELETE("/fences/:id", s.deleteFence)
	e.POST("/fences/:id/activate", s.activateFence)
	e.POST("/fences/:id/deactivate", s.deactivateFence)
	e.GET("/fences/:id/statistics", s.fenceStatistics)
	e.GET("/positions", s.positions)
	e.GET("/events", s.recentEvents)

	s.echo = e
	return s
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info(context.Background(), "serving HTTP API", logging.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type createFenceRequest struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	RadiusM float64 `json:"radius_m"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) createFence(c echo.Context) error {
	var req createFenceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}

	id, err := s.registry.Create(model.Fence{
		Name:    req.Name,
		Center:  model.LatLon{Lat: req.Lat, Lon: req.Lon},
		RadiusM: req.RadiusM,
	})
	if err != nil {
		if errors.Is(err, core.ErrInvalidFence) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}

	f, _ := s.registry.Get(id)
	return c.JSON(http.StatusCreated, f)
}

func (s *Server) listFences(c echo.Context) error {
	filter := core.ListAll
	if c.QueryParam("filter") == "active" {
		filter = core.ListActive
	}
	return c.JSON(http.StatusOK, s.registry.List(filter))
}

func (s *Server) getFence(c echo.Context) error {
	f, ok := s.registry.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "fence not found"})
	}
	return c.JSON(http.StatusOK, f)
}

func (s *Server) deleteFence(c echo.Context) error {
	if err := s.registry.Delete(c.Param("id")); err != nil {
		if errors.Is(err, core.ErrFenceNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) activateFence(c echo.Context) error {
	err := s.registry.Activate(c.Param("id"))
	switch {
	case err == nil:
		f, _ := s.registry.Get(c.Param("id"))
		return c.JSON(http.StatusOK, f)
	case errors.Is(err, core.ErrFenceNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrCapacityExceeded):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (s *Server) deactivateFence(c echo.Context) error {
	err := s.registry.Deactivate(c.Param("id"))
	switch {
	case err == nil:
		f, _ := s.registry.Get(c.Param("id"))
		return c.JSON(http.StatusOK, f)
	case errors.Is(err, core.ErrFenceNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

type statisticsResponse struct {
	model.FenceStatistics
	AverageDwellSeconds float64 `json:"average_dwell_seconds"`
}

func (s *Server) fenceStatistics(c echo.Context) error {
	id := c.Param("id")
	if _, ok := s.registry.Get(id); !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "fence not found"})
	}
	stats := s.coordinator.Statistics(id)
	return c.JSON(http.StatusOK, statisticsResponse{
		FenceStatistics:     stats,
		AverageDwellSeconds: stats.AverageDwell.Round(time.Millisecond).Seconds(),
	})
}

func (s *Server) positions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.coordinator.MemberPositions())
}

func (s *Server) recentEvents(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
		}
		limit = parsed
	}
	return c.JSON(http.StatusOK, s.coordinator.RecentEvents(limit))
}
