// Package api exposes the alert query and control surface over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kestrelwatch/kestrel/internal/alertmanager"
	"github.com/kestrelwatch/kestrel/internal/datastore"
	"github.com/kestrelwatch/kestrel/internal/diskmanager"
	"github.com/kestrelwatch/kestrel/internal/errors"
	"github.com/kestrelwatch/kestrel/internal/logging"
	"github.com/kestrelwatch/kestrel/internal/surveillance"
)

// Server hosts the HTTP API.
type Server struct {
	echo   *echo.Echo
	alerts *alertmanager.AlertManager
	store  datastore.Interface
	system *surveillance.System
	disk   *diskmanager.Manager
	listen string
	logger *slog.Logger
}

// New builds the server and registers routes. system and disk may be nil,
// their endpoints then return 503.
func New(listen string, alerts *alertmanager.AlertManager, store datastore.Interface,
	system *surveillance.System, disk *diskmanager.Manager) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		alerts: alerts,
		store:  store,
		system: system,
		disk:   disk,
		listen: listen,
		logger: logging.ForService("api"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.echo.Group("/api/v1")

	v1.GET("/alerts", s.listAlerts)
	v1.GET("/alerts/statistics", s.alertStatistics)
	v1.GET("/alerts/:id", s.getAlert)
	v1.POST("/alerts/:id/resolve", s.resolveAlert)
	v1.GET("/alerts/:id/notifications", s.alertNotifications)

	v1.GET("/rules", s.listRules)
	v1.POST("/rules", s.saveRule)

	v1.GET("/recordings", s.listRecordings)
	v1.GET("/storage", s.storageStats)
	v1.GET("/cameras", s.cameraStatuses)

	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("api listening", "addr", s.listen)
	if err := s.echo.Start(s.listen); err != nil && err != http.ErrServerClosed {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("listen", s.listen).
			Build()
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) listAlerts(c echo.Context) error {
	filter := &datastore.AlertFilter{
		CameraID: c.QueryParam("camera_id"),
		Type:     c.QueryParam("type"),
		Severity: c.QueryParam("severity"),
	}
	if v := c.QueryParam("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "resolved must be a boolean")
		}
		filter.Resolved = &resolved
	}
	filter.Limit = intQuery(c, "limit", 100)
	filter.Offset = intQuery(c, "offset", 0)

	alerts, err := s.alerts.GetAlerts(filter)
	if err != nil {
		s.logger.Error("alert query failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to query alerts")
	}
	return c.JSON(http.StatusOK, alerts)
}

func (s *Server) getAlert(c echo.Context) error {
	alert, err := s.alerts.GetAlert(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	}
	return c.JSON(http.StatusOK, alert)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
	Notes      string `json:"notes"`
}

func (s *Server) resolveAlert(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.alerts.ResolveAlert(c.Param("id"), req.ResolvedBy, req.Notes); err != nil {
		if isCategory(err, errors.CategoryNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "alert not found")
		}
		s.logger.Error("alert resolution failed", "alert", c.Param("id"), "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to resolve alert")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) alertStatistics(c echo.Context) error {
	stats, err := s.alerts.GetAlertStatistics()
	if err != nil {
		s.logger.Error("statistics query failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute statistics")
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) alertNotifications(c echo.Context) error {
	records, err := s.store.GetNotificationRecords(c.Param("id"))
	if err != nil {
		s.logger.Error("notification record query failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to query notifications")
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) listRules(c echo.Context) error {
	rules, err := s.store.GetNotificationRules()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to query rules")
	}
	return c.JSON(http.StatusOK, rules)
}

func (s *Server) saveRule(c echo.Context) error {
	var rule datastore.NotificationRule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rule body")
	}
	if rule.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "rule name is required")
	}
	if err := s.alerts.SaveRule(&rule); err != nil {
		s.logger.Error("rule save failed", "rule", rule.Name, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save rule")
	}
	return c.JSON(http.StatusCreated, rule)
}

func (s *Server) listRecordings(c echo.Context) error {
	segments, err := s.store.GetRecordings(c.QueryParam("camera_id"),
		intQuery(c, "limit", 100), intQuery(c, "offset", 0))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to query recordings")
	}
	return c.JSON(http.StatusOK, segments)
}

func (s *Server) storageStats(c echo.Context) error {
	if s.disk == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage manager not running")
	}
	stats, err := s.disk.Stats()
	if err != nil {
		s.logger.Error("storage stats failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read storage stats")
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) cameraStatuses(c echo.Context) error {
	if s.system == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "surveillance not running")
	}
	return c.JSON(http.StatusOK, s.system.Statuses())
}

func intQuery(c echo.Context, name string, fallback int) int {
	v := c.QueryParam(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func isCategory(err error, category errors.ErrorCategory) bool {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.Category == category
	}
	return false
}
