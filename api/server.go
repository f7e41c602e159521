// Package api exposes the service facade over HTTP. Echo carries the
// middleware stack; every handler resolves the actor from validated JWT
// claims and delegates to the facade, so no tenant logic lives here.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ccmanuelf/kpi-operations-sub013/auth"
	"github.com/ccmanuelf/kpi-operations-sub013/config"
	"github.com/ccmanuelf/kpi-operations-sub013/metrics"
	"github.com/ccmanuelf/kpi-operations-sub013/service"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
)

// Server is the HTTP front of the platform.
type Server struct {
	svc     *service.Service
	tokens  *auth.TokenService
	metrics *metrics.Metrics
	echo    *echo.Echo
	cfg     config.ServerConfig
	log     *logrus.Entry
}

// NewServer builds the echo server with the platform middleware stack and
// all routes registered.
func NewServer(cfg config.ServerConfig, svc *service.Service, tokens *auth.TokenService, m *metrics.Metrics) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("10M"))
	e.Use(requestLogger())

	s := &Server{
		svc:     svc,
		tokens:  tokens,
		metrics: m,
		echo:    e,
		cfg:     cfg,
		log:     logrus.WithField("component", "api"),
	}
	s.routes()
	return s
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) routes() {
	e := s.echo

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
			s.metrics.Registry, promhttp.HandlerOpts{},
		)))
	}

	e.POST("/api/v1/login", s.login)

	v1 := e.Group("/api/v1")
	v1.Use(echojwt.WithConfig(echojwt.Config{
		TokenLookup: "header:Authorization:Bearer ",
		ParseTokenFunc: func(_ echo.Context, token string) (any, error) {
			return s.tokens.ValidateToken(token)
		},
	}))

	v1.POST("/ingest/:kind", s.ingest)
	v1.GET("/ingest/:kind/export", s.export)
	v1.GET("/kpi/:kpi", s.queryKPI)
	v1.POST("/workorders/transition", s.transition)
	v1.POST("/workorders/:id/hold", s.hold)
	v1.POST("/holds/:id/resume", s.resume)
	v1.GET("/holds/aging", s.holdsAging)
	v1.POST("/workflow/config", s.activateWorkflow)
	v1.POST("/capacity/component-check", s.componentCheck)
	v1.POST("/capacity/analysis", s.analysis)
	v1.POST("/capacity/scenario/:id", s.scenario)
	v1.POST("/capacity/save", s.capacitySave)
	v1.GET("/forecast/:kpi", s.forecastKPI)
	v1.GET("/report", s.report)
	v1.POST("/events/replay", s.replay)
}

// Start serves until the listener fails. Callers run it on its own goroutine
// and pair it with Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.log.WithField("addr", addr).Info("http server listening")
	srv := &http.Server{
		Addr:         addr,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	err := s.echo.StartServer(srv)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests inside the configured grace window.
func (s *Server) Shutdown(ctx context.Context) error {
	grace := time.Duration(s.cfg.ShutdownGraceSeconds) * time.Second
	if grace > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, grace)
		defer cancel()
	}
	return s.echo.Shutdown(ctx)
}

// requestLogger logs one line per request through logrus.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logrus.WithFields(logrus.Fields{
				"method":     c.Request().Method,
				"uri":        c.Request().RequestURI,
				"status":     c.Response().Status,
				"latency_ms": time.Since(start).Milliseconds(),
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			}).Info("request")
			return err
		}
	}
}

// actor rebuilds the tenant actor from the validated claims on the request.
func actor(c echo.Context) (tenant.Actor, error) {
	claims, ok := c.Get("user").(*auth.Claims)
	if !ok || claims == nil {
		return tenant.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	return auth.ActorFromClaims(claims), nil
}

// clientID is the tenant target of the request.
func clientID(c echo.Context) string { return c.QueryParam("client_id") }

// statusFor maps problem codes onto HTTP statuses.
func statusFor(code string) int {
	switch code {
	case "ERR_UNAUTHENTICATED":
		return http.StatusUnauthorized
	case "ERR_FORBIDDEN":
		return http.StatusForbidden
	case "ERR_VALIDATION":
		return http.StatusBadRequest
	case "ERR_CONFLICT", "ERR_STALE", "ERR_DEPENDENT_ROWS":
		return http.StatusConflict
	case "ERR_INVALID_TRANSITION":
		return http.StatusUnprocessableEntity
	case "ERR_NOT_FOUND":
		return http.StatusNotFound
	case "ERR_RATE_LIMITED":
		return http.StatusTooManyRequests
	case "ERR_INFRA":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail renders any facade error as its Problem shape.
func fail(c echo.Context, err error) error {
	p := service.Translate(err)
	status := statusFor(p.Code)
	if status == http.StatusTooManyRequests {
		if retry, ok := p.Details["retry_after_seconds"].(int); ok {
			c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
		}
	}
	return c.JSON(status, p)
}
