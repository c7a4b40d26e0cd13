// internal/api/v2/api.go
package api

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/datastore"
	"github.com/cybeform/cybemeeting/internal/jobqueue"
	"github.com/cybeform/cybemeeting/internal/logging"
	"github.com/cybeform/cybemeeting/internal/observability"
	"github.com/cybeform/cybemeeting/internal/pipeline"
	"github.com/cybeform/cybemeeting/internal/report"
	"github.com/cybeform/cybemeeting/internal/securefs"
	"github.com/cybeform/cybemeeting/internal/security"
)

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	DS       datastore.Interface
	Settings *conf.Settings
	SFS      *securefs.SecureFS
	Security *security.Manager
	Pipeline *pipeline.Processor
	Queue    *jobqueue.Queue

	metrics        *observability.Metrics
	reports        *report.Generator
	projectCache   *cache.Cache // caches per-user project listings
	startTime      time.Time
	apiLogger      *slog.Logger
	apiLoggerClose func() error
}

// ipExtractorFromProxyHeaders resolves the client IP behind a reverse
// proxy, falling back to the connection address.
func ipExtractorFromProxyHeaders(req *http.Request) string {
	xff := req.Header.Get(echo.HeaderXForwardedFor)
	if xff != "" {
		for part := range strings.SplitSeq(xff, ",") {
			ipStr := strings.TrimSpace(part)
			if ip := net.ParseIP(ipStr); ip != nil {
				return ip.String()
			}
		}
	}

	xri := req.Header.Get(echo.HeaderXRealIP)
	if xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return ip.String()
		}
	}

	remoteAddr, _, _ := net.SplitHostPort(req.RemoteAddr)
	if ip := net.ParseIP(remoteAddr); ip != nil {
		return ip.String()
	}
	return remoteAddr
}

// New creates the API controller and registers all routes under /api/v2.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings,
	sfs *securefs.SecureFS, sec *security.Manager, proc *pipeline.Processor,
	queue *jobqueue.Queue, metrics *observability.Metrics) (*Controller, error) {

	e.IPExtractor = ipExtractorFromProxyHeaders

	c := &Controller{
		Echo:         e,
		DS:           ds,
		Settings:     settings,
		SFS:          sfs,
		Security:     sec,
		Pipeline:     proc,
		Queue:        queue,
		metrics:      metrics,
		reports:      report.NewGenerator(),
		projectCache: cache.New(time.Minute, 5*time.Minute),
		startTime:    time.Now(),
	}

	logPath := "logs/web.log"
	if settings.Main.Log.Path != "" {
		logPath = filepath.Join(filepath.Dir(settings.Main.Log.Path), "web.log")
	}
	apiLogger, closeFunc, err := logging.NewFileLogger(logPath, "api", slog.LevelInfo)
	if err != nil {
		// fall back to a disabled logger, request handling must not
		// depend on a writable log directory
		handler := slog.NewJSONHandler(io.Discard, nil)
		c.apiLogger = slog.New(handler).With("service", "api")
		c.apiLoggerClose = func() error { return nil }
	} else {
		c.apiLogger = apiLogger
		c.apiLoggerClose = closeFunc
	}

	c.Group = e.Group("/api/v2")
	c.Group.Use(middleware.Recover())
	c.Group.Use(middleware.CORS())
	c.Group.Use(c.LoggingMiddleware())
	c.Group.Use(c.MetricsMiddleware())

	c.initRoutes()
	return c, nil
}

// initRoutes registers all API endpoints.
func (c *Controller) initRoutes() {
	jsonBody := middleware.BodyLimit("1M")
	audioBody := middleware.BodyLimit(fmt.Sprintf("%dM", c.Settings.Audio.MaxSizeMB+1))

	c.Group.GET("/health", c.HealthCheck)
	if c.metrics != nil {
		c.Group.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}

	auth := c.Group.Group("/auth", jsonBody)
	auth.POST("/register", c.Register)
	auth.POST("/login", c.Login)
	auth.GET("/me", c.GetMe, c.requireAuth)
	auth.POST("/logout", c.Logout, c.requireAuth)

	projects := c.Group.Group("/projects", jsonBody, c.requireAuth)
	projects.GET("", c.ListProjects)
	projects.POST("", c.CreateProject)
	projects.GET("/:id", c.GetProject)
	projects.PUT("/:id", c.UpdateProject)
	projects.DELETE("/:id", c.DeleteProject)
	projects.GET("/:id/meetings", c.ListProjectMeetings)
	projects.POST("/:id/meetings", c.CreateMeeting)

	meetings := c.Group.Group("/meetings", c.requireAuth)
	meetings.GET("/:id", c.GetMeeting, jsonBody)
	meetings.PUT("/:id", c.UpdateMeeting, jsonBody)
	meetings.DELETE("/:id", c.DeleteMeeting, jsonBody)
	meetings.POST("/:id/audio", c.UploadAudio, audioBody)
	meetings.POST("/:id/process", c.ProcessMeeting, jsonBody)
	meetings.GET("/:id/status", c.GetProcessingStatus, jsonBody)
	meetings.GET("/:id/preview", c.GetMeetingPreview, jsonBody)
	meetings.GET("/:id/report.docx", c.DownloadReport)
	meetings.GET("/:id/report.txt", c.DownloadReportText)
}

// LoggingMiddleware logs API requests to the structured API log.
func (c *Controller) LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)
			if c.apiLogger == nil {
				return err
			}

			req := ctx.Request()
			res := ctx.Response()
			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", res.Status),
				slog.String("ip", ctx.RealIP()),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
			}
			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
			}
			c.apiLogger.LogAttrs(req.Context(), slog.LevelInfo, "API Request", attrs...)
			return err
		}
	}
}

// MetricsMiddleware records request counters and latency. The route
// pattern is used instead of the raw path to keep label cardinality low.
func (c *Controller) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if c.metrics == nil || c.metrics.HTTP == nil {
				return next(ctx)
			}

			start := time.Now()
			err := next(ctx)

			path := ctx.Path()
			status := ctx.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			c.metrics.HTTP.RecordRequest(ctx.Request().Method, path, status, time.Since(start).Seconds())
			return err
		}
	}
}

// HealthCheck reports service, database and system health.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	response := map[string]any{
		"status":    "healthy",
		"version":   c.Settings.Version,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	dbStatus := "connected"
	if _, err := c.DS.GetUserByPublicID("healthcheck"); err != nil && !errors.Is(err, datastore.ErrNotFound) {
		dbStatus = "disconnected"
		response["status"] = "degraded"
		response["database_error"] = err.Error()
	}
	response["database_status"] = dbStatus

	uptime := time.Since(c.startTime)
	response["uptime"] = uptime.String()
	response["uptime_seconds"] = uptime.Seconds()
	response["system"] = observability.CollectSystemInfo(c.Settings.Storage.DataPath)

	if c.Queue != nil {
		response["job_queue"] = c.Queue.GetStats()
	}

	return ctx.JSON(http.StatusOK, response)
}

// Shutdown releases controller resources. Called once the HTTP server has
// drained.
func (c *Controller) Shutdown() {
	if c.apiLoggerClose != nil {
		if err := c.apiLoggerClose(); err != nil {
			c.apiLogger.Error("closing API log file", "error", err)
		}
	}
	if c.projectCache != nil {
		c.projectCache.Flush()
	}
}

// ErrorResponse is the JSON error envelope returned by all handlers.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates a new API error response.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates a short random identifier for error
// tracking across logs and client reports.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError constructs and returns an appropriate error response.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	errorResp := NewErrorResponse(err, message, code)

	if c.apiLogger != nil {
		errorStr := message
		if err != nil {
			errorStr = err.Error()
		}
		c.apiLogger.Error("API Error",
			"correlation_id", errorResp.CorrelationID,
			"message", message,
			"error", errorStr,
			"code", code,
			"path", ctx.Request().URL.Path,
			"method", ctx.Request().Method,
			"ip", ctx.RealIP(),
		)
	}
	if c.metrics != nil && c.metrics.HTTP != nil && code >= http.StatusInternalServerError {
		c.metrics.HTTP.RecordRequestError(ctx.Request().Method, ctx.Path(), "server_error")
	}

	return ctx.JSON(code, errorResp)
}
