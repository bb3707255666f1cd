package server

import (
	_ "embed"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/lanshuttle/lanshuttle/pkg/archive"
	"github.com/lanshuttle/lanshuttle/pkg/config"
	"github.com/lanshuttle/lanshuttle/pkg/vfs"
)

//go:embed web/index.html
var indexHTML []byte

// Notifier receives transfer notifications ("success", "error") for
// display outside the log, typically the controller's event stream.
// It must not block.
type Notifier func(level, message string)

// Notification levels passed to the Notifier.
const (
	LevelSuccess = "success"
	LevelError   = "error"
)

// Server is the HTTP transfer surface. All handlers are stateless across
// requests; the filesystem view and the connection counter are the only
// shared components, both owned by the lifecycle controller.
type Server struct {
	config  *config.Config
	logger  *logrus.Logger
	view    *vfs.View
	builder *archive.Builder
	counter *ConnCounter
	notify  Notifier
	engine  *gin.Engine

	startTime time.Time
}

// New creates a new server instance around an existing view and counter.
// notify may be nil.
func New(cfg *config.Config, logger *logrus.Logger, view *vfs.View, counter *ConnCounter, notify Notifier) *Server {
	// Set gin mode based on log level
	if logger.Level == logrus.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Add middleware
	engine.Use(gin.Recovery())
	engine.Use(ginLogger(logger))

	// Add OpenTelemetry middleware if telemetry is enabled
	if cfg.Telemetry.Enabled {
		engine.Use(otelgin.Middleware("lanshuttle"))
	}

	// Phone browsers hit the API cross-origin during development
	engine.Use(corsMiddleware())

	s := &Server{
		config:    cfg,
		logger:    logger,
		view:      view,
		builder:   archive.NewBuilder(view),
		counter:   counter,
		notify:    notify,
		engine:    engine,
		startTime: time.Now(),
	}

	s.setupRoutes()

	return s
}

// Engine returns the gin engine for testing purposes
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Counter returns the connection counter shared with the controller.
func (s *Server) Counter() *ConnCounter {
	return s.counter
}

func (s *Server) notifyTransfer(level, message string) {
	if s.notify != nil {
		s.notify(level, message)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Web client and health check
	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/alive", s.handleAlive)

	// Listing and status
	s.engine.GET("/api/files", s.handleListFiles)
	s.engine.GET("/api/status", s.handleStatus)

	// Transfers
	s.engine.POST("/upload", s.handleUpload)
	s.engine.GET("/download/*path", s.handleDownload)
	s.engine.GET("/download-folder/*path", s.handleDownloadFolder)
	s.engine.GET("/download-selected", s.handleDownloadSelected)
}

// ginLogger creates a gin logger middleware using logrus
func ginLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		// Calculate latency
		latency := time.Since(start)

		// Get status code
		statusCode := c.Writer.Status()

		// Build log entry
		entry := logger.WithFields(logrus.Fields{
			"status":  statusCode,
			"method":  c.Request.Method,
			"path":    path,
			"ip":      c.ClientIP(),
			"latency": latency,
		})

		if raw != "" {
			entry = entry.WithField("query", raw)
		}

		// Log based on status code
		if statusCode >= 500 {
			entry.Error("Server error")
		} else if statusCode >= 400 {
			entry.Warn("Client error")
		} else {
			entry.Info("Request completed")
		}
	}
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
