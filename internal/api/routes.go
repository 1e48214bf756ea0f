// routes.go - Route registration helpers
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/turna/console/internal/jobs"
	"github.com/turna/console/internal/storage"
	"github.com/turna/console/internal/upload"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	// Context bounds background upload runs and websocket streams.
	Context  context.Context
	Backend  Backend
	Queue    *upload.Queue
	Uploader *upload.Uploader
	Poller   *jobs.Poller
	Spool    *storage.Spool
	History  History
	PageSize int
	Version  string
	Logger   zerolog.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Ingest  IngestHandler
	Files   FilesHandler
	Jobs    JobsHandler
	History HistoryHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	ctx := deps.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return &Handlers{
		Health:  NewHealthHandler(deps.Version, deps.Queue, deps.Uploader),
		Ingest:  NewIngestHandler(ctx, deps.Queue, deps.Uploader, deps.Spool, deps.Logger),
		Files:   NewFilesHandler(deps.Backend, deps.Queue, deps.Poller, deps.History, deps.PageSize, deps.Logger),
		Jobs:    NewJobsHandler(deps.Backend, deps.Poller),
		History: NewHistoryHandler(deps.History),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Upload queue
	ingestGroup := apiGroup.Group("/ingest")
	ingestGroup.POST("", handlers.Ingest.HandleIngest)
	ingestGroup.POST("/process", handlers.Ingest.HandleProcess)
	ingestGroup.GET("/pending", handlers.Ingest.HandlePending)
	ingestGroup.DELETE("/pending/:index", handlers.Ingest.HandleRemovePending)
	ingestGroup.GET("/ws", handlers.Ingest.HandlePendingStream)

	// Backend files
	filesGroup := apiGroup.Group("/files")
	filesGroup.GET("", handlers.Files.HandleListFiles)
	filesGroup.POST("/bulk-delete", handlers.Files.HandleBulkDelete)
	filesGroup.DELETE("/:id", handlers.Files.HandleDeleteFile)
	filesGroup.POST("/:id/extract", handlers.Files.HandleExtract)

	// Jobs
	jobsGroup := apiGroup.Group("/jobs")
	jobsGroup.GET("", handlers.Jobs.HandleListJobs)
	jobsGroup.GET("/active", handlers.Jobs.HandleActiveJobs)
	jobsGroup.GET("/:id", handlers.Jobs.HandleGetJob)

	// History
	apiGroup.GET("/history", handlers.History.HandleHistory)
}

// MiddlewareOptions configures SetupMiddleware.
type MiddlewareOptions struct {
	Dev         bool
	CORSOrigins []string
	BodyLimit   string
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, opts MiddlewareOptions, logger zerolog.Logger) {
	e.HTTPErrorHandler = NewErrorHandler(opts.Dev, logger)

	e.Use(middleware.RequestID())
	e.Use(Recovery(logger))
	e.Use(RequestLogger(logger))

	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
}

// NewServer builds the console echo instance with middleware and routes.
func NewServer(deps *Dependencies, opts MiddlewareOptions) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	SetupMiddleware(e, opts, deps.Logger)
	RegisterRoutes(e, NewHandlers(deps))
	return e
}
