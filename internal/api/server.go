package api

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/docport/docport/internal/auth"
	"github.com/docport/docport/internal/metrics"
	"github.com/docport/docport/pkg/types"
)

// BuildService is the build surface the API exposes.
type BuildService interface {
	Build(ctx context.Context, req types.BuildRequest) (*types.Build, error)
	Remove(ctx context.Context, id string) error
}

// InstanceService is the instance lifecycle surface the API exposes.
type InstanceService interface {
	Launch(ctx context.Context, req types.LaunchRequest) (*types.Instance, error)
	Stop(ctx context.Context, id string) error
	Kill(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*types.Instance, error)
	List(ctx context.Context) ([]types.Instance, error)
	VerifyWorkers(ctx context.Context, id string) (*types.WorkerReport, error)
	ContainerName(id string) string
}

// BuildStore reads recorded builds.
type BuildStore interface {
	GetBuild(id string) (*types.Build, error)
	ListBuilds() ([]types.Build, error)
}

// LogArchive fetches archived build logs.
type LogArchive interface {
	FetchBuildLog(ctx context.Context, buildID string) ([]byte, error)
}

// LogStreamer streams live container logs.
type LogStreamer interface {
	FollowLogs(ctx context.Context, nameOrID string) (io.ReadCloser, func() error, error)
}

// Server holds the API server dependencies.
type Server struct {
	echo      *echo.Echo
	builder   BuildService
	instances InstanceService
	builds    BuildStore
	archive   LogArchive // nil if log archiving not configured
	streamer  LogStreamer
	tokens    *auth.JWTIssuer // nil if no JWT secret configured
}

// NewServer creates a new API server with all routes configured.
func NewServer(builder BuildService, instances InstanceService, builds BuildStore, apiKey string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		builder:   builder,
		instances: instances,
		builds:    builds,
	}

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(metrics.EchoMiddleware())

	// Health check and metrics (no auth)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// API routes (with auth)
	api := e.Group("")
	api.Use(auth.RequireAPIKey(apiKey))

	// Recipes
	api.POST("/recipes/validate", s.validateRecipe)
	api.POST("/recipes/render", s.renderRecipe)

	// Builds
	api.POST("/builds", s.createBuild)
	api.GET("/builds", s.listBuilds)
	api.GET("/builds/:id", s.getBuild)
	api.DELETE("/builds/:id", s.deleteBuild)
	api.GET("/builds/:id/log", s.buildLog)

	// Instance lifecycle
	api.POST("/instances", s.launchInstance)
	api.GET("/instances", s.listInstances)
	api.GET("/instances/:id", s.getInstance)
	api.POST("/instances/:id/stop", s.stopInstance)
	api.DELETE("/instances/:id", s.killInstance)
	api.GET("/instances/:id/workers", s.instanceWorkers)

	// Live log streaming; the token route is authed, the WebSocket itself
	// authenticates with the issued token.
	api.POST("/instances/:id/logs/token", s.issueLogToken)
	e.GET("/instances/:id/logs", s.streamLogs)

	return s
}

// SetLogArchive enables the archived build log endpoint.
func (s *Server) SetLogArchive(archive LogArchive) {
	s.archive = archive
}

// SetLogStreaming enables the live log WebSocket endpoint.
func (s *Server) SetLogStreaming(streamer LogStreamer, tokens *auth.JWTIssuer) {
	s.streamer = streamer
	s.tokens = tokens
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	return s.echo.Close()
}
