package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/meetrec/internal/app"
	"github.com/charlesng35/meetrec/internal/auth"
	"github.com/charlesng35/meetrec/internal/handlers"
	"github.com/charlesng35/meetrec/internal/middleware"
	"github.com/charlesng35/meetrec/internal/monitoring"
	"github.com/charlesng35/meetrec/internal/realtime"
)

// Dependencies are the components the HTTP surface is built on. Recordings
// and WebhookTokens are optional.
type Dependencies struct {
	Config        *app.Config
	Monitoring    *monitoring.Module
	Sessions      handlers.SessionDirectory
	Recordings    handlers.RecordingLister
	Summaries     handlers.SummaryDeliverer
	Hub           handlers.ConnectionServer
	Dispatcher    realtime.Dispatcher
	WebhookTokens *auth.WebhookTokenService
	RateStore     middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("router: config must be provided")
	}

	realtimeHandler, err := handlers.NewRealtimeHandler(deps.Hub, deps.Dispatcher)
	if err != nil {
		return nil, err
	}
	meetingHandler, err := handlers.NewMeetingHandler(deps.Sessions, deps.Recordings)
	if err != nil {
		return nil, err
	}
	webhookHandler, err := handlers.NewWebhookHandler(deps.Summaries)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(middleware.Logger("/health", metricsEndpoint(cfg)))
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins...))

	registerHealthRoutes(r, cfg, deps.Monitoring)
	if cfg.Monitoring.Prometheus.Enabled && deps.Monitoring != nil {
		r.GET(metricsEndpoint(cfg), gin.WrapH(deps.Monitoring.Handler()))
	}

	r.GET("/ws", realtimeHandler.Stream)

	api := r.Group("/api")
	registerMeetingRoutes(api, meetingHandler)
	registerMonitoringRoutes(api, handlers.NewMonitoringHandler(cfg))

	rateWindow := cfg.Webhook.RateWindow
	if rateWindow <= 0 {
		rateWindow = time.Minute
	}
	webhooks := r.Group("/webhook",
		middleware.RateLimit(deps.RateStore, cfg.Webhook.RateLimit, rateWindow),
		middleware.WebhookAuth(deps.WebhookTokens),
	)
	registerWebhookRoutes(webhooks, webhookHandler)

	r.NoRoute(staticFallback(cfg.Server.PublicDir))
	return r, nil
}

func registerMeetingRoutes(api *gin.RouterGroup, handler *handlers.MeetingHandler) {
	meetings := api.Group("/meetings")
	meetings.GET("", handler.List)
	meetings.GET("/:meetingID", handler.Get)
	meetings.GET("/:meetingID/files", handler.Files)
}

func registerWebhookRoutes(group *gin.RouterGroup, handler *handlers.WebhookHandler) {
	methods := []string{http.MethodGet, http.MethodPost}
	group.Match(methods, "/complete", handler.Complete)
	group.Match(methods, "/complete2", handler.Intermediate)
}

func metricsEndpoint(cfg *app.Config) string {
	endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
	if endpoint == "" {
		return "/metrics"
	}
	return endpoint
}

// staticFallback serves files from publicDir for unmatched GET requests and
// falls back to the JSON 404 otherwise.
func staticFallback(publicDir string) gin.HandlerFunc {
	publicDir = strings.TrimSpace(publicDir)
	if publicDir == "" {
		return middleware.NotFoundHandler
	}
	root, err := filepath.Abs(publicDir)
	if err != nil {
		return middleware.NotFoundHandler
	}

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			middleware.NotFoundHandler(c)
			return
		}

		rel := filepath.FromSlash(filepath.Clean("/" + c.Request.URL.Path))
		target := filepath.Join(root, rel)
		if info, err := os.Stat(target); err == nil && info.IsDir() {
			target = filepath.Join(target, "index.html")
		}
		if info, err := os.Stat(target); err != nil || info.IsDir() {
			middleware.NotFoundHandler(c)
			return
		}
		c.File(target)
	}
}
