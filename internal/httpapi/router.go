package httpapi

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"devattend/internal/devices"
	"devattend/internal/httpmiddleware"
	"devattend/internal/metrics"
)

// Deps is everything the router wires together.
type Deps struct {
	Service AttendanceService
	Devices devices.Registry
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Checks are run by /healthz, keyed by the name reported in the body.
	Checks          map[string]func(context.Context) error
	RateLimitPerMin int
	StaticDir       string
	ServiceName     string
	Tracing         bool
}

// NewRouter builds the gin engine serving the attendance API.
func NewRouter(d Deps) *gin.Engine {
	initValidator()
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Devices == nil {
		d.Devices = devices.NewMemoryRegistry()
	}

	h := &handler{
		svc:     d.Service,
		devices: d.Devices,
		checks:  d.Checks,
		log:     d.Logger,
		metrics: d.Metrics,
	}

	r := gin.New()
	r.Use(ginzap.GinzapWithConfig(d.Logger, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/healthz", "/metrics"},
	}))
	r.Use(ginzap.RecoveryWithZap(d.Logger, true))
	if d.Tracing {
		r.Use(otelgin.Middleware(d.ServiceName))
	}
	r.Use(d.Metrics.GinMiddleware())
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	r.GET("/healthz", h.ready)

	api := r.Group("/api")
	api.Use(httpmiddleware.NewRateLimiter(d.RateLimitPerMin).GinMiddleware())
	{
		api.GET("/health", h.health)
		api.POST("/attendance", h.createRecord)
		api.GET("/attendance", h.listRecords)
		api.GET("/attendance/stats", h.dailyStats)
		api.GET("/devices", h.listDevices)
	}

	serveStatic(r, d.StaticDir)
	return r
}

// serveStatic serves files from dir for every path the API does not claim.
func serveStatic(r *gin.Engine, dir string) {
	if dir == "" {
		return
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return
	}
	files := http.FileServer(http.Dir(dir))
	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") || c.Request.Method != http.MethodGet {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		files.ServeHTTP(c.Writer, c.Request)
	})
}
