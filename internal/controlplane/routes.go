package controlplane

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"
	"github.com/ulule/limiter/v3"
)

var defaultRate = limiter.Rate{
	Period: 1 * time.Second,
	Limit:  10,
}

type RouteConfig struct {
	Token string
	// zero means 10 requests per second
	Rate   limiter.Rate
	Logger *slog.Logger
}

func SetupRoutes(h *Handler, cfg RouteConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	rate := cfg.Rate
	if rate.Limit == 0 {
		rate = defaultRate
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(slogGin.NewWithConfig(logger.WithGroup("http"), slogGin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))
	r.Use(gin.Recovery())
	r.Use(CORS())
	r.Use(Gzip())
	r.Use(RateLimit(rate))

	r.GET("/healthz", h.Health)

	v1 := r.Group("/v1")
	v1.Use(TokenAuth(cfg.Token, logger))
	{
		v1.GET("/status", h.Status)
		v1.POST("/sync", h.Sync)
		v1.GET("/history", h.History)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, &ErrorResponse{Error: "not found"})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, &ErrorResponse{Error: "method not allowed"})
	})

	return r.Handler()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
