// Package httpapi exposes the attendance ledger and monthly statistics
// over gin.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hostelhub/internal/auth"
	"hostelhub/internal/clock"
	"hostelhub/internal/httpmiddleware"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) bool

// Deps wires the router. Limiter, Health and Metrics are optional.
type Deps struct {
	Ledger      Ledger
	Stats       Stats
	Clock       clock.Clock
	Location    *time.Location
	Logger      *slog.Logger
	SigningKey  string
	Issuer      string
	Limiter     httpmiddleware.Limiter
	CORSOrigins []string
	Health      map[string]HealthCheck
	Metrics     http.Handler
}

// NewRouter builds the gin engine with middleware, probes and the
// authenticated /attendance routes.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = promhttp.Handler()
	}
	if len(d.CORSOrigins) == 0 {
		d.CORSOrigins = []string{"*"}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     d.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	if d.Limiter != nil {
		r.Use(httpmiddleware.RateLimit(d.Limiter, d.Logger))
	}

	r.GET("/metrics", gin.WrapH(d.Metrics))
	r.GET("/healthz", healthz(d.Health))

	h := NewHandler(d.Ledger, d.Stats, d.Clock, d.Location, d.Logger)
	h.Register(r.Group("/attendance", auth.RequireAuth(d.SigningKey, d.Issuer)))
	return r
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		body := gin.H{}
		status := http.StatusOK
		for name, check := range checks {
			ok := check(ctx)
			body[name] = ok
			if !ok {
				status = http.StatusServiceUnavailable
			}
		}
		body["status"] = "ok"
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	}
}
