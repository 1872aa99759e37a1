// Package api assembles the HTTP surface: login, vehicles, admin, health and
// metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/citro80/api/admin"
	"github.com/kilianp07/citro80/api/vehicles"
	"github.com/kilianp07/citro80/auth"
	"github.com/kilianp07/citro80/infra/logger"
)

// HealthCheck is one dependency probed by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options are the router dependencies.
type Options struct {
	Config   Config
	Auth     *auth.Service
	Vehicles *vehicles.Handler
	Admin    *admin.Handler
	Health   []HealthCheck
	Metrics  http.Handler
	Log      logger.Logger
}

// NewRouter builds the gin engine.
func NewRouter(opts Options) (*gin.Engine, error) {
	if opts.Auth == nil || opts.Vehicles == nil || opts.Admin == nil {
		return nil, fmt.Errorf("nil parameter provided")
	}
	if opts.Log == nil {
		opts.Log = logger.NopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(opts.Log))
	if len(opts.Config.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     opts.Config.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/healthz", healthz(opts.Health, opts.Log))
	r.GET("/metrics", gin.WrapH(opts.Metrics))

	opts.Auth.RegisterRoutes(r)
	secured := r.Group("/api", opts.Auth.Middleware())
	opts.Vehicles.Register(secured)
	opts.Admin.Register(secured.Group("/admin", opts.Auth.RequireSuperuser()))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r, nil
}

// RequestLogger logs one line per request.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == "/healthz" {
			return
		}
		log.Infow("request", map[string]any{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		})
	}
}

func healthz(checks []HealthCheck, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		status := gin.H{}
		healthy := true
		for _, hc := range checks {
			if err := hc.Check(ctx); err != nil {
				log.Warnf("health check %s: %v", hc.Name, err)
				status[hc.Name] = "down"
				healthy = false
				continue
			}
			status[hc.Name] = "ok"
		}
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "checks": status})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": status})
	}
}

// Serve runs handler on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, cfg Config, handler http.Handler, log logger.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.readTimeout(),
		WriteTimeout:      cfg.writeTimeout(),
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("http server listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdown())
	defer cancel()
	log.Infof("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
