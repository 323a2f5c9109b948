package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/mailrelay/mailrelay/internal/observability"
	"github.com/mailrelay/mailrelay/internal/server/handlers"
)

const (
	adminRateLimit = 10
	adminRateBurst = 5
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	if s.opts.Relay != nil {
		s.router.Post("/send-email", (&handlers.SendHandler{
			Relay:          s.opts.Relay,
			IdentitySource: s.opts.IdentitySource,
			MaxBodyBytes:   s.opts.MaxBodyBytes,
			Limiter:        s.opts.Limiter,
		}).ServeHTTP)
	}

	health := s.opts.Health
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)
	s.router.Get("/health/startup", health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)

	s.router.Get("/metrics", s.metricsHandler)

	s.registerAdminEndpoint()
}

// registerAdminEndpoint registers the admin signal endpoint when a token is configured.
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger

	if s.opts.AdminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (server.admin_token not set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.opts.AdminToken,
		RateLimit: adminRateLimit,
		RateBurst: adminRateBurst,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
