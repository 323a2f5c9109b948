package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mailrelay/mailrelay/internal/config"
	"github.com/mailrelay/mailrelay/internal/core"
	"github.com/mailrelay/mailrelay/internal/core/engine"
	"github.com/mailrelay/mailrelay/internal/core/store"
	"github.com/mailrelay/mailrelay/internal/observability"
	"github.com/mailrelay/mailrelay/internal/server"
	"github.com/mailrelay/mailrelay/internal/server/handlers"
	"github.com/mailrelay/mailrelay/internal/transport"
)

// relay holds the components assembled for serve.
type relay struct {
	limiter      *engine.SlidingWindowLimiter
	transport    *transport.SMTPTransport
	store        *store.Store
	orchestrator *engine.Orchestrator
	health       *handlers.HealthManager
}

// buildRelay wires the pipeline from configuration. The caller owns the
// returned store and must call close.
func buildRelay(ctx context.Context, cfg *config.Config) (*relay, error) {
	transportCfg, err := cfg.TransportConfig()
	if err != nil {
		return nil, err
	}
	smtpTransport, err := transport.NewSMTPTransport(transportCfg)
	if err != nil {
		return nil, fmt.Errorf("smtp transport: %w", err)
	}

	r := &relay{
		limiter:   engine.NewSlidingWindowLimiter(cfg.RateLimit.Window, cfg.RateLimit.Capacity),
		transport: smtpTransport,
		health:    handlers.NewHealthManager(versionInfo.Version),
	}

	r.orchestrator = &engine.Orchestrator{
		Auth: engine.Authenticator{
			Secret:       cfg.Auth.APIKey,
			ConstantTime: cfg.Auth.ConstantTime,
		},
		Limiter: r.limiter,
		Builder: engine.Builder{Defaults: core.MessageDefaults{
			From:       cfg.Email.From,
			To:         cfg.Email.To,
			SenderName: cfg.Email.SenderName,
		}},
		Transport: smtpTransport,
		Timeout:   cfg.SendTimeout(),
	}

	r.health.RegisterChecker("transport", smtpTransport)

	if cfg.Store.Enabled {
		db, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("open delivery log: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		r.store = db
		r.orchestrator.Recorder = db
		r.health.RegisterChecker("store", db)
	}

	return r, nil
}

func (r *relay) serverOptions(cfg *config.Config) (server.Options, error) {
	maxBody, err := cfg.MaxBodyBytes()
	if err != nil {
		return server.Options{}, err
	}
	return server.Options{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		TrustProxy:     cfg.Server.TrustProxy,
		MaxBodyBytes:   maxBody,
		IdentitySource: handlers.IdentitySource(cfg.RateLimit.IdentitySource),
		Relay:          r.orchestrator,
		Limiter:        r.limiter,
		Health:         r.health,
		AdminToken:     cfg.Server.AdminToken,
		MetricsPort:    cfg.Metrics.Port,
	}, nil
}

func (r *relay) close() {
	if r == nil || r.store == nil {
		return
	}
	if err := r.store.Close(); err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Failed to close delivery log", zap.Error(err))
	}
}
