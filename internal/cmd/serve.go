package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mailrelay/mailrelay/internal/config"
	errwrap "github.com/mailrelay/mailrelay/internal/errors"
	"github.com/mailrelay/mailrelay/internal/metrics"
	"github.com/mailrelay/mailrelay/internal/observability"
	"github.com/mailrelay/mailrelay/internal/server"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay HTTP server",
	Long: `Start the relay HTTP server with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Logged only; relay settings are read once, restart to apply changes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
			return err
		}

		observability.InitServerLogger(observability.ServerLoggerOptions{
			Service:   config.AppName,
			Level:     cfg.Logging.Level,
			Profile:   cfg.Logging.Profile,
			Namespace: config.AppName,
		})
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		rel, err := buildRelay(cmd.Context(), cfg)
		if err != nil {
			logger.Error("Failed to initialize relay", zap.Error(err))
			return errwrap.WrapInternal(cmd.Context(), err, "relay initialization failed")
		}
		defer rel.close()

		if cfg.Metrics.Enabled {
			rel.health.RegisterChecker("telemetry", telemetryHealthChecker{})
		}

		opts, err := rel.serverOptions(cfg)
		if err != nil {
			return err
		}
		srv := server.New(opts)

		mode, _ := cfg.SecurityMode()
		logger.Info("Initializing relay",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("addr", cfg.Addr()),
			zap.String("smtp_addr", rel.transport.Addr()),
			zap.String("smtp_security", mode.String()),
			zap.Int("rate_limit_capacity", cfg.RateLimit.Capacity),
			zap.Duration("rate_limit_window", cfg.RateLimit.Window),
			zap.String("identity_source", cfg.RateLimit.IdentitySource),
			zap.Bool("delivery_log", cfg.Store.Enabled),
			zap.Bool("metrics", cfg.Metrics.Enabled),
			zap.Int("metrics_port", observability.GetMetricsPort()))

		if cfg.Auth.APIKey != "" && !cfg.Auth.ConstantTime {
			logger.Debug("API key comparison uses plain equality; set auth.constant_time to harden")
		}

		metrics.SetServerStartTime(time.Now().Unix())

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.ShutdownMetrics(); err != nil {
				logger.Warn("Failed to stop metrics exporter", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Warn("Received SIGHUP: relay settings are fixed at startup, restart to apply changes",
				zap.String("config_file", viper.ConfigFileUsed()))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Empty defaults so server.server_host / server.server_port still apply.
	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host (default "+config.DefaultHost+")")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 0, fmt.Sprintf("server port (default %d)", config.DefaultPort))

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
