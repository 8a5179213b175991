package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lanrelay/lanrelay/internal/config"
	"github.com/lanrelay/lanrelay/internal/delegate"
	"github.com/lanrelay/lanrelay/internal/session"
	"github.com/lanrelay/lanrelay/internal/ws"
)

var (
	serveHost    string
	servePort    int
	serveEcho    bool
	serveDetails []string
	serveTokens  []string
	serveMetrics bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a relay",
	Long: `Start a relay that forwards every message from one client to the others.
The relay advertises its details on GET / so that scanners can find it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyServeFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, log)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Override listen address")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override listen port")
	serveCmd.Flags().BoolVar(&serveEcho, "echo", false, "Also deliver messages back to their sender")
	serveCmd.Flags().StringArrayVar(&serveDetails, "detail", nil, "Advertised detail as key=value (repeatable)")
	serveCmd.Flags().StringArrayVar(&serveTokens, "token", nil, "Accepted auth token (repeatable)")
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", false, "Expose Prometheus metrics on /metrics")
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("echo") {
		cfg.Server.Echo = serveEcho
	}
	if cmd.Flags().Changed("metrics") {
		cfg.Server.Metrics = serveMetrics
	}
	if len(serveTokens) > 0 {
		cfg.Server.Auth.Tokens = append(cfg.Server.Auth.Tokens, serveTokens...)
	}
	details, err := parseDetails(serveDetails)
	if err != nil {
		return err
	}
	cfg.Server.Details = mergeDetails(cfg.Server.Details, details)
	return nil
}

// relayConfig turns the server section into the relay's delegates.
func relayConfig(sc config.ServerConfig, log *zap.Logger) ws.Config {
	rc := ws.Config{
		Details:          sc.Details,
		Echo:             sc.Echo,
		Authenticator:    sc.Auth.Authenticator(),
		ClientValidator:  sc.ClientValidator(),
		MessageValidator: sc.Messages.Validator(),
		ValidatorTimeout: sc.Messages.ValidatorTimeout,
		MaxClients:       sc.MaxClients,
		AllowedOrigins:   sc.AllowedOrigins,
		Logger:           log,
		Observer: delegate.ObserverFuncs{
			Connected: func(c *session.Client) {
				log.Info("client joined", zap.String("session", c.ID()), zap.Any("details", c.Details()))
			},
			Disconnected: func(c *session.Client) {
				log.Info("client left", zap.String("session", c.ID()))
			},
		},
	}
	if sc.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rc.Metrics = reg
	}
	return rc
}

func runServe(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	srv := ws.NewServer(relayConfig(cfg.Server, log))
	if err := srv.Start(cfg.Server.Host, cfg.Server.Port); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}
	log.Info("relay listening",
		zap.Stringer("addr", srv.Addr()),
		zap.Bool("echo", cfg.Server.Echo),
		zap.Bool("metrics", cfg.Server.Metrics),
	)

	<-ctx.Done()
	log.Info("shutting down")
	return srv.Stop()
}
