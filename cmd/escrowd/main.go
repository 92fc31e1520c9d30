package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"p2pescrow/config"
	"p2pescrow/core/events"
	"p2pescrow/core/types"
	"p2pescrow/gateway/middleware"
	"p2pescrow/gateway/routes"
	"p2pescrow/native/escrow"
	"p2pescrow/observability"
	"p2pescrow/observability/logging"
	telemetry "p2pescrow/observability/otel"
)

func main() {
	var cfgPath string
	var tokenFor string
	var tokenTTL time.Duration
	flag.StringVar(&cfgPath, "config", "./escrowd.toml", "path to escrowd configuration")
	flag.StringVar(&tokenFor, "issue-token", "", "print a bearer token for the given account address and exit")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	env := cfg.Environment
	if override := strings.TrimSpace(os.Getenv("ESCROW_ENV")); override != "" {
		env = override
	}
	logger := logging.Setup("escrowd", env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	if tokenFor != "" {
		if err := printToken(cfg, tokenFor, tokenTTL); err != nil {
			logger.Error("issue token", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, env, logger); err != nil {
		logger.Error("escrowd stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, env string, logger *slog.Logger) error {
	headers := telemetry.ParseHeaders(cfg.Observability.OTLPHeaders)
	if raw := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); raw != "" {
		headers = telemetry.ParseHeaders(raw)
	}
	endpoint := cfg.Observability.OTLPEndpoint
	if override := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); override != "" {
		endpoint = override
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.Observability.ServiceName,
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    cfg.Observability.Insecure,
		Headers:     headers,
		Metrics:     cfg.Observability.Metrics,
		Traces:      cfg.Observability.Traces,
		SampleRatio: cfg.Observability.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	arbiter, err := buildArbiter(cfg, logger)
	if err != nil {
		return fmt.Errorf("configure arbitration: %w", err)
	}
	engine, led := newWiredEngine(db, arbiter, logger)
	if cfg.Webhook.URL != "" {
		hooks, err := buildWebhooks(cfg, logger)
		if err != nil {
			return err
		}
		defer hooks.Close()
		engine.SetEmitter(events.Fanout{observability.Events(), eventLog{logger: logger}, hooks})
	}

	secret, err := cfg.Auth.Secret()
	if err != nil {
		return err
	}
	handler := routes.New(routes.Config{
		Engine:   engine,
		Balances: led,
		Logger:   logger,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			HMACSecret: secret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{
			RatePerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:         cfg.RateLimit.Burst,
		}, logger, observability.Gateway().RecordThrottle),
		Observability:  middleware.NewObservability(cfg.Observability.ServiceName, observability.Gateway(), logger),
		AnonymousReads: cfg.Auth.AllowAnonymousReads,
		ResolveTimeout: time.Duration(cfg.Arbitration.TimeoutSeconds) * time.Second,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		tls := cfg.TLSCertFile != ""
		logger.Info("escrowd listening",
			"address", listener.Addr().String(),
			"tls", tls,
			"validators", len(cfg.Consensus.Validators),
			"persistent", cfg.DataDir != "")
		var err error
		if tls {
			err = server.ServeTLS(listener, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = server.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func printToken(cfg *config.Config, address string, ttl time.Duration) error {
	caller, err := escrow.ParseAddress(strings.TrimSpace(address))
	if err != nil {
		return err
	}
	secret, err := cfg.Auth.Secret()
	if err != nil {
		return err
	}
	token, err := middleware.IssueToken(secret, cfg.Auth.Issuer, cfg.Auth.Audience, caller, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// eventLog writes committed events to the structured log.
type eventLog struct {
	logger *slog.Logger
}

func (l eventLog) Emit(evt events.Event) {
	typed, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		l.logger.Info("escrow event", "type", evt.EventType())
		return
	}
	payload := typed.Event()
	if payload == nil {
		return
	}
	attrs := make([]any, 0, 2*len(payload.Attributes)+2)
	attrs = append(attrs, "type", payload.Type)
	for _, key := range payload.Keys() {
		attrs = append(attrs, key, payload.Attributes[key])
	}
	l.logger.Info("escrow event", attrs...)
}
