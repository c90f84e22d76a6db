// Command server runs the stapel batch completion gateway.
//
// Configuration is layered: built-in defaults, then a YAML config file
// (via -config, STAPEL_CONFIG, ./config.yaml, or /etc/stapel/config.yaml),
// then STAPEL_ environment variable overrides. The most common settings:
//
//	STAPEL_BACKEND_URL      - Chat Completions backend URL (required)
//	STAPEL_MODEL            - Default model name (optional)
//	STAPEL_PORT             - Listen port (default: 8080)
//	STAPEL_STORAGE          - Storage type: "memory" or "postgres"
//	STAPEL_DISPATCH_TIMEOUT - Per-batch completion deadline (default: 60s)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/stapel-ai/stapel/pkg/auth"
	"github.com/stapel-ai/stapel/pkg/auth/apikey"
	jwtauth "github.com/stapel-ai/stapel/pkg/auth/jwt"
	"github.com/stapel-ai/stapel/pkg/auth/noop"
	"github.com/stapel-ai/stapel/pkg/config"
	"github.com/stapel-ai/stapel/pkg/engine"
	"github.com/stapel-ai/stapel/pkg/provider/openaicompat"
	"github.com/stapel-ai/stapel/pkg/storage/memory"
	"github.com/stapel-ai/stapel/pkg/storage/postgres"
	"github.com/stapel-ai/stapel/pkg/transport"
	transporthttp "github.com/stapel-ai/stapel/pkg/transport/http"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Backend provider.
	prov := openaicompat.NewClient(cfg.Engine.Provider, cfg.Engine.BackendURL,
		cfg.Engine.APIKey, 120*time.Second)
	defer prov.Close()

	// Run store.
	store, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	eng := engine.New(prov, store, logger, engine.Options{
		DefaultModel: cfg.Engine.DefaultModel,
		Timeout:      cfg.Dispatch.Timeout,
		MaxWorkers:   cfg.Dispatch.MaxWorkers,
	})

	authMW, err := newAuthMiddleware(cfg)
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}

	metricsPath := ""
	if cfg.Observability.Metrics.Enabled {
		metricsPath = cfg.Observability.Metrics.Path
	}

	srv := transporthttp.NewServer(eng, eng, store,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithWriteTimeout(cfg.Server.WriteTimeout),
		transporthttp.WithMetricsPath(metricsPath),
		transporthttp.WithLogger(logger),
		transporthttp.WithModels(prov),
		transporthttp.WithHTTPMiddleware(authMW),
	)

	logger.Info("starting stapel gateway",
		"port", cfg.Server.Port,
		"backend", cfg.Engine.BackendURL,
		"model", cfg.Engine.DefaultModel,
		"storage", cfg.Storage.Type,
		"auth", cfg.Auth.Type,
	)

	return srv.ListenAndServe()
}

// newStore builds the run store from configuration.
func newStore(cfg *config.Config) (transport.RunStore, error) {
	switch cfg.Storage.Type {
	case "memory":
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.Storage.MaxSize)
		return memory.New(cfg.Storage.MaxSize), nil
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("storage enabled", "type", "postgres")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// newAuthMiddleware assembles the authentication chain and rate limiter
// from configuration.
func newAuthMiddleware(cfg *config.Config) (func(http.Handler) http.Handler, error) {
	chain := &auth.Chain{DefaultDecision: auth.No}

	switch cfg.Auth.Type {
	case "none":
		chain.Authenticators = []auth.Authenticator{&noop.Authenticator{}}
	case "apikey":
		keys := make([]apikey.Key, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			keys = append(keys, apikey.Key{
				Secret:  k.Key,
				Subject: k.Subject,
				Tenant:  k.TenantID,
				Tier:    k.ServiceTier,
			})
		}
		chain.Authenticators = []auth.Authenticator{apikey.New(keys)}
	case "jwt":
		chain.Authenticators = []auth.Authenticator{jwtauth.New(jwtauth.Config{
			Secret:   cfg.Auth.JWT.Secret,
			Issuer:   cfg.Auth.JWT.Issuer,
			Audience: cfg.Auth.JWT.Audience,
		})}
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Auth.Type)
	}

	var limiter auth.RateLimiter
	if cfg.Auth.RateLimit.Enabled {
		limiter = auth.NewInProcessLimiter(nil,
			cfg.Auth.RateLimit.RequestsPerMinute, cfg.Auth.RateLimit.Burst)
	}

	return auth.Middleware(chain, limiter, auth.DefaultBypassEndpoints), nil
}
