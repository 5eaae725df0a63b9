package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	gateway "github.com/agile6/mcp-auth-gateway"
	echoapi "github.com/agile6/mcp-auth-gateway/api/echo"
	"github.com/agile6/mcp-auth-gateway/config"
	"github.com/agile6/mcp-auth-gateway/kv"
	gwlog "github.com/agile6/mcp-auth-gateway/log"
	kvmongo "github.com/agile6/mcp-auth-gateway/kv/mongodb"
	kvredis "github.com/agile6/mcp-auth-gateway/kv/redis"
	"github.com/agile6/mcp-auth-gateway/provider"
	"github.com/agile6/mcp-auth-gateway/tools"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	gwlog.Setup(cfg.LogLevel, cfg.LogPretty)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("store_backend", cfg.StoreBackend).
		Str("log_level", cfg.LogLevel).
		Msg("Starting mcp-auth-gateway")

	if cfg.GatewaySecret == "" {
		log.Fatal().Msg("GATEWAY_SECRET must be set")
	}

	ctx := context.Background()

	// A misconfigured or unreachable store is fatal: authentication must
	// fail fast, never degrade into rejecting everything as
	// unauthenticated.
	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("Failed to initialize key-value store")
	}
	defer cleanup()

	secret := []byte(cfg.GatewaySecret)

	tokenService := gateway.NewTokenService(store, time.Duration(cfg.TokenTTLHours)*time.Hour)
	tokenAdmin := gateway.NewTokenAdmin(tokenService)

	states, err := gateway.NewStateManager(store, secret, time.Duration(cfg.StateTTLMin)*time.Minute, cfg.SecureCookies)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize state manager")
	}
	approvals, err := gateway.NewApprovalManager(secret, cfg.SecureCookies)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize approval manager")
	}
	sessions, err := gateway.NewSessionIssuer(secret, time.Duration(cfg.SessionTTLMin)*time.Minute)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize session issuer")
	}

	idp := provider.New(provider.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		AuthURL:      cfg.OAuthAuthURL,
		TokenURL:     cfg.OAuthTokenURL,
		UserinfoURL:  cfg.OAuthUserinfoURL,
		RedirectURL:  cfg.OAuthRedirectURL,
	})

	callback := gateway.NewCallbackHandler(states, idp, store, sessions, cfg.Domains())
	validator := gateway.NewValidator(tokenService, cfg.Domains(), cfg.TokenSystemEnabled, cfg.RequireAuth)

	// Data tools register here; the auth core only guarantees they run
	// behind a resolved identity.
	registry := tools.NewRegistry()

	api := echoapi.NewAuthAPI(states, approvals, callback, tokenService, tokenAdmin, validator, sessions, idp, registry, cfg)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.RegisterRoutes(e)

	go func() {
		log.Info().Msgf("HTTP server listening on port %s", cfg.HTTPPort)
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Server stopped")
}

// openStore selects and verifies the kv backend. The returned cleanup
// closes backend connections on shutdown.
func openStore(ctx context.Context, cfg *config.GatewayConfig) (kv.Store, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		log.Warn().Msg("Using in-memory store; state is lost on restart")
		mem := kv.NewMemoryStore()
		return mem, mem.Stop, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return kvredis.NewStore(client, cfg.RedisKeyPrefix), func() { _ = client.Close() }, nil

	case "mongodb":
		client, store, err := kvmongo.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = client.Disconnect(context.Background()) }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
