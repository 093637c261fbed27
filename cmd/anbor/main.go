package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"anbor/internal/auth"
	"anbor/internal/backend"
	"anbor/internal/config"
	apphttp "anbor/internal/http"
	applog "anbor/internal/log"
)

func main() {
	// .env is for local development, missing file is fine
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	roles, err := cfg.RoleTable()
	if err != nil {
		logger.Error("Role table parse failed", "error", err)
		os.Exit(1)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Backend configuration failed", "error", err)
		os.Exit(1)
	}

	factory := backend.NewFactory(nil)
	result, err := factory.CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Backend initialization failed", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer func() {
			if err := result.Cleanup(); err != nil {
				logger.Error("Backend cleanup failed", "error", err)
			}
		}()
	}

	sessions := result.Sessions
	if sessions == nil {
		logger.Warn("Backend has no durable session store, sessions will not survive restarts")
		sessions = auth.NewMemoryStore()
	}

	authManager, err := auth.NewManager(auth.Config{
		ClientID:    cfg.OAuthClientID,
		Origin:      cfg.AppOrigin,
		AuthURL:     cfg.OAuthAuthURL,
		TokenURL:    cfg.OAuthTokenURL,
		UserInfoURL: cfg.OAuthUserInfoURL,
		Roles:       roles,
		Durable:     sessions,
		Ephemeral:   auth.NewMemoryStore(),
	})
	if err != nil {
		logger.Error("Auth manager initialization failed", "error", err)
		os.Exit(1)
	}

	srv := apphttp.NewServer(apphttp.Options{
		Addr: ":" + cfg.Port,
		Auth: authManager,

		Writer:       result.Backend,
		MetaReader:   result.Backend,
		MetaWriter:   result.Backend,
		ReportReader: result.Backend,
		SnapReader:   result.Backend,

		ReportCacheSize:    cfg.ReportCacheSize,
		ReportCacheTTL:     cfg.ReportCacheTTL,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting anbor server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
