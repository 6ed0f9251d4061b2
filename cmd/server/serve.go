package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/nammalwarsai/skill3-cie/internal/config"
	"github.com/nammalwarsai/skill3-cie/internal/gateway"
	"github.com/nammalwarsai/skill3-cie/internal/handler"
	"github.com/nammalwarsai/skill3-cie/internal/middleware"
	"github.com/nammalwarsai/skill3-cie/internal/repository"
	"github.com/nammalwarsai/skill3-cie/internal/router"
	"github.com/nammalwarsai/skill3-cie/internal/service"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd)
		},
	}
}

func runServer(cmd *cobra.Command) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to open stores")
		return err
	}
	defer st.Close()

	var events gateway.EventPublisher = service.LogPublisher{Log: log.With().Str("component", "audit").Logger()}
	if cfg.EventsEnabled {
		pub := service.NewAuditPublisher(cfg.RabbitURL, log.With().Str("component", "audit").Logger())
		defer pub.Close()
		events = pub
	}
	gw := newGateway(cfg, st, log, gateway.WithEvents(events))

	// Redis is optional: without it rate limiting is off and logins hand out
	// access tokens only.
	var tokens handler.RefreshStore
	rdb := config.NewRedisClient(ctx)
	if rdb != nil {
		defer rdb.Close()
		tokens = repository.NewTokenRepo(rdb)
		log.Info().Msg("redis connected")
	} else {
		log.Warn().Msg("redis unavailable; refresh tokens and rate limiting disabled")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))
	e.Use(echomw.SecureWithConfig(echomw.SecureConfig{
		XSSProtection:      "0",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
	}))

	tokenCfg := handler.TokenConfig{JWTSecret: cfg.JWTSecret, AccessTTL: cfg.AccessTTL, RefreshTTL: cfg.RefreshTTL}
	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log)

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(tokenCfg, gw, tokens), cfg.JWTSecret, limit)
	router.RegisterFiles(e, handler.NewFileHandler(gw, cfg.MaxUploadBytes), cfg.JWTSecret)
	router.RegisterDoctor(e, handler.NewDoctorHandler(gw), cfg.JWTSecret)
	if st.memBlobs != nil {
		router.RegisterBlobs(e, &handler.BlobHandler{Blobs: st.memBlobs})
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Info().Str("addr", addr).Str("records", cfg.RecordBackend).Str("blobs", cfg.BlobBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server error")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
