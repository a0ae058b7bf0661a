package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"lessonforge/server/internal/http/handlers"
	httpapi "lessonforge/server/internal/http/httpapi"
	"lessonforge/server/internal/infra"
	"lessonforge/server/internal/infra/geoip"
	"lessonforge/server/internal/service"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire services")
	}
	defer svc.Close()

	app := &handlers.App{
		Jobs:         svc.Jobs,
		Assets:       svc.Assets,
		Worker:       svc.Worker,
		Blobs:        svc.Uploader,
		Templates:    svc.Templates,
		Logger:       logger,
		DefaultBatch: cfg.Worker.BatchLimit,
	}
	opts := httpapi.Options{
		Logger:           logger,
		AdminToken:       cfg.AdminToken,
		CORSOrigins:      cfg.CORSOrigins,
		ProcessRateLimit: cfg.ProcessRateLimit,
		StaticDir:        svc.StaticDir,
	}
	resolver, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		defer resolver.Close()
		opts.Country = resolver
	}
	router := httpapi.NewRouter(app, opts)
	if cfg.AdminToken == "" {
		logger.Warn().Msg("ADMIN_TOKEN not set, job mutations are unauthenticated")
	}

	server := infra.NewHTTPServer(cfg, router)
	logger.Info().Strs("workflows", svc.Templates.Names()).Msgf("API listening on :%s", cfg.Port)
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("http server failed")
		return
	}
	logger.Info().Msg("server stopped")
}
