package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/taxmill/taxmill/internal/api"
	v1 "github.com/taxmill/taxmill/internal/api/v1"
	"github.com/taxmill/taxmill/internal/config"
	"github.com/taxmill/taxmill/internal/logger"
	"github.com/taxmill/taxmill/internal/service"
)

// @title Taxmill API
// @version 1.0
// @description Tax computation and rounding-distribution engine
// @BasePath /v1
// @schemes http https

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	app := fx.New(
		fx.Provide(
			config.NewConfig,
			logger.NewLogger,

			service.NewTaxService,

			v1.NewTaxHandler,
			v1.NewHealthHandler,
			api.NewHandlers,
			api.NewRouter,
		),
		fx.Invoke(startAPIServer),
	)

	app.Run()
}

func startAPIServer(
	lc fx.Lifecycle,
	r *gin.Engine,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infof("Starting API server on %s", cfg.Server.Address)
			go func() {
				if err := r.Run(cfg.Server.Address); err != nil {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down server...")
			return nil
		},
	})
}
