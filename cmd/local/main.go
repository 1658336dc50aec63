package main

import (
	"context"
	"net"
	"net/http"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"philcali.me/notify/cmd/bootstrap"
	"philcali.me/notify/internal/config"
	"philcali.me/notify/internal/local"
	"philcali.me/notify/internal/routes"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	}
}

func NewEngine(router *routes.Router, logger zerolog.Logger) *gin.Engine {
	user := os.Getenv("LOCAL_USER")
	if user == "" {
		user = "local"
	}
	return local.NewEngine(router, logger, user)
}

func startServer(lc fx.Lifecycle, engine *gin.Engine, cfg config.Config, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: engine,
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			listener, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return err
			}
			logger.Info().Str("address", server.Addr).Str("mode", gin.Mode()).Msg("serving notifications locally")
			go func() {
				if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error().Err(err).Msg("server stopped unexpectedly")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("stopping server")
			return server.Shutdown(ctx)
		},
	})
}

func main() {
	// A missing .env leaves the environment as is.
	_ = godotenv.Load()
	if os.Getenv("TRANSPORT") == "" {
		os.Setenv("TRANSPORT", "log")
	}
	app := fx.New(
		bootstrap.Module,
		fx.Provide(
			NewEngine,
		),
		fx.Invoke(startServer),
		fx.NopLogger,
	)
	if err := app.Start(context.Background()); err != nil {
		log := zerolog.New(os.Stderr)
		log.Fatal().Err(err).Msg("failed to start")
	}
	<-app.Done()
	if err := app.Stop(context.Background()); err != nil {
		log := zerolog.New(os.Stderr)
		log.Error().Err(err).Msg("failed to stop cleanly")
	}
}
