package bootstrap

import (
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"philcali.me/notify/internal/config"
	"philcali.me/notify/internal/logger"
)

var LoggerModule = fx.Module("logger",
	fx.Provide(
		NewLogger,
	),
)

func NewLogger(cfg config.Config) (zerolog.Logger, error) {
	log, err := logger.New(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		return zerolog.Logger{}, err
	}
	return *log, nil
}
