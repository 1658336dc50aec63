package bootstrap

import (
	"go.uber.org/fx"
	"philcali.me/notify/internal/config"
)

var ConfigModule = fx.Module("config",
	fx.Provide(
		config.LoadConfig,
	),
)
