package bootstrap

import (
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/publisher"
	"philcali.me/notify/internal/routes"
	"philcali.me/notify/internal/routes/apitokens"
	"philcali.me/notify/internal/routes/sms"
	"philcali.me/notify/internal/routes/subscriptions"
	"philcali.me/notify/internal/routes/topics"
)

var RoutesModule = fx.Module("routes",
	fx.Provide(
		NewRouter,
	),
)

func NewRouter(logger zerolog.Logger, service publisher.Publisher, tokens data.ApiTokenRepository) *routes.Router {
	services := []routes.Service{
		topics.NewRoute(service),
		subscriptions.NewRoute(service),
		sms.NewRoute(service),
	}
	if tokens != nil {
		services = append(services, apitokens.NewRoute(tokens))
	}
	return routes.NewRouter(logger, services...)
}
