package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/fx"
	"philcali.me/notify/cmd/bootstrap"
	"philcali.me/notify/internal/routes"
)

type App struct {
	Router *routes.Router
}

func (app *App) HandleRequest(ctx context.Context, request events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	return app.Router.Invoke(request, ctx), nil
}

func main() {
	var app App
	container := fx.New(
		bootstrap.Module,
		fx.Populate(&app.Router),
		fx.NopLogger,
	)
	if err := container.Err(); err != nil {
		panic(err)
	}
	if err := container.Start(context.Background()); err != nil {
		panic(err)
	}
	// Pending deliveries are drained before the runtime shuts the sandbox down.
	stop := func() {
		_ = container.Stop(context.Background())
	}
	lambda.StartWithOptions(app.HandleRequest, lambda.WithEnableSIGTERM(stop))
}
