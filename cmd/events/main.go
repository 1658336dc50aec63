package main

import (
	"context"

	lambdaEvents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"philcali.me/notify/cmd/bootstrap"
	"philcali.me/notify/internal/events"
	"philcali.me/notify/internal/notifications"
)

// NewDispatcher republishes delivery transitions written to the table
// stream as status events.
func NewDispatcher(logger zerolog.Logger, status notifications.StatusPublisher) *events.Dispatcher {
	return events.NewDispatcher(logger, events.DefaultDeliveryStatusHandler(status))
}

func main() {
	var dispatcher *events.Dispatcher
	container := fx.New(
		bootstrap.ConfigModule,
		bootstrap.LoggerModule,
		fx.Provide(
			bootstrap.NewStatusPublisher,
			NewDispatcher,
		),
		fx.Populate(&dispatcher),
		fx.NopLogger,
	)
	if err := container.Err(); err != nil {
		panic(err)
	}
	if err := container.Start(context.Background()); err != nil {
		panic(err)
	}
	stop := func() {
		_ = container.Stop(context.Background())
	}
	lambda.StartWithOptions(func(ctx context.Context, event lambdaEvents.DynamoDBEvent) (lambdaEvents.DynamoDBEventResponse, error) {
		return dispatcher.Dispatch(ctx, event), nil
	}, lambda.WithEnableSIGTERM(stop))
}
