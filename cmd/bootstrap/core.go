package bootstrap

import (
	"context"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"philcali.me/notify/internal/config"
	"philcali.me/notify/internal/delivery"
	"philcali.me/notify/internal/notifications"
	"philcali.me/notify/internal/publisher"
	"philcali.me/notify/internal/subscriptions"
	"philcali.me/notify/internal/topics"
)

var CoreModule = fx.Module("core",
	fx.Provide(
		NewRegistry,
		NewSubscriptionTable,
		NewEngine,
		fx.Annotate(
			NewPublisher,
			fx.As(new(publisher.Publisher)),
		),
	),
)

// NewRegistry drops the delivery history of deleted topics when the log
// keeps it in memory.
func NewRegistry(logger zerolog.Logger, reader notifications.DeliveryReader) *topics.Registry {
	registry := topics.NewRegistry(logger)
	if forgetful, ok := reader.(interface{ Forget(topicId string) }); ok {
		registry.OnDelete(forgetful.Forget)
	}
	return registry
}

func NewSubscriptionTable(registry *topics.Registry, confirmations notifications.ConfirmationChannel, logger zerolog.Logger) *subscriptions.Table {
	return subscriptions.NewTable(registry, confirmations, logger)
}

func DeliveryConfig(cfg config.Config) delivery.Config {
	return delivery.Config{
		Workers:     cfg.Delivery.Workers,
		MaxAttempts: cfg.Delivery.MaxAttempts,
		BaseBackoff: cfg.Delivery.BaseBackoff,
		Factor:      cfg.Delivery.Factor,
		MaxBackoff:  cfg.Delivery.MaxBackoff,
		SendTimeout: cfg.Delivery.SendTimeout,
		DedupWindow: cfg.Delivery.DedupWindow,
	}
}

type EngineParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Table     *subscriptions.Table
	Transport notifications.Transport
	OptOut    notifications.OptOutOracle
	Log       notifications.DeliveryLog
	Status    notifications.StatusPublisher
	Logger    zerolog.Logger
}

func NewEngine(p EngineParams) (*delivery.Engine, error) {
	engine, err := delivery.NewEngine(DeliveryConfig(p.Config), delivery.Dependencies{
		Resolver:  p.Table,
		Transport: p.Transport,
		OptOut:    p.OptOut,
		Log:       p.Log,
		Status:    p.Status,
		Logger:    p.Logger,
	})
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return engine.Close(ctx)
		},
	})
	return engine, nil
}

type PublisherParams struct {
	fx.In

	Config     config.Config
	Registry   *topics.Registry
	Table      *subscriptions.Table
	Engine     *delivery.Engine
	OptOut     notifications.OptOutOracle
	Deliveries notifications.DeliveryReader
	Logger     zerolog.Logger
}

func NewPublisher(p PublisherParams) *publisher.Service {
	return publisher.NewService(publisher.Dependencies{
		Topics:         p.Registry,
		Subscriptions:  p.Table,
		Engine:         p.Engine,
		OptOut:         p.OptOut,
		Deliveries:     p.Deliveries,
		Logger:         p.Logger,
		PublishTimeout: p.Config.App.PublishTimeout,
	})
}
