package bootstrap

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"philcali.me/notify/internal/config"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/dynamodb/apitokens"
	"philcali.me/notify/internal/dynamodb/deliveries"
	"philcali.me/notify/internal/dynamodb/token"
	"philcali.me/notify/internal/kafka/status"
	"philcali.me/notify/internal/notifications"
	snsServices "philcali.me/notify/internal/sns/services"
)

// AdaptersModule chooses the implementation of every collaborator from config:
// SNS or the local log transport, DynamoDB or memory for the delivery log,
// Kafka or the log for status events when there is no table stream.
var AdaptersModule = fx.Module("adapters",
	fx.Provide(
		NewTransport,
		NewOptOut,
		NewConfirmationChannel,
		NewStorage,
		NewApiTokens,
		NewEngineStatus,
	),
)

func NewTransport(cfg config.Config, client *sns.Client, logger zerolog.Logger) notifications.Transport {
	if cfg.App.Transport == config.TRANSPORT_LOG {
		return notifications.NewLocalTransport(logger, cfg.Delivery.LogCapacity)
	}
	return snsServices.NewTransport(client, snsServices.TransportConfig{
		EmailTopicArn: cfg.AWS.EmailTopicArn,
		SMSType:       cfg.SMS.Type,
		SenderId:      cfg.SMS.SenderId,
		MaxPrice:      cfg.SMS.MaxPrice,
	})
}

func NewOptOut(cfg config.Config, client *sns.Client) notifications.OptOutOracle {
	if cfg.App.Transport == config.TRANSPORT_LOG {
		return notifications.NewStaticOptOut()
	}
	return &snsServices.OptOutSNSService{Sns: client}
}

func NewConfirmationChannel(transport notifications.Transport) notifications.ConfirmationChannel {
	return notifications.NewTransportConfirmation(transport)
}

type Storage struct {
	fx.Out

	Log    notifications.DeliveryLog
	Reader notifications.DeliveryReader
}

func NewStorage(cfg config.Config, client *dynamodb.Client) Storage {
	if cfg.AWS.TableName == "" {
		log := notifications.NewMemoryDeliveryLog(cfg.Delivery.LogCapacity)
		return Storage{Log: log, Reader: log}
	}
	repository := deliveries.NewDeliveryRepository(cfg.AWS.TableName, client, token.NewGCM([]byte(cfg.AWS.TokenSecret)))
	log := deliveries.NewDeliveryService(repository, cfg.AWS.Retention)
	return Storage{Log: log, Reader: log}
}

// NewApiTokens is nil without a table; the token routes are then not served.
func NewApiTokens(cfg config.Config, client *dynamodb.Client) data.ApiTokenRepository {
	if cfg.AWS.TableName == "" {
		return nil
	}
	return apitokens.NewApiTokenService(cfg.AWS.TableName, client, token.NewGCM([]byte(cfg.AWS.TokenSecret)))
}

// NewEngineStatus is nil when the DynamoDB delivery log is in use. The table
// stream read by cmd/events is then the only source of status events.
func NewEngineStatus(lc fx.Lifecycle, cfg config.Config, logger zerolog.Logger) (notifications.StatusPublisher, error) {
	if cfg.AWS.TableName != "" {
		return nil, nil
	}
	return NewStatusPublisher(lc, cfg, logger)
}

func NewStatusPublisher(lc fx.Lifecycle, cfg config.Config, logger zerolog.Logger) (notifications.StatusPublisher, error) {
	if !cfg.Kafka.Enabled() {
		return notifications.NewLogStatusPublisher(logger), nil
	}
	producer, err := status.NewSyncProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientId)
	if err != nil {
		return nil, err
	}
	publisher := status.NewStatusPublisher(producer, cfg.Kafka.Topic, logger)
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}
