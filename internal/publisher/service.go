package publisher

import (
	"context"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/delivery"
	"philcali.me/notify/internal/endpoints"
	"philcali.me/notify/internal/exceptions"
	"philcali.me/notify/internal/notifications"
	"philcali.me/notify/internal/subscriptions"
	"philcali.me/notify/internal/topics"
)

type Publisher interface {
	CreateTopic(name string) (data.Topic, error)
	GetTopic(topicId string) (data.Topic, error)
	ListTopics(params data.QueryParams) (data.QueryResults[data.Topic], error)
	DeleteTopic(topicId string) error
	Subscribe(ctx context.Context, topicId string, kind data.EndpointKind, address string) (data.Subscription, error)
	SubscribeEmail(ctx context.Context, topicId string, address string) (data.Subscription, error)
	SubscribeSms(ctx context.Context, topicId string, phoneNumber string) (data.Subscription, error)
	SubscribePush(ctx context.Context, topicId string, endpoint string) (data.Subscription, error)
	ConfirmSubscription(subscriptionId string, token string) (data.Subscription, error)
	RejectSubscription(subscriptionId string, token string) (data.Subscription, error)
	GetSubscription(subscriptionId string) (data.Subscription, error)
	ListSubscriptions(topicId string, params data.QueryParams) (data.QueryResults[data.Subscription], error)
	Unsubscribe(subscriptionId string)
	PublishToTopic(ctx context.Context, topicId string, message data.Message) (*delivery.Receipt, error)
	PublishDirect(ctx context.Context, kind data.EndpointKind, address string, message data.Message) (*delivery.Receipt, error)
	CheckOptedOut(ctx context.Context, phoneNumber string) (bool, error)
	ListDeliveries(topicId string, params data.QueryParams) (data.QueryResults[data.DeliveryAttempt], error)
}

type Dependencies struct {
	Topics        *topics.Registry
	Subscriptions *subscriptions.Table
	Engine        *delivery.Engine
	OptOut        notifications.OptOutOracle
	Deliveries    notifications.DeliveryReader
	Logger        zerolog.Logger
	// PublishTimeout bounds publish calls whose context carries no deadline.
	PublishTimeout time.Duration
}

type Service struct {
	topics         *topics.Registry
	subscriptions  *subscriptions.Table
	engine         *delivery.Engine
	optOut         notifications.OptOutOracle
	deliveries     notifications.DeliveryReader
	logger         zerolog.Logger
	publishTimeout time.Duration
}

func NewService(deps Dependencies) *Service {
	return &Service{
		topics:         deps.Topics,
		subscriptions:  deps.Subscriptions,
		engine:         deps.Engine,
		optOut:         deps.OptOut,
		deliveries:     deps.Deliveries,
		logger:         deps.Logger.With().Str("component", "publisher").Logger(),
		publishTimeout: deps.PublishTimeout,
	}
}

func (s *Service) CreateTopic(name string) (data.Topic, error) {
	return s.topics.CreateTopic(name)
}

func (s *Service) GetTopic(topicId string) (data.Topic, error) {
	return s.topics.GetTopic(topicId)
}

func (s *Service) ListTopics(params data.QueryParams) (data.QueryResults[data.Topic], error) {
	return data.Page(s.topics.ListTopics(), params, func(topic data.Topic) string {
		return topic.Id
	}), nil
}

func (s *Service) DeleteTopic(topicId string) error {
	return s.topics.DeleteTopic(topicId)
}

func (s *Service) Subscribe(ctx context.Context, topicId string, kind data.EndpointKind, address string) (data.Subscription, error) {
	return s.subscriptions.Subscribe(ctx, topicId, kind, address)
}

func (s *Service) SubscribeEmail(ctx context.Context, topicId string, address string) (data.Subscription, error) {
	return s.Subscribe(ctx, topicId, data.EMAIL, address)
}

func (s *Service) SubscribeSms(ctx context.Context, topicId string, phoneNumber string) (data.Subscription, error) {
	return s.Subscribe(ctx, topicId, data.SMS, phoneNumber)
}

func (s *Service) SubscribePush(ctx context.Context, topicId string, endpoint string) (data.Subscription, error) {
	return s.Subscribe(ctx, topicId, data.PUSH, endpoint)
}

func (s *Service) ConfirmSubscription(subscriptionId string, token string) (data.Subscription, error) {
	return s.subscriptions.ConfirmSubscription(subscriptionId, token)
}

func (s *Service) RejectSubscription(subscriptionId string, token string) (data.Subscription, error) {
	return s.subscriptions.RejectSubscription(subscriptionId, token)
}

func (s *Service) GetSubscription(subscriptionId string) (data.Subscription, error) {
	return s.subscriptions.GetSubscription(subscriptionId)
}

func (s *Service) ListSubscriptions(topicId string, params data.QueryParams) (data.QueryResults[data.Subscription], error) {
	seq, err := s.subscriptions.ListByTopic(topicId)
	if err != nil {
		return data.QueryResults[data.Subscription]{}, err
	}
	return data.Page(slices.Collect(seq), params, func(sub data.Subscription) string {
		return sub.Id
	}), nil
}

func (s *Service) Unsubscribe(subscriptionId string) {
	s.subscriptions.Unsubscribe(subscriptionId)
}

func (s *Service) _publish(ctx context.Context, message data.Message) (*delivery.Receipt, error) {
	if _, ok := ctx.Deadline(); !ok && s.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()
	}
	receipt, err := s.engine.Publish(ctx, message)
	if receipt != nil {
		s.logger.Info().
			Str("message_id", receipt.MessageId).
			Str("target", message.Target.Key()).
			Int("total", receipt.Summary.Total).
			Int("delivered", receipt.Summary.Delivered).
			Int("failed", receipt.Summary.Failed).
			Int("opted_out", receipt.Summary.OptedOut).
			Int("pending", receipt.Summary.Pending).
			Bool("deduplicated", receipt.Deduplicated).
			Msg("publish complete")
	}
	return receipt, err
}

// PublishToTopic returns once every attempt is terminal or the publish
// timeout elapses.
func (s *Service) PublishToTopic(ctx context.Context, topicId string, message data.Message) (*delivery.Receipt, error) {
	message.Target = data.TopicTarget(topicId)
	return s._publish(ctx, message)
}

func (s *Service) PublishDirect(ctx context.Context, kind data.EndpointKind, address string, message data.Message) (*delivery.Receipt, error) {
	message.Target = data.EndpointTarget(kind, address)
	return s._publish(ctx, message)
}

func (s *Service) CheckOptedOut(ctx context.Context, phoneNumber string) (bool, error) {
	normalized, err := endpoints.NormalizeE164(phoneNumber)
	if err != nil {
		return false, err
	}
	if s.optOut == nil {
		return false, nil
	}
	return s.optOut.IsOptedOut(ctx, normalized)
}

func (s *Service) ListDeliveries(topicId string, params data.QueryParams) (data.QueryResults[data.DeliveryAttempt], error) {
	if _, err := s.topics.GetTopic(topicId); err != nil {
		return data.QueryResults[data.DeliveryAttempt]{}, err
	}
	if s.deliveries == nil {
		return data.QueryResults[data.DeliveryAttempt]{}, exceptions.NotFound("delivery log", topicId)
	}
	return s.deliveries.ListDeliveries(topicId, params)
}
