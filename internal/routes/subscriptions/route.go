package subscriptions

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/exceptions"
	"philcali.me/notify/internal/publisher"
	"philcali.me/notify/internal/routes"
	"philcali.me/notify/internal/routes/util"
)

type SubscriptionService struct {
	publisher publisher.Publisher
}

func NewRoute(publisher publisher.Publisher) routes.Service {
	return &SubscriptionService{
		publisher: publisher,
	}
}

func (s *SubscriptionService) GetRoutes() map[string]routes.Route {
	return map[string]routes.Route{
		"GET:/topics/:topicId/subscriptions":          util.AuthorizedRoute(s.ListSubscriptions),
		"POST:/topics/:topicId/subscriptions":         util.AuthorizedRoute(s.CreateSubscription),
		"GET:/subscriptions/:subscriptionId":          util.AuthorizedRoute(s.GetSubscription),
		"DELETE:/subscriptions/:subscriptionId":       util.AuthorizedRoute(s.DeleteSubscription),
		"POST:/subscriptions/:subscriptionId/confirm": util.AuthorizedRoute(s.ConfirmSubscription),
		"POST:/subscriptions/:subscriptionId/reject":  util.AuthorizedRoute(s.RejectSubscription),
	}
}

func (s *SubscriptionService) ListSubscriptions(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	params, err := util.QueryParams(event)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	items, err := s.publisher.ListSubscriptions(util.RequestParam(ctx, "topicId"), params)
	return util.SerializeList[Subscription](items, err)
}

func (s *SubscriptionService) GetSubscription(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	item, err := s.publisher.GetSubscription(util.RequestParam(ctx, "subscriptionId"))
	return util.SerializeCopy[Subscription](item, err, 200)
}

func (s *SubscriptionService) CreateSubscription(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	input, err := util.DecodeBody[SubscriptionInput](event)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	if input.Protocol == "" {
		return events.APIGatewayV2HTTPResponse{}, exceptions.InvalidInput("protocol is required")
	}
	subscription, err := s.publisher.Subscribe(ctx, util.RequestParam(ctx, "topicId"), data.EndpointKind(input.Protocol), input.Endpoint)
	return util.SerializeCopy[Subscription](subscription, err, 200)
}

// DeleteSubscription always answers 204, unknown ids included.
func (s *SubscriptionService) DeleteSubscription(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	s.publisher.Unsubscribe(util.RequestParam(ctx, "subscriptionId"))
	return util.SerializeResponseNoContent(nil)
}

func (s *SubscriptionService) _transition(event events.APIGatewayV2HTTPRequest, ctx context.Context, apply func(string, string) (data.Subscription, error)) (events.APIGatewayV2HTTPResponse, error) {
	input, err := util.DecodeBody[ConfirmationInput](event)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	subscription, err := apply(util.RequestParam(ctx, "subscriptionId"), input.Token)
	return util.SerializeCopy[Subscription](subscription, err, 200)
}

func (s *SubscriptionService) ConfirmSubscription(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	return s._transition(event, ctx, s.publisher.ConfirmSubscription)
}

func (s *SubscriptionService) RejectSubscription(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	return s._transition(event, ctx, s.publisher.RejectSubscription)
}
