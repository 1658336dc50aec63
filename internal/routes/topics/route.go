package topics

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jinzhu/copier"
	"philcali.me/notify/internal/delivery"
	"philcali.me/notify/internal/exceptions"
	"philcali.me/notify/internal/publisher"
	"philcali.me/notify/internal/routes"
	"philcali.me/notify/internal/routes/util"
)

type TopicService struct {
	publisher publisher.Publisher
}

func NewRoute(publisher publisher.Publisher) routes.Service {
	return &TopicService{
		publisher: publisher,
	}
}

func (ts *TopicService) GetRoutes() map[string]routes.Route {
	return map[string]routes.Route{
		"GET:/topics":                     util.AuthorizedRoute(ts.ListTopics),
		"POST:/topics":                    util.AuthorizedRoute(ts.CreateTopic),
		"GET:/topics/:topicId":            util.AuthorizedRoute(ts.GetTopic),
		"DELETE:/topics/:topicId":         util.AuthorizedRoute(ts.DeleteTopic),
		"POST:/topics/:topicId/messages":  util.AuthorizedRoute(ts.Publish),
		"GET:/topics/:topicId/deliveries": util.AuthorizedRoute(ts.ListDeliveries),
	}
}

func (ts *TopicService) ListTopics(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	params, err := util.QueryParams(event)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	items, err := ts.publisher.ListTopics(params)
	return util.SerializeList[Topic](items, err)
}

func (ts *TopicService) CreateTopic(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	input, err := util.DecodeBody[TopicInput](event)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	topic, err := ts.publisher.CreateTopic(input.Name)
	return util.SerializeCopy[Topic](topic, err, 200)
}

func (ts *TopicService) GetTopic(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	topic, err := ts.publisher.GetTopic(util.RequestParam(ctx, "topicId"))
	return util.SerializeCopy[Topic](topic, err, 200)
}

func (ts *TopicService) DeleteTopic(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	return util.SerializeResponseNoContent(ts.publisher.DeleteTopic(util.RequestParam(ctx, "topicId")))
}

// ToReceipt renders a receipt at its current state. Receipts with pending
// attempts are answered with 202.
func ToReceipt(receipt *delivery.Receipt, err error) (events.APIGatewayV2HTTPResponse, error) {
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	out := Receipt{
		MessageId:    receipt.MessageId,
		Deduplicated: receipt.Deduplicated,
		Summary:      receipt.Summary,
		Deliveries:   make([]Delivery, 0, len(receipt.Attempts)),
	}
	if snapshots := receipt.Snapshots(); len(snapshots) > 0 {
		if err := copier.Copy(&out.Deliveries, &snapshots); err != nil {
			return events.APIGatewayV2HTTPResponse{}, exceptions.InternalServer(err.Error())
		}
	}
	statusCode := 200
	if out.Summary.Pending > 0 {
		statusCode = 202
	}
	return util.SerializeResponse(util.Identical[Receipt], out, nil, statusCode)
}

// PublishContext applies the caller's timeoutMillis, if any.
func PublishContext(ctx context.Context, timeoutMillis int) (context.Context, context.CancelFunc, error) {
	if timeoutMillis < 0 {
		return nil, nil, exceptions.InvalidInput("timeoutMillis cannot be negative")
	}
	if timeoutMillis == 0 {
		return ctx, func() {}, nil
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMillis)*time.Millisecond)
	return timeoutCtx, cancel, nil
}

func (ts *TopicService) Publish(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	input, err := util.DecodeBody[PublishInput](event)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	publishCtx, cancel, err := PublishContext(ctx, input.TimeoutMillis)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	defer cancel()
	return ToReceipt(ts.publisher.PublishToTopic(publishCtx, util.RequestParam(ctx, "topicId"), input.ToMessage()))
}

func (ts *TopicService) ListDeliveries(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	params, err := util.QueryParams(event)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	items, err := ts.publisher.ListDeliveries(util.RequestParam(ctx, "topicId"), params)
	return util.SerializeList[Delivery](items, err)
}
