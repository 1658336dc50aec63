package sms

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/endpoints"
	"philcali.me/notify/internal/publisher"
	"philcali.me/notify/internal/routes"
	"philcali.me/notify/internal/routes/topics"
	"philcali.me/notify/internal/routes/util"
)

type SmsService struct {
	publisher publisher.Publisher
}

func NewRoute(publisher publisher.Publisher) routes.Service {
	return &SmsService{
		publisher: publisher,
	}
}

func (s *SmsService) GetRoutes() map[string]routes.Route {
	return map[string]routes.Route{
		"POST:/sms":                     util.AuthorizedRoute(s.SendSms),
		"GET:/sms/:phoneNumber/opt-out": util.AuthorizedRoute(s.CheckOptedOut),
	}
}

func (s *SmsService) SendSms(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	input, err := util.DecodeBody[SmsInput](event)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	publishCtx, cancel, err := topics.PublishContext(ctx, input.TimeoutMillis)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	defer cancel()
	return topics.ToReceipt(s.publisher.PublishDirect(publishCtx, data.SMS, input.PhoneNumber, data.Message{
		Payload:         input.Message,
		Attributes:      input.Attributes,
		DeduplicationId: input.DeduplicationId,
	}))
}

func (s *SmsService) CheckOptedOut(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	phoneNumber, err := endpoints.NormalizeE164(util.RequestParam(ctx, "phoneNumber"))
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	optedOut, err := s.publisher.CheckOptedOut(ctx, phoneNumber)
	return util.SerializeResponseOK(util.Identical[OptOut], OptOut{PhoneNumber: phoneNumber, OptedOut: optedOut}, err)
}
