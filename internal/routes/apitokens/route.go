package apitokens

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/dynamodb/apitokens"
	"philcali.me/notify/internal/exceptions"
	"philcali.me/notify/internal/routes"
	"philcali.me/notify/internal/routes/util"
)

type ApiTokenService struct {
	data data.ApiTokenRepository
}

func NewRoute(data data.ApiTokenRepository) routes.Service {
	return &ApiTokenService{
		data: data,
	}
}

func _convertToken(tokenDTO data.ApiTokenDTO) ApiToken {
	var expiresIn *time.Time
	if tokenDTO.ExpiresIn != nil {
		expiresIn = aws.Time(time.Unix(int64(*tokenDTO.ExpiresIn), 0).UTC())
	}
	return ApiToken{
		Name:       tokenDTO.Name,
		Value:      tokenDTO.SK,
		AccountId:  tokenDTO.AccountId,
		Scopes:     tokenDTO.Scopes,
		ExpiresIn:  expiresIn,
		CreateTime: tokenDTO.CreateTime,
		UpdateTime: tokenDTO.UpdateTime,
	}
}

func (as *ApiTokenService) GetRoutes() map[string]routes.Route {
	return map[string]routes.Route{
		"GET:/tokens":             util.AuthorizedRoute(as.ListTokens),
		"GET:/tokens/:tokenId":    util.AuthorizedRoute(as.GetToken),
		"POST:/tokens":            util.AuthorizedRoute(as.CreateToken),
		"DELETE:/tokens/:tokenId": util.AuthorizedRoute(as.DeleteToken),
	}
}

func (as *ApiTokenService) ListTokens(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	params, err := util.QueryParams(event)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	items, err := as.data.List(apitokens.GLOBAL_OWNER, params)
	return util.SerializeResponseOK(func(items data.QueryResults[data.ApiTokenDTO]) data.QueryResults[ApiToken] {
		return util.ConvertQueryResults(items, _convertToken)
	}, items, err)
}

func (as *ApiTokenService) GetToken(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	item, err := as.data.Get(apitokens.GLOBAL_OWNER, util.RequestParam(ctx, "tokenId"))
	return util.SerializeResponseOK(_convertToken, item, err)
}

func (as *ApiTokenService) CreateToken(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	input, err := util.DecodeBody[ApiTokenInput](event)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	if input.Name == nil || *input.Name == "" {
		return events.APIGatewayV2HTTPResponse{}, exceptions.InvalidInput("name is required")
	}
	if len(input.Scopes) == 0 {
		return events.APIGatewayV2HTTPResponse{}, exceptions.InvalidInput("at least one scope is required")
	}
	for _, scope := range input.Scopes {
		if !scope.Valid() {
			return events.APIGatewayV2HTTPResponse{}, exceptions.InvalidInput("unknown scope: " + string(scope))
		}
	}
	var expiresIn *int
	if input.ExpiresIn != nil {
		expiresIn = aws.Int(int(input.ExpiresIn.Unix()))
	}
	created, err := as.data.Create(apitokens.GLOBAL_OWNER, data.ApiTokenInputDTO{
		Name:      input.Name,
		Scopes:    &input.Scopes,
		AccountId: aws.String(util.Username(ctx)),
		ExpiresIn: expiresIn,
	})
	return util.SerializeResponseOK(_convertToken, created, err)
}

func (as *ApiTokenService) DeleteToken(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
	err := as.data.Delete(apitokens.GLOBAL_OWNER, util.RequestParam(ctx, "tokenId"))
	return util.SerializeResponseNoContent(err)
}
