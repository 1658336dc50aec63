package util

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jinzhu/copier"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/exceptions"
	"philcali.me/notify/internal/routes"
)

// Identity pulls the caller name from JWT claims or from the claims the
// Lambda authorizer placed in its context.
func Identity(event events.APIGatewayV2HTTPRequest) (string, bool) {
	authorizer := event.RequestContext.Authorizer
	if authorizer == nil {
		return "", false
	}
	if authorizer.JWT != nil {
		if username, ok := authorizer.JWT.Claims["username"]; ok {
			return username, true
		}
	}
	if claims, ok := authorizer.Lambda["claims"].(map[string]interface{}); ok {
		if username, ok := claims["username"]; ok {
			return fmt.Sprintf("%s", username), true
		}
	}
	return "", false
}

func AuthorizedRoute(route routes.Route) routes.Route {
	return func(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error) {
		if username, ok := Identity(event); ok {
			return route(event, context.WithValue(ctx, routes.USERNAME_KEY, username))
		}
		return events.APIGatewayV2HTTPResponse{}, exceptions.InternalServer("Unexpected internal error")
	}
}

func Username(ctx context.Context) string {
	username, _ := ctx.Value(routes.USERNAME_KEY).(string)
	return username
}

func RequestParam(ctx context.Context, name string) string {
	params, _ := ctx.Value(routes.PARAMS_KEY).(map[string]string)
	return params[name]
}

// DecodeBody reads a JSON request body into T. Malformed bodies are invalid input.
func DecodeBody[T interface{}](event events.APIGatewayV2HTTPRequest) (T, error) {
	var input T
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return input, exceptions.InvalidInput(err.Error())
		}
		body = decoded
	}
	if err := json.Unmarshal(body, &input); err != nil {
		return input, exceptions.InvalidInput(err.Error())
	}
	return input, nil
}

// QueryParams reads limit and nextToken. The token is the base64 text that
// was handed out in a previous page.
func QueryParams(event events.APIGatewayV2HTTPRequest) (data.QueryParams, error) {
	params := data.QueryParams{}
	if limit, ok := event.QueryStringParameters["limit"]; ok {
		value, err := strconv.Atoi(limit)
		if err != nil || value < 0 {
			return params, exceptions.InvalidInput("limit must be a positive integer")
		}
		params.Limit = value
	}
	if nextToken, ok := event.QueryStringParameters["nextToken"]; ok && nextToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(nextToken)
		if err != nil {
			return params, exceptions.InvalidInput("nextToken is not valid")
		}
		params.NextToken = decoded
	}
	return params, nil
}

func SerializeResponse[T interface{}, R interface{}](delayed func(T) R, thing T, err error, statusCode int) (events.APIGatewayV2HTTPResponse, error) {
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	body, err := json.Marshal(delayed(thing))
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	headers := map[string]string{
		"Content-Type":   "application/json",
		"Content-Length": strconv.Itoa(len(body)),
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       string(body),
	}, nil
}

func SerializeResponseOK[T interface{}, R interface{}](delayed func(T) R, thing T, err error) (events.APIGatewayV2HTTPResponse, error) {
	return SerializeResponse(delayed, thing, err, 200)
}

func SerializeResponseNoContent(err error) (events.APIGatewayV2HTTPResponse, error) {
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: 204,
	}, nil
}

func Identical[T interface{}](thing T) T {
	return thing
}

// Copy converts a domain record into its API shape by matching field names.
func Copy[R interface{}, D interface{}](thing D) (R, error) {
	var out R
	if err := copier.Copy(&out, &thing); err != nil {
		return out, exceptions.InternalServer(err.Error())
	}
	return out, nil
}

// SerializeCopy writes thing converted to R with Copy.
func SerializeCopy[R interface{}, D interface{}](thing D, err error, statusCode int) (events.APIGatewayV2HTTPResponse, error) {
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	out, err := Copy[R](thing)
	return SerializeResponse(Identical[R], out, err, statusCode)
}

func ConvertQueryResults[D interface{}, R interface{}](items data.QueryResults[D], thunk func(D) R) data.QueryResults[R] {
	if items.Items != nil {
		newItems := make([]R, len(items.Items))
		for i, rd := range items.Items {
			newItems[i] = thunk(rd)
		}
		return data.QueryResults[R]{
			Items:     newItems,
			NextToken: items.NextToken,
		}
	}
	return data.QueryResults[R]{
		Items: make([]R, 0),
	}
}

// SerializeList copies every item of a page into R.
func SerializeList[R interface{}, D interface{}](items data.QueryResults[D], err error) (events.APIGatewayV2HTTPResponse, error) {
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	page := data.QueryResults[R]{Items: make([]R, 0, len(items.Items)), NextToken: items.NextToken}
	if len(items.Items) > 0 {
		if err := copier.Copy(&page.Items, &items.Items); err != nil {
			return events.APIGatewayV2HTTPResponse{}, exceptions.InternalServer(err.Error())
		}
	}
	return SerializeResponse(Identical[data.QueryResults[R]], page, nil, 200)
}
