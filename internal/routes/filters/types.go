package filters

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

type FilterContext struct {
	Request  *events.APIGatewayV2HTTPRequest
	Response *events.APIGatewayV2HTTPResponse
	Context  *context.Context
}

type RequestFilter interface {
	Filter(ctx *FilterContext) (*FilterContext, bool)
}

type CorsFilter struct {
	Methods []string
	Origins []string
	Headers []string
}

func (cf *CorsFilter) Filter(ctx *FilterContext) (*FilterContext, bool) {
	if ctx.Request.RequestContext.HTTP.Method == "OPTIONS" {
		headers := ctx.Response.Headers
		if headers == nil {
			headers = make(map[string]string, 4)
		}
		headers["content-length"] = "0"
		headers["access-control-allow-headers"] = strings.Join(cf.Headers, ", ")
		headers["access-control-allow-methods"] = strings.Join(cf.Methods, ", ")
		headers["access-control-allow-origin"] = strings.Join(cf.Origins, ", ")
		return &FilterContext{
			Request: ctx.Request,
			Context: ctx.Context,
			Response: &events.APIGatewayV2HTTPResponse{
				Headers:    headers,
				StatusCode: ctx.Response.StatusCode,
			},
		}, true
	}
	return ctx, false
}

// AuthorizedScopeFilter lets requests with JWT claims through and otherwise
// checks the scopes granted by the Lambda authorizer. A scope "topics" grants
// every method under /topics, "topics.readonly" only GET.
type AuthorizedScopeFilter struct {
	ScopeField string
}

func (cf *AuthorizedScopeFilter) IdentityScopes(ctx *FilterContext) ([]string, bool) {
	authorizer := ctx.Request.RequestContext.Authorizer
	if authorizer == nil {
		return nil, false
	}
	switch scopes := authorizer.Lambda[cf.ScopeField].(type) {
	case []string:
		return scopes, true
	case []interface{}:
		rtn := make([]string, 0, len(scopes))
		for _, scope := range scopes {
			rtn = append(rtn, fmt.Sprintf("%s", scope))
		}
		return rtn, true
	}
	return nil, false
}

func Allows(scopes []string, method string, path string) bool {
	for _, scope := range scopes {
		resource, access, _ := strings.Cut(scope, ".")
		if path != "/"+resource && !strings.HasPrefix(path, "/"+resource+"/") {
			continue
		}
		if access == "" || (access == "readonly" && method == "GET") {
			return true
		}
	}
	return false
}

func (cf *AuthorizedScopeFilter) Filter(ctx *FilterContext) (*FilterContext, bool) {
	request := ctx.Request
	if request.RequestContext.HTTP.Method != "OPTIONS" {
		authorizer := request.RequestContext.Authorizer
		if authorizer != nil && authorizer.JWT != nil && len(authorizer.JWT.Claims) > 0 {
			return ctx, false
		}
		if scopes, ok := cf.IdentityScopes(ctx); ok && Allows(scopes, request.RequestContext.HTTP.Method, request.RawPath) {
			return ctx, false
		}
	}
	body := `{"message": "Unauthorized", "kind": "Unauthorized"}`
	return &FilterContext{
		Request: ctx.Request,
		Context: ctx.Context,
		Response: &events.APIGatewayV2HTTPResponse{
			Headers: map[string]string{
				"Content-Type":   "application/json",
				"Content-Length": fmt.Sprint(len(body)),
			},
			StatusCode: 401,
			Body:       body,
		},
	}, true
}

func DefaultFilterContext(event events.APIGatewayV2HTTPRequest, ctx context.Context) *FilterContext {
	return &FilterContext{
		Request: &event,
		Response: &events.APIGatewayV2HTTPResponse{
			StatusCode: 200,
		},
		Context: &ctx,
	}
}

func DefaultCorsFilter() *CorsFilter {
	return &CorsFilter{
		Methods: []string{"GET", "PUT", "POST", "DELETE"},
		Headers: []string{"Content-Type", "Content-Length", "Authorization"},
		Origins: []string{"*"},
	}
}

func DefaultAuthorizationFilter() *AuthorizedScopeFilter {
	return &AuthorizedScopeFilter{
		ScopeField: "scopes",
	}
}
