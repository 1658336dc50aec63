package routes

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"philcali.me/notify/internal/exceptions"
	"philcali.me/notify/internal/routes/filters"
)

type contextKey string

const (
	PARAMS_KEY   contextKey = "Params"
	USERNAME_KEY contextKey = "Username"
)

type Route func(event events.APIGatewayV2HTTPRequest, ctx context.Context) (events.APIGatewayV2HTTPResponse, error)

type Service interface {
	GetRoutes() map[string]Route
}

type CachedMatcher struct {
	Matcher    *regexp.Regexp
	ParamNames []string
	Mutex      *sync.Mutex
}

type CachedRoute struct {
	Method  string
	Path    string
	Route   Route
	Matcher *CachedMatcher
}

var paramPattern = regexp.MustCompile(":[^/]+")

func (cr *CachedMatcher) Refresh(path string) *regexp.Regexp {
	cr.Mutex.Lock()
	defer cr.Mutex.Unlock()
	if cr.Matcher == nil {
		regexPath := paramPattern.ReplaceAllStringFunc(path, func(found string) string {
			cr.ParamNames = append(cr.ParamNames, found[1:])
			return "([^/]+)"
		})
		cr.Matcher = regexp.MustCompile("^" + regexPath + "$")
	}
	return cr.Matcher
}

func (cr *CachedRoute) MatchEvent(event events.APIGatewayV2HTTPRequest) (map[string]string, bool) {
	if event.RequestContext.HTTP.Method != cr.Method {
		return nil, false
	}
	if event.RawPath == cr.Path {
		return map[string]string{}, true
	}
	matcher := cr.Matcher.Refresh(cr.Path)
	values := matcher.FindStringSubmatch(event.RawPath)
	if values == nil {
		return nil, false
	}
	params := make(map[string]string, len(cr.Matcher.ParamNames))
	for i, p := range cr.Matcher.ParamNames {
		params[p] = values[i+1]
	}
	return params, true
}

type Router struct {
	Filters []filters.RequestFilter
	Routes  []CachedRoute
	Logger  zerolog.Logger
}

// NewRouter flattens the "METHOD:/path" tables of every service. Routes are
// matched in path order so dispatch does not depend on map iteration.
func NewRouter(logger zerolog.Logger, services ...Service) *Router {
	table := make(map[string]Route)
	for _, service := range services {
		maps.Copy(table, service.GetRoutes())
	}
	composites := maps.Keys(table)
	slices.Sort(composites)
	routes := make([]CachedRoute, 0, len(composites))
	for _, composite := range composites {
		parts := strings.SplitN(composite, ":", 2)
		routes = append(routes, CachedRoute{
			Method: parts[0],
			Path:   parts[1],
			Route:  table[composite],
			Matcher: &CachedMatcher{
				Mutex: &sync.Mutex{},
			},
		})
	}
	return &Router{
		Routes: routes,
		Filters: []filters.RequestFilter{
			filters.DefaultCorsFilter(),
			filters.DefaultAuthorizationFilter(),
		},
		Logger: logger.With().Str("component", "router").Logger(),
	}
}

type ErrorBody struct {
	Message string          `json:"message"`
	Kind    exceptions.Kind `json:"kind"`
}

func translateError(err error) events.APIGatewayV2HTTPResponse {
	se := exceptions.ToServiceError(err)
	body, merr := json.Marshal(ErrorBody{Message: err.Error(), Kind: se.Kind})
	if merr != nil {
		body = []byte(`{"message": "Unexpected internal error", "kind": "Internal"}`)
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: se.StatusCode,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type":   "application/json",
			"Content-Length": strconv.Itoa(len(body)),
		},
	}
}

func (r *Router) _fail(event events.APIGatewayV2HTTPRequest, err error) events.APIGatewayV2HTTPResponse {
	resp := translateError(err)
	logEvent := r.Logger.Debug()
	if resp.StatusCode >= 500 {
		logEvent = r.Logger.Error()
	}
	logEvent.Err(err).
		Str("method", event.RequestContext.HTTP.Method).
		Str("path", event.RawPath).
		Int("status", resp.StatusCode).
		Msg("request failed")
	return resp
}

func (r *Router) Invoke(event events.APIGatewayV2HTTPRequest, ctx context.Context) events.APIGatewayV2HTTPResponse {
	filterContext := filters.DefaultFilterContext(event, ctx)
	for _, filter := range r.Filters {
		updatedContext, broken := filter.Filter(filterContext)
		if broken {
			return *updatedContext.Response
		}
		filterContext = updatedContext
	}
	for _, route := range r.Routes {
		if params, ok := route.MatchEvent(*filterContext.Request); ok {
			resp, err := route.Route(event, context.WithValue(*filterContext.Context, PARAMS_KEY, params))
			if err != nil {
				return r._fail(event, err)
			}
			return resp
		}
	}
	return r._fail(event, exceptions.NotFound("route", event.RawPath))
}
