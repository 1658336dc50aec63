package local

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"philcali.me/notify/internal/routes"
)

// Invoker is satisfied by *routes.Router.
type Invoker interface {
	Invoke(event events.APIGatewayV2HTTPRequest, ctx context.Context) events.APIGatewayV2HTTPResponse
}

const USER_HEADER = "X-Local-User"

// ToEvent turns a plain HTTP request into the API Gateway shape the router
// expects. The caller is trusted as the user named in X-Local-User.
func ToEvent(c *gin.Context, defaultUser string) (events.APIGatewayV2HTTPRequest, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return events.APIGatewayV2HTTPRequest{}, err
	}
	username := c.GetHeader(USER_HEADER)
	if username == "" {
		username = defaultUser
	}
	headers := make(map[string]string, len(c.Request.Header))
	for name := range c.Request.Header {
		headers[strings.ToLower(name)] = c.Request.Header.Get(name)
	}
	params := make(map[string]string)
	for name, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			params[name] = values[0]
		}
	}
	request := events.APIGatewayV2HTTPRequest{
		RawPath:               c.Request.URL.Path,
		RawQueryString:        c.Request.URL.RawQuery,
		Headers:               headers,
		QueryStringParameters: params,
		Body:                  string(body),
	}
	request.RequestContext.HTTP.Method = c.Request.Method
	request.RequestContext.HTTP.Path = c.Request.URL.Path
	request.RequestContext.HTTP.SourceIP = c.ClientIP()
	request.RequestContext.Authorizer = &events.APIGatewayV2HTTPRequestContextAuthorizerDescription{
		JWT: &events.APIGatewayV2HTTPRequestContextAuthorizerJWTDescription{
			Claims: map[string]string{"username": username},
		},
	}
	return request, nil
}

func Write(c *gin.Context, response events.APIGatewayV2HTTPResponse) {
	for name, value := range response.Headers {
		if strings.EqualFold(name, "content-length") {
			continue
		}
		c.Header(name, value)
	}
	c.Status(response.StatusCode)
	c.Writer.WriteHeaderNow()
	if response.Body != "" {
		c.Writer.WriteString(response.Body)
	}
}

func Handler(invoker Invoker, defaultUser string) gin.HandlerFunc {
	return func(c *gin.Context) {
		request, err := ToEvent(c, defaultUser)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": err.Error(), "kind": "InvalidInput"})
			return
		}
		Write(c, invoker.Invoke(request, c.Request.Context()))
	}
}

func LoggingMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}
		event.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

// NewEngine routes every request through router.
func NewEngine(router *routes.Router, logger zerolog.Logger, defaultUser string) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), LoggingMiddleware(logger.With().Str("component", "local").Logger()))
	engine.NoRoute(Handler(router, defaultUser))
	return engine
}
