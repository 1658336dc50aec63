package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"philcali.me/notify/cmd/bootstrap"
	"philcali.me/notify/internal/config"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/dynamodb/apitokens"
)

type AuthThunk func(ctx context.Context, apiToken string) (*events.APIGatewayV2CustomAuthorizerSimpleResponse, error)

type Authorizer struct {
	PoolUrl string
	Tokens  data.ApiTokenRepository
	Client  *http.Client
	Logger  zerolog.Logger
	Now     func() time.Time
}

func NewAuthorizer(cfg config.Config, tokens data.ApiTokenRepository, logger zerolog.Logger) *Authorizer {
	return &Authorizer{
		PoolUrl: cfg.Auth.PoolUrl,
		Tokens:  tokens,
		Client:  &http.Client{Timeout: 5 * time.Second},
		Logger:  logger.With().Str("component", "authorizer").Logger(),
		Now:     time.Now,
	}
}

func _scopes(scopes []data.Scope) []string {
	rtn := make([]string, len(scopes))
	for i, scope := range scopes {
		rtn[i] = string(scope)
	}
	return rtn
}

// JWTAuth resolves the bearer token against the user pool. Pool users hold
// every scope.
func (a *Authorizer) JWTAuth(ctx context.Context, apiToken string) (*events.APIGatewayV2CustomAuthorizerSimpleResponse, error) {
	if a.PoolUrl == "" {
		return nil, errors.New("no user pool configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/oauth2/userInfo", a.PoolUrl), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Add("Authorization", apiToken)
	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to invoke request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("user info rejected token with status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	var claims map[string]json.RawMessage
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, errors.Wrap(err, "failed to parse claims")
	}
	return &events.APIGatewayV2CustomAuthorizerSimpleResponse{
		IsAuthorized: true,
		Context: map[string]interface{}{
			"claims": claims,
			"scopes": _scopes(data.AllScopes),
		},
	}, nil
}

func (a *Authorizer) ApiTokenAuth(ctx context.Context, apiToken string) (*events.APIGatewayV2CustomAuthorizerSimpleResponse, error) {
	if a.Tokens == nil {
		return nil, errors.New("no token table configured")
	}
	scheme, value, ok := strings.Cut(apiToken, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || value == "" {
		return nil, errors.New("token provided is not a bearer token")
	}
	tokenDTO, err := a.Tokens.Get(apitokens.GLOBAL_OWNER, value)
	if err != nil {
		return nil, err
	}
	if tokenDTO.Expired(a.Now()) {
		return nil, errors.Newf("token %s has expired", tokenDTO.Name)
	}
	return &events.APIGatewayV2CustomAuthorizerSimpleResponse{
		IsAuthorized: true,
		Context: map[string]interface{}{
			"claims": map[string]string{
				"username": tokenDTO.AccountId,
			},
			"scopes": _scopes(tokenDTO.Scopes),
		},
	}, nil
}

func (a *Authorizer) HandleRequest(ctx context.Context, event events.APIGatewayV2CustomAuthorizerV2Request) (events.APIGatewayV2CustomAuthorizerSimpleResponse, error) {
	response := events.APIGatewayV2CustomAuthorizerSimpleResponse{
		IsAuthorized: false,
	}
	apiToken, ok := event.Headers["authorization"]
	if !ok {
		return response, nil
	}
	thunks := []AuthThunk{
		a.JWTAuth,
		a.ApiTokenAuth,
	}
	for _, authThunk := range thunks {
		newResp, err := authThunk(ctx, apiToken)
		if newResp != nil {
			return *newResp, err
		}
		if err != nil {
			a.Logger.Debug().Err(err).Msg("skipping authorizer")
		}
	}
	a.Logger.Info().Str("route", event.RouteKey).Msg("request denied")
	return response, nil
}

func main() {
	var authorizer *Authorizer
	container := fx.New(
		bootstrap.ConfigModule,
		bootstrap.LoggerModule,
		bootstrap.AWSModule,
		fx.Provide(
			bootstrap.NewApiTokens,
			NewAuthorizer,
		),
		fx.Populate(&authorizer),
		fx.NopLogger,
	)
	if err := container.Err(); err != nil {
		panic(err)
	}
	lambda.Start(authorizer.HandleRequest)
}
