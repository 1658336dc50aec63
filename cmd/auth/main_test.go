package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"philcali.me/notify/internal/config"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/exceptions"
)

type fixedTokens struct {
	data.ApiTokenRepository
	items map[string]data.ApiTokenDTO
}

func (f *fixedTokens) Get(accountId string, itemId string) (data.ApiTokenDTO, error) {
	item, ok := f.items[accountId+"/"+itemId]
	if !ok {
		return item, exceptions.NotFound("apitoken", itemId)
	}
	return item, nil
}

func _request(authorization string) events.APIGatewayV2CustomAuthorizerV2Request {
	headers := map[string]string{}
	if authorization != "" {
		headers["authorization"] = authorization
	}
	return events.APIGatewayV2CustomAuthorizerV2Request{Headers: headers}
}

func TestAuthorizer(t *testing.T) {
	expired := 1000
	tokens := &fixedTokens{items: map[string]data.ApiTokenDTO{
		"Global/abc": {AccountId: "alice", Name: "ci", Scopes: []data.Scope{data.TOPICS_READ}},
		"Global/old": {AccountId: "alice", Name: "old", Scopes: []data.Scope{data.TOPICS_READ}, ExpiresIn: &expired},
	}}
	pool := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/userInfo" || r.Header.Get("Authorization") != "Bearer pool-user" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"username": "bob"}`))
	}))
	defer pool.Close()

	cfg := config.NewTestConfig()
	cfg.Auth.PoolUrl = pool.URL
	authorizer := NewAuthorizer(cfg, tokens, zerolog.Nop())
	authorizer.Now = func() time.Time { return time.Unix(2000, 0) }

	t.Run("MissingHeader", func(t *testing.T) {
		resp, err := authorizer.HandleRequest(context.TODO(), _request(""))
		assert.NoError(t, err)
		assert.False(t, resp.IsAuthorized)
	})

	t.Run("PoolUser", func(t *testing.T) {
		resp, err := authorizer.HandleRequest(context.TODO(), _request("Bearer pool-user"))
		assert.NoError(t, err)
		assert.True(t, resp.IsAuthorized)
		assert.Equal(t, _scopes(data.AllScopes), resp.Context["scopes"])
	})

	t.Run("ApiToken", func(t *testing.T) {
		resp, err := authorizer.HandleRequest(context.TODO(), _request("Bearer abc"))
		assert.NoError(t, err)
		assert.True(t, resp.IsAuthorized)
		assert.Equal(t, []string{"topics.readonly"}, resp.Context["scopes"])
		assert.Equal(t, map[string]string{"username": "alice"}, resp.Context["claims"])
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		resp, err := authorizer.HandleRequest(context.TODO(), _request("Bearer old"))
		assert.NoError(t, err)
		assert.False(t, resp.IsAuthorized)
	})

	t.Run("UnknownToken", func(t *testing.T) {
		resp, err := authorizer.HandleRequest(context.TODO(), _request("Bearer nope"))
		assert.NoError(t, err)
		assert.False(t, resp.IsAuthorized)
	})

	t.Run("NotBearer", func(t *testing.T) {
		resp, err := authorizer.HandleRequest(context.TODO(), _request("abc"))
		assert.NoError(t, err)
		assert.False(t, resp.IsAuthorized)
	})
}
