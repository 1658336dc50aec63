package routes_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/delivery"
	"philcali.me/notify/internal/exceptions"
	"philcali.me/notify/internal/notifications"
	"philcali.me/notify/internal/publisher"
	"philcali.me/notify/internal/routes"
	"philcali.me/notify/internal/routes/apitokens"
	"philcali.me/notify/internal/routes/sms"
	"philcali.me/notify/internal/routes/subscriptions"
	"philcali.me/notify/internal/routes/topics"
	subscriptionTable "philcali.me/notify/internal/subscriptions"
	topicRegistry "philcali.me/notify/internal/topics"
)

type memoryTokens struct {
	mu    sync.Mutex
	items map[string]data.ApiTokenDTO
	seq   int
}

func (m *memoryTokens) List(accountId string, params data.QueryParams) (data.QueryResults[data.ApiTokenDTO], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []data.ApiTokenDTO
	for _, item := range m.items {
		items = append(items, item)
	}
	return data.QueryResults[data.ApiTokenDTO]{Items: items}, nil
}

func (m *memoryTokens) Get(accountId string, itemId string) (data.ApiTokenDTO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemId]
	if !ok {
		return item, exceptions.NotFound("apitoken", itemId)
	}
	return item, nil
}

func (m *memoryTokens) Create(accountId string, input data.ApiTokenInputDTO) (data.ApiTokenDTO, error) {
	m.mu.Lock()
	m.seq++
	itemId := fmt.Sprintf("token-%d", m.seq)
	m.mu.Unlock()
	return m.Put(accountId, itemId, input)
}

func (m *memoryTokens) Put(accountId string, itemId string, input data.ApiTokenInputDTO) (data.ApiTokenDTO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	item := data.ApiTokenDTO{
		PK:         accountId + ":ApiToken",
		SK:         itemId,
		Name:       aws.ToString(input.Name),
		AccountId:  aws.ToString(input.AccountId),
		Scopes:     *input.Scopes,
		ExpiresIn:  input.ExpiresIn,
		CreateTime: now,
		UpdateTime: now,
	}
	m.items[itemId] = item
	return item, nil
}

func (m *memoryTokens) Delete(accountId string, itemId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, itemId)
	return nil
}

type LocalServer struct {
	Router    *routes.Router
	Transport *notifications.LocalTransport
	OptOut    *notifications.StaticOptOut
	Username  string
	Scopes    []string
}

func NewLocalServer(t *testing.T) *LocalServer {
	logger := zerolog.Nop()
	transport := notifications.NewLocalTransport(logger, 100)
	optOut := notifications.NewStaticOptOut()
	log := notifications.NewMemoryDeliveryLog(100)
	registry := topicRegistry.NewRegistry(logger)
	registry.OnDelete(log.Forget)
	table := subscriptionTable.NewTable(registry, notifications.NewTransportConfirmation(transport), logger)
	engine, err := delivery.NewEngine(delivery.DefaultConfig(), delivery.Dependencies{
		Resolver:  table,
		Transport: transport,
		OptOut:    optOut,
		Log:       log,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("Failed to create delivery engine: %s", err)
	}
	t.Cleanup(func() {
		engine.Close(context.Background())
	})
	service := publisher.NewService(publisher.Dependencies{
		Topics:         registry,
		Subscriptions:  table,
		Engine:         engine,
		OptOut:         optOut,
		Deliveries:     log,
		Logger:         logger,
		PublishTimeout: 5 * time.Second,
	})
	router := routes.NewRouter(
		logger,
		topics.NewRoute(service),
		subscriptions.NewRoute(service),
		sms.NewRoute(service),
		apitokens.NewRoute(&memoryTokens{items: make(map[string]data.ApiTokenDTO)}),
	)
	return &LocalServer{
		Router:    router,
		Transport: transport,
		OptOut:    optOut,
		Username:  "nobody",
	}
}

func (ls *LocalServer) Request(t *testing.T, method string, path string, body []byte, out any, params map[string]string) events.APIGatewayV2HTTPResponse {
	request := events.APIGatewayV2HTTPRequest{
		RawPath:               path,
		QueryStringParameters: params,
		Body:                  string(body),
	}
	request.RequestContext.HTTP.Method = method
	request.RequestContext.HTTP.Path = path
	if ls.Scopes != nil {
		request.RequestContext.Authorizer = &events.APIGatewayV2HTTPRequestContextAuthorizerDescription{
			Lambda: map[string]interface{}{
				"claims": map[string]interface{}{"username": ls.Username},
				"scopes": ls.Scopes,
			},
		}
	} else {
		request.RequestContext.Authorizer = &events.APIGatewayV2HTTPRequestContextAuthorizerDescription{
			JWT: &events.APIGatewayV2HTTPRequestContextAuthorizerJWTDescription{
				Claims: map[string]string{"username": ls.Username},
			},
		}
	}
	response := ls.Router.Invoke(request, context.TODO())
	if out != nil && response.Body != "" {
		if err := json.Unmarshal([]byte(response.Body), out); err != nil {
			t.Fatalf("Failed to deserialize payload for %s %s: %s", method, path, response.Body)
		}
	}
	return response
}

func (ls *LocalServer) Get(t *testing.T, out any, path string) events.APIGatewayV2HTTPResponse {
	return ls.Request(t, "GET", path, nil, out, nil)
}

func (ls *LocalServer) GetQuery(t *testing.T, out any, path string, params map[string]string) events.APIGatewayV2HTTPResponse {
	return ls.Request(t, "GET", path, nil, out, params)
}

func (ls *LocalServer) Post(t *testing.T, out any, path string, body any) events.APIGatewayV2HTTPResponse {
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to serialize input: %s", err)
	}
	return ls.Request(t, "POST", path, payload, out, nil)
}

func (ls *LocalServer) Delete(t *testing.T, path string) events.APIGatewayV2HTTPResponse {
	return ls.Request(t, "DELETE", path, nil, nil, nil)
}

func (ls *LocalServer) confirmationToken(t *testing.T, subscriptionId string) string {
	for _, sent := range ls.Transport.Sent() {
		if sent.Message.Attributes["subscriptionId"].Value == subscriptionId {
			return sent.Message.Attributes[notifications.ConfirmationTokenAttribute].Value
		}
	}
	t.Fatalf("No confirmation was sent to %s", subscriptionId)
	return ""
}

func TestRouter(t *testing.T) {
	server := NewLocalServer(t)

	t.Run("TopicWorkflow", func(t *testing.T) {
		var topic topics.Topic
		created := server.Post(t, &topic, "/topics", topics.TopicInput{Name: "alerts"})
		require.Equal(t, 200, created.StatusCode, created.Body)
		assert.Equal(t, "alerts", topic.Name)

		var again topics.Topic
		server.Post(t, &again, "/topics", topics.TopicInput{Name: "alerts"})
		assert.Equal(t, topic.Id, again.Id)

		get := server.Get(t, nil, "/topics/"+topic.Id)
		assert.Equal(t, created.Body, get.Body)

		var subscription subscriptions.Subscription
		subscribed := server.Post(t, &subscription, fmt.Sprintf("/topics/%s/subscriptions", topic.Id), subscriptions.SubscriptionInput{
			Protocol: "email",
			Endpoint: "A@X.com",
		})
		require.Equal(t, 200, subscribed.StatusCode, subscribed.Body)
		assert.Equal(t, "Pending", subscription.State)
		assert.Equal(t, "a@x.com", subscription.Address)

		var page data.QueryResults[subscriptions.Subscription]
		server.Get(t, &page, fmt.Sprintf("/topics/%s/subscriptions", topic.Id))
		require.Len(t, page.Items, 1)
		assert.Equal(t, subscription.Id, page.Items[0].Id)

		denied := server.Post(t, nil, fmt.Sprintf("/subscriptions/%s/confirm", subscription.Id), subscriptions.ConfirmationInput{Token: "nope"})
		assert.Equal(t, 403, denied.StatusCode)

		var confirmed subscriptions.Subscription
		server.Post(t, &confirmed, fmt.Sprintf("/subscriptions/%s/confirm", subscription.Id), subscriptions.ConfirmationInput{
			Token: server.confirmationToken(t, subscription.Id),
		})
		assert.Equal(t, "Confirmed", confirmed.State)

		var receipt topics.Receipt
		published := server.Post(t, &receipt, fmt.Sprintf("/topics/%s/messages", topic.Id), topics.PublishInput{
			Message: "hello",
			Subject: "greetings",
		})
		require.Equal(t, 200, published.StatusCode, published.Body)
		assert.Equal(t, delivery.Summary{Total: 1, Delivered: 1}, receipt.Summary)
		require.Len(t, receipt.Deliveries, 1)
		assert.Equal(t, "Delivered", receipt.Deliveries[0].State)
		assert.Equal(t, "email", receipt.Deliveries[0].Kind)

		var deliveries data.QueryResults[topics.Delivery]
		server.Get(t, &deliveries, fmt.Sprintf("/topics/%s/deliveries", topic.Id))
		require.Len(t, deliveries.Items, 1)
		assert.Equal(t, receipt.Deliveries[0].Id, deliveries.Items[0].Id)

		assert.Equal(t, 204, server.Delete(t, "/subscriptions/"+subscription.Id).StatusCode)
		assert.Equal(t, 204, server.Delete(t, "/subscriptions/"+subscription.Id).StatusCode)
		assert.Equal(t, 204, server.Delete(t, "/topics/"+topic.Id).StatusCode)

		var missing routes.ErrorBody
		gone := server.Delete(t, "/topics/"+topic.Id)
		require.NoError(t, json.Unmarshal([]byte(gone.Body), &missing))
		assert.Equal(t, 404, gone.StatusCode)
		assert.Equal(t, exceptions.KindNotFound, missing.Kind)
	})

	t.Run("ListTopicsPages", func(t *testing.T) {
		for _, name := range []string{"page-a", "page-b", "page-c"} {
			server.Post(t, nil, "/topics", topics.TopicInput{Name: name})
		}
		var first data.QueryResults[topics.Topic]
		server.GetQuery(t, &first, "/topics", map[string]string{"limit": "2"})
		require.Len(t, first.Items, 2)
		require.NotNil(t, first.NextToken)
		var rest data.QueryResults[topics.Topic]
		server.GetQuery(t, &rest, "/topics", map[string]string{
			"limit":     "2",
			"nextToken": base64.StdEncoding.EncodeToString(first.NextToken),
		})
		assert.NotEmpty(t, rest.Items)
		assert.NotEqual(t, first.Items[0].Id, rest.Items[0].Id)
	})

	t.Run("Sms", func(t *testing.T) {
		var receipt topics.Receipt
		sent := server.Post(t, &receipt, "/sms", sms.SmsInput{PhoneNumber: "+1 555 555 0100", Message: "code 1234"})
		require.Equal(t, 200, sent.StatusCode, sent.Body)
		assert.Equal(t, delivery.Summary{Total: 1, Delivered: 1}, receipt.Summary)

		server.OptOut.OptOut("+15555550199")
		var optOut sms.OptOut
		server.Get(t, &optOut, "/sms/+15555550199/opt-out")
		assert.True(t, optOut.OptedOut)

		server.Post(t, &receipt, "/sms", sms.SmsInput{PhoneNumber: "+15555550199", Message: "code 1234"})
		assert.Equal(t, delivery.Summary{Total: 1, OptedOut: 1}, receipt.Summary)

		var invalid routes.ErrorBody
		bad := server.Post(t, &invalid, "/sms", sms.SmsInput{PhoneNumber: "5550100", Message: "code"})
		assert.Equal(t, 400, bad.StatusCode)
		assert.Equal(t, exceptions.KindInvalidEndpoint, invalid.Kind)
	})

	t.Run("Tokens", func(t *testing.T) {
		var token apitokens.ApiToken
		created := server.Post(t, &token, "/tokens", apitokens.ApiTokenInput{
			Name:   aws.String("alerts-bot"),
			Scopes: []data.Scope{data.TOPICS_READ},
		})
		require.Equal(t, 200, created.StatusCode, created.Body)
		assert.Equal(t, "nobody", token.AccountId)

		rejected := server.Post(t, nil, "/tokens", apitokens.ApiTokenInput{
			Name:   aws.String("bad"),
			Scopes: []data.Scope{"billing"},
		})
		assert.Equal(t, 400, rejected.StatusCode)
		assert.Equal(t, 204, server.Delete(t, "/tokens/"+token.Value).StatusCode)
	})

	t.Run("Errors", func(t *testing.T) {
		var body routes.ErrorBody
		invalid := server.Request(t, "POST", "/topics", []byte("{"), &body, nil)
		assert.Equal(t, 400, invalid.StatusCode)
		assert.Equal(t, exceptions.KindInvalidInput, body.Kind)

		invalidName := server.Post(t, &body, "/topics", topics.TopicInput{Name: "bad name!"})
		assert.Equal(t, 400, invalidName.StatusCode)
		assert.Equal(t, exceptions.KindInvalidName, body.Kind)

		unknown := server.Get(t, &body, "/nowhere")
		assert.Equal(t, 404, unknown.StatusCode)
	})

	t.Run("Scopes", func(t *testing.T) {
		scoped := *server
		scoped.Scopes = []string{string(data.TOPICS_READ)}
		assert.Equal(t, 200, scoped.Get(t, nil, "/topics").StatusCode)
		assert.Equal(t, 401, scoped.Post(t, nil, "/topics", topics.TopicInput{Name: "denied"}).StatusCode)
		assert.Equal(t, 401, scoped.Get(t, nil, "/tokens").StatusCode)
	})
}
