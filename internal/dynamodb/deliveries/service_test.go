package deliveries

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/dynamodb/services"
	"philcali.me/notify/internal/dynamodb/token"
	"philcali.me/notify/internal/test"
)

func NewDeliveryLog(t *testing.T) *DeliveryDynamoDBService {
	localServer := test.StartLocalServer(test.LOCAL_DDB_PORT+1, t)
	client, err := localServer.CreateLocalClient()
	if err != nil {
		t.Fatalf("Failed to create DDB client: %s", err)
	}
	tableName, err := test.CreateTable(client)
	if err != nil {
		t.Fatalf("Failed to create DDB table: %s", err)
	}
	t.Logf("Successfully created local resources running on %d", localServer.Port)
	repository := NewDeliveryRepository(tableName, client, token.NewGCM([]byte("test")))
	return NewDeliveryService(repository, 24*time.Hour)
}

func TestDeliveryLog(t *testing.T) {
	log := NewDeliveryLog(t)
	topicId := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Second)

	attempt := data.DeliveryAttempt{
		Id:             uuid.NewString(),
		MessageId:      uuid.NewString(),
		TopicId:        topicId,
		SubscriptionId: uuid.NewString(),
		Kind:           data.SMS,
		Address:        "+15555550100",
		State:          data.QUEUED,
		CreateTime:     now,
		UpdateTime:     now,
	}

	t.Run("RecordOverwritesTransitions", func(t *testing.T) {
		require.NoError(t, log.Record(context.TODO(), attempt))
		delivered := attempt
		delivered.State = data.DELIVERED
		delivered.Attempts = 2
		delivered.ProviderMessageId = "sns-id"
		require.NoError(t, log.Record(context.TODO(), delivered))

		results, err := log.ListDeliveries(topicId, data.QueryParams{})
		require.NoError(t, err)
		require.Len(t, results.Items, 1)
		assert.Equal(t, delivered, results.Items[0])
	})

	t.Run("DirectSendsShareAPartition", func(t *testing.T) {
		direct := attempt
		direct.Id = uuid.NewString()
		direct.TopicId = ""
		direct.SubscriptionId = ""
		require.NoError(t, log.Record(context.TODO(), direct))
		results, err := log.ListDeliveries("", data.QueryParams{})
		require.NoError(t, err)
		assert.Len(t, results.Items, 1)
	})

	t.Run("Paging", func(t *testing.T) {
		pagedTopic := uuid.NewString()
		for range 3 {
			paged := attempt
			paged.Id = uuid.NewString()
			paged.TopicId = pagedTopic
			require.NoError(t, log.Record(context.TODO(), paged))
		}
		first, err := log.ListDeliveries(pagedTopic, data.QueryParams{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, first.Items, 2)
		require.NotNil(t, first.NextToken)

		rest, err := log.ListDeliveries(pagedTopic, data.QueryParams{Limit: 2, NextToken: first.NextToken})
		require.NoError(t, err)
		assert.Len(t, rest.Items, 1)

		_, err = log.ListDeliveries(topicId, data.QueryParams{NextToken: first.NextToken})
		assert.Error(t, err)
	})
}

func TestConvertDelivery(t *testing.T) {
	dto := data.DeliveryDTO{
		PK:       "topic:Delivery",
		SK:       "attempt-1",
		Protocol: "email",
		Endpoint: "a@x.com",
		State:    "Failed",
		Attempts: 5,
	}
	attempt := ConvertDelivery(dto)
	assert.Equal(t, "attempt-1", attempt.Id)
	assert.Equal(t, data.EMAIL, attempt.Kind)
	assert.Equal(t, data.FAILED, attempt.State)
}

type contextClient struct {
	services.Client
	puts int
}

func (c *contextClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.puts++
	return &dynamodb.PutItemOutput{}, nil
}

func TestRecordHonoursContext(t *testing.T) {
	client := &contextClient{}
	log := NewDeliveryService(NewDeliveryRepository("NotifyData", client, token.NewGCM([]byte("test"))), time.Hour)
	attempt := data.DeliveryAttempt{
		Id:         uuid.NewString(),
		MessageId:  uuid.NewString(),
		Kind:       data.SMS,
		Address:    "+15555550100",
		State:      data.QUEUED,
		CreateTime: time.Now(),
	}

	require.NoError(t, log.Record(context.TODO(), attempt))
	assert.Equal(t, 1, client.puts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, log.Record(ctx, attempt), context.Canceled)
	assert.Equal(t, 1, client.puts)
}
