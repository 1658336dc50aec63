package deliveries

import (
	"context"
	"time"

	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/dynamodb/services"
	"philcali.me/notify/internal/dynamodb/token"
)

const DIRECT_PARTITION = "direct"

func NewDeliveryRepository(tableName string, client services.Client, marshaler token.TokenMarshaler) data.DeliveryRepository {
	return &services.RepositoryDynamoDBService[data.DeliveryDTO, data.DeliveryInputDTO]{
		DynamoDB:       client,
		TableName:      tableName,
		TokenMarshaler: marshaler,
		Name:           "Delivery",
		GetSK: func(dd data.DeliveryDTO) string {
			return dd.SK
		},
		Shim: func(pk, sk string) data.DeliveryDTO {
			return data.DeliveryDTO{PK: pk, SK: sk}
		},
		OnCreate: func(input data.DeliveryInputDTO, now time.Time, pk, sk string) data.DeliveryDTO {
			attempt := input.Attempt
			return data.DeliveryDTO{
				PK:                pk,
				SK:                sk,
				MessageId:         attempt.MessageId,
				TopicId:           attempt.TopicId,
				SubscriptionId:    attempt.SubscriptionId,
				Protocol:          string(attempt.Kind),
				Endpoint:          attempt.Address,
				Attempts:          attempt.Attempts,
				State:             string(attempt.State),
				LastError:         attempt.LastError,
				ProviderMessageId: attempt.ProviderMessageId,
				ExpiresIn:         input.ExpiresIn,
				CreateTime:        attempt.CreateTime,
				UpdateTime:        attempt.UpdateTime,
			}
		},
	}
}

// DeliveryDynamoDBService is the durable delivery log. Every transition
// overwrites the attempt's item; Retention sets the item TTL.
type DeliveryDynamoDBService struct {
	Repository data.DeliveryRepository
	Retention  time.Duration
}

func NewDeliveryService(repository data.DeliveryRepository, retention time.Duration) *DeliveryDynamoDBService {
	return &DeliveryDynamoDBService{
		Repository: repository,
		Retention:  retention,
	}
}

func _partition(topicId string) string {
	if topicId == "" {
		return DIRECT_PARTITION
	}
	return topicId
}

func (ds *DeliveryDynamoDBService) Record(ctx context.Context, attempt data.DeliveryAttempt) error {
	input := data.DeliveryInputDTO{Attempt: &attempt}
	if ds.Retention > 0 {
		expiresIn := int(attempt.CreateTime.Add(ds.Retention).Unix())
		input.ExpiresIn = &expiresIn
	}
	_, err := ds.Repository.PutContext(ctx, _partition(attempt.TopicId), attempt.Id, input)
	return err
}

func ConvertDelivery(dto data.DeliveryDTO) data.DeliveryAttempt {
	return data.DeliveryAttempt{
		Id:                dto.SK,
		MessageId:         dto.MessageId,
		TopicId:           dto.TopicId,
		SubscriptionId:    dto.SubscriptionId,
		Kind:              data.EndpointKind(dto.Protocol),
		Address:           dto.Endpoint,
		Attempts:          dto.Attempts,
		State:             data.AttemptState(dto.State),
		LastError:         dto.LastError,
		ProviderMessageId: dto.ProviderMessageId,
		CreateTime:        dto.CreateTime,
		UpdateTime:        dto.UpdateTime,
	}
}

func (ds *DeliveryDynamoDBService) ListDeliveries(topicId string, params data.QueryParams) (data.QueryResults[data.DeliveryAttempt], error) {
	results, err := ds.Repository.List(_partition(topicId), params)
	if err != nil {
		return data.QueryResults[data.DeliveryAttempt]{}, err
	}
	items := make([]data.DeliveryAttempt, len(results.Items))
	for i, dto := range results.Items {
		items[i] = ConvertDelivery(dto)
	}
	return data.QueryResults[data.DeliveryAttempt]{
		Items:     items,
		NextToken: results.NextToken,
	}, nil
}
