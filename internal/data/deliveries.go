package data

import (
	"context"
	"time"
)

type AttemptState string

const (
	QUEUED    AttemptState = "Queued"
	IN_FLIGHT AttemptState = "InFlight"
	DELIVERED AttemptState = "Delivered"
	FAILED    AttemptState = "Failed"
	OPTED_OUT AttemptState = "OptedOut"
)

func (s AttemptState) Terminal() bool {
	return s == DELIVERED || s == FAILED || s == OPTED_OUT
}

type DeliveryAttempt struct {
	Id                string       `json:"attemptId"`
	MessageId         string       `json:"messageId"`
	TopicId           string       `json:"topicId,omitempty"`
	SubscriptionId    string       `json:"subscriptionId,omitempty"`
	Kind              EndpointKind `json:"protocol"`
	Address           string       `json:"endpoint"`
	Attempts          int          `json:"attempts"`
	State             AttemptState `json:"state"`
	LastError         string       `json:"lastError,omitempty"`
	ProviderMessageId string       `json:"providerMessageId,omitempty"`
	CreateTime        time.Time    `json:"createTime"`
	UpdateTime        time.Time    `json:"updateTime"`
}

type DeliveryDTO struct {
	PK                string    `dynamodbav:"PK"`
	SK                string    `dynamodbav:"SK"`
	MessageId         string    `dynamodbav:"messageId"`
	TopicId           string    `dynamodbav:"topicId"`
	SubscriptionId    string    `dynamodbav:"subscriptionId"`
	Protocol          string    `dynamodbav:"protocol"`
	Endpoint          string    `dynamodbav:"endpoint"`
	Attempts          int       `dynamodbav:"attempts"`
	State             string    `dynamodbav:"state"`
	LastError         string    `dynamodbav:"lastError"`
	ProviderMessageId string    `dynamodbav:"providerMessageId"`
	ExpiresIn         *int      `dynamodbav:"expiresIn"`
	CreateTime        time.Time `dynamodbav:"createTime"`
	UpdateTime        time.Time `dynamodbav:"updateTime"`
}

type DeliveryInputDTO struct {
	Attempt   *DeliveryAttempt `dynamodbav:"-"`
	ExpiresIn *int             `dynamodbav:"expiresIn"`
}

type DeliveryRepository interface {
	Repository[DeliveryDTO, DeliveryInputDTO]
	PutContext(ctx context.Context, accountId string, itemId string, input DeliveryInputDTO) (DeliveryDTO, error)
}
