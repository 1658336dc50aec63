package notifications

import (
	"context"
	"time"

	"philcali.me/notify/internal/data"
)

// Transport sends one message to one endpoint. Failures should be classified
// with exceptions.Transient or exceptions.Permanent.
type Transport interface {
	Send(ctx context.Context, kind data.EndpointKind, address string, message data.Message) (string, error)
}

type OptOutOracle interface {
	IsOptedOut(ctx context.Context, phoneNumber string) (bool, error)
}

// ConfirmationChannel hands a confirmation token to a newly Pending subscriber.
type ConfirmationChannel interface {
	SendConfirmation(ctx context.Context, subscription data.Subscription, token string) error
}

type DeliveryLog interface {
	Record(ctx context.Context, attempt data.DeliveryAttempt) error
}

type DeliveryReader interface {
	ListDeliveries(topicId string, params data.QueryParams) (data.QueryResults[data.DeliveryAttempt], error)
}

type StatusEvent struct {
	Type              string            `json:"eventType"`
	MessageId         string            `json:"messageId"`
	AttemptId         string            `json:"attemptId"`
	TopicId           string            `json:"topicId,omitempty"`
	SubscriptionId    string            `json:"subscriptionId,omitempty"`
	Kind              data.EndpointKind `json:"protocol"`
	Address           string            `json:"endpoint"`
	Attempt           int               `json:"attempt,omitempty"`
	ProviderMessageId string            `json:"providerMessageId,omitempty"`
	Error             string            `json:"error,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
}

const (
	StatusQueued    = "queued"
	StatusAttempt   = "attempt"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusOptedOut  = "opted_out"
)

type StatusPublisher interface {
	PublishStatus(ctx context.Context, event StatusEvent) error
}
