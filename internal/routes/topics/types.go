package topics

import (
	"time"

	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/delivery"
)

type Topic struct {
	Id         string    `json:"topicId"`
	Name       string    `json:"name"`
	CreateTime time.Time `json:"createTime"`
}

type TopicInput struct {
	Name string `json:"name"`
}

// PublishInput is the body of a publish call. TimeoutMillis bounds how long
// the call waits for the attempts to settle.
type PublishInput struct {
	Message         string                         `json:"message"`
	Subject         string                         `json:"subject,omitempty"`
	Attributes      map[string]data.AttributeValue `json:"attributes,omitempty"`
	DeduplicationId string                         `json:"deduplicationId,omitempty"`
	TimeoutMillis   int                            `json:"timeoutMillis,omitempty"`
}

func (pi PublishInput) ToMessage() data.Message {
	return data.Message{
		Payload:         pi.Message,
		Subject:         pi.Subject,
		Attributes:      pi.Attributes,
		DeduplicationId: pi.DeduplicationId,
	}
}

type Delivery struct {
	Id                string    `json:"attemptId"`
	MessageId         string    `json:"messageId"`
	SubscriptionId    string    `json:"subscriptionId,omitempty"`
	Kind              string    `json:"protocol"`
	Address           string    `json:"endpoint"`
	Attempts          int       `json:"attempts"`
	State             string    `json:"state"`
	LastError         string    `json:"lastError,omitempty"`
	ProviderMessageId string    `json:"providerMessageId,omitempty"`
	CreateTime        time.Time `json:"createTime"`
	UpdateTime        time.Time `json:"updateTime"`
}

type Receipt struct {
	MessageId    string           `json:"messageId"`
	Deduplicated bool             `json:"deduplicated"`
	Summary      delivery.Summary `json:"summary"`
	Deliveries   []Delivery       `json:"deliveries"`
}
