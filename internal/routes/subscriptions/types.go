package subscriptions

import (
	"time"
)

type Subscription struct {
	Id         string    `json:"subscriptionId"`
	TopicId    string    `json:"topicId"`
	Kind       string    `json:"protocol"`
	Address    string    `json:"endpoint"`
	State      string    `json:"state"`
	CreateTime time.Time `json:"createTime"`
	UpdateTime time.Time `json:"updateTime"`
}

type SubscriptionInput struct {
	Endpoint string `json:"endpoint"`
	Protocol string `json:"protocol"`
}

type ConfirmationInput struct {
	Token string `json:"token"`
}
