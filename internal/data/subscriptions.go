package data

import "time"

type EndpointKind string

const (
	EMAIL EndpointKind = "email"
	SMS   EndpointKind = "sms"
	PUSH  EndpointKind = "push"
)

// RequiresConfirmation reports whether new subscriptions of this kind start Pending.
func (k EndpointKind) RequiresConfirmation() bool {
	return k == EMAIL
}

func (k EndpointKind) Valid() bool {
	switch k {
	case EMAIL, SMS, PUSH:
		return true
	}
	return false
}

type ConfirmationState string

const (
	PENDING   ConfirmationState = "Pending"
	CONFIRMED ConfirmationState = "Confirmed"
	REJECTED  ConfirmationState = "Rejected"
)

type Subscription struct {
	Id         string            `json:"subscriptionId"`
	TopicId    string            `json:"topicId"`
	Kind       EndpointKind      `json:"protocol"`
	Address    string            `json:"endpoint"`
	State      ConfirmationState `json:"state"`
	CreateTime time.Time         `json:"createTime"`
	UpdateTime time.Time         `json:"updateTime"`
}
