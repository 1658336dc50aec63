package sms

import "philcali.me/notify/internal/data"

type SmsInput struct {
	PhoneNumber     string                         `json:"phoneNumber"`
	Message         string                         `json:"message"`
	Attributes      map[string]data.AttributeValue `json:"attributes,omitempty"`
	DeduplicationId string                         `json:"deduplicationId,omitempty"`
	TimeoutMillis   int                            `json:"timeoutMillis,omitempty"`
}

type OptOut struct {
	PhoneNumber string `json:"phoneNumber"`
	OptedOut    bool   `json:"optedOut"`
}
