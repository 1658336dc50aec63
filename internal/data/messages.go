package data

import (
	"strconv"
)

type AttributeType string

const (
	STRING_ATTRIBUTE AttributeType = "String"
	NUMBER_ATTRIBUTE AttributeType = "Number"
)

// AttributeValue is a typed message attribute. Numbers keep their textual form
// so providers receive exactly what the caller supplied.
type AttributeValue struct {
	DataType AttributeType `json:"dataType"`
	Value    string        `json:"value"`
}

func StringAttribute(value string) AttributeValue {
	return AttributeValue{DataType: STRING_ATTRIBUTE, Value: value}
}

func NumberAttribute(value float64) AttributeValue {
	return AttributeValue{DataType: NUMBER_ATTRIBUTE, Value: strconv.FormatFloat(value, 'f', -1, 64)}
}

func (a AttributeValue) Valid() bool {
	switch a.DataType {
	case STRING_ATTRIBUTE:
		return true
	case NUMBER_ATTRIBUTE:
		_, err := strconv.ParseFloat(a.Value, 64)
		return err == nil
	}
	return false
}

// Target is either a topic (fan-out) or a single endpoint.
type Target struct {
	TopicId string       `json:"topicId,omitempty"`
	Kind    EndpointKind `json:"protocol,omitempty"`
	Address string       `json:"endpoint,omitempty"`
}

func TopicTarget(topicId string) Target {
	return Target{TopicId: topicId}
}

func EndpointTarget(kind EndpointKind, address string) Target {
	return Target{Kind: kind, Address: address}
}

func (t Target) IsTopic() bool {
	return t.TopicId != ""
}

func (t Target) Key() string {
	if t.IsTopic() {
		return "topic:" + t.TopicId
	}
	return string(t.Kind) + ":" + t.Address
}

type Message struct {
	Id              string                    `json:"messageId"`
	Payload         string                    `json:"message"`
	Subject         string                    `json:"subject,omitempty"`
	Attributes      map[string]AttributeValue `json:"attributes,omitempty"`
	Target          Target                    `json:"target"`
	DeduplicationId string                    `json:"deduplicationId,omitempty"`
}
