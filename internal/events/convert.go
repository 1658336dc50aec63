package events

import (
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func _convertStreamAttribute(attr events.DynamoDBAttributeValue) types.AttributeValue {
	switch attr.DataType() {
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: attr.Boolean()}
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: attr.String()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: attr.Binary()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: attr.Number()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: attr.IsNull()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: attr.BinarySet()}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: attr.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: attr.NumberSet()}
	case events.DataTypeList:
		ls := make([]types.AttributeValue, len(attr.List()))
		for i, item := range attr.List() {
			ls[i] = _convertStreamAttribute(item)
		}
		return &types.AttributeValueMemberL{Value: ls}
	case events.DataTypeMap:
		ms := make(map[string]types.AttributeValue, len(attr.Map()))
		for field, value := range attr.Map() {
			ms[field] = _convertStreamAttribute(value)
		}
		return &types.AttributeValueMemberM{Value: ms}
	}
	return nil
}

func _convertStreamImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	converted := make(map[string]types.AttributeValue, len(image))
	for field, value := range image {
		if av := _convertStreamAttribute(value); av != nil {
			converted[field] = av
		}
	}
	return converted
}

// UnmarshalImage decodes a stream image into the same DTO the table repository uses.
func UnmarshalImage[T interface{}](image map[string]events.DynamoDBAttributeValue) (T, error) {
	var out T
	err := attributevalue.UnmarshalMap(_convertStreamImage(image), &out)
	return out, err
}
