package token

import "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

// TokenMarshaler turns a LastEvaluatedKey into an opaque NextToken bound to one partition owner.
type TokenMarshaler interface {
	Marshal(ownerId string, lastKey map[string]types.AttributeValue) ([]byte, error)

	Unmarshal(ownerId string, token []byte) (map[string]types.AttributeValue, error)
}
