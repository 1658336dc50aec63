package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/dynamodb/token"
	"philcali.me/notify/internal/exceptions"
)

// Client is the slice of the DynamoDB API the repositories use.
type Client interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// RepositoryDynamoDBService stores items of one Name under the partition
// "<ownerId>:<Name>", keyed by SK.
type RepositoryDynamoDBService[T interface{}, I interface{}] struct {
	DynamoDB       Client
	TableName      string
	TokenMarshaler token.TokenMarshaler
	Name           string
	Shim           func(pk string, sk string) T
	GetSK          func(T) string
	OnCreate       func(I, time.Time, string, string) T
	// NewId generates item ids for Create, uuid when unset.
	NewId func() (string, error)
}

func _getPrimaryKey(ownerId string, name string) string {
	return fmt.Sprintf("%s:%s", ownerId, name)
}

func _getKey(pks string, sks string) (map[string]types.AttributeValue, error) {
	pk, err := attributevalue.Marshal(pks)
	if err != nil {
		return nil, err
	}
	sk, err := attributevalue.Marshal(sks)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{"PK": pk, "SK": sk}, nil
}

func (rs *RepositoryDynamoDBService[T, I]) _resource() string {
	return strings.ToLower(rs.Name)
}

func (rs *RepositoryDynamoDBService[T, I]) List(ownerId string, params data.QueryParams) (data.QueryResults[T], error) {
	keyEx := expression.Key("PK").Equal(expression.Value(_getPrimaryKey(ownerId, rs.Name)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return data.QueryResults[T]{}, err
	}
	startKey, err := rs.TokenMarshaler.Unmarshal(ownerId, params.NextToken)
	if err != nil {
		return data.QueryResults[T]{}, err
	}
	output, err := rs.DynamoDB.Query(context.TODO(), &dynamodb.QueryInput{
		TableName:                 aws.String(rs.TableName),
		Limit:                     params.GetLimit(),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ExclusiveStartKey:         startKey,
	})
	if err != nil {
		return data.QueryResults[T]{}, errors.Wrapf(err, "query %s items of %s", rs._resource(), ownerId)
	}
	var items []T
	if err := attributevalue.UnmarshalListOfMaps(output.Items, &items); err != nil {
		return data.QueryResults[T]{}, err
	}
	next, err := rs.TokenMarshaler.Marshal(ownerId, output.LastEvaluatedKey)
	if err != nil {
		return data.QueryResults[T]{}, err
	}
	return data.QueryResults[T]{
		Items:     items,
		NextToken: next,
	}, nil
}

func (rs *RepositoryDynamoDBService[T, I]) _put(ctx context.Context, shim T, conditional bool) error {
	item, err := attributevalue.MarshalMap(shim)
	if err != nil {
		return err
	}
	input := &dynamodb.PutItemInput{
		Item:      item,
		TableName: aws.String(rs.TableName),
	}
	if conditional {
		expr, err := expression.NewBuilder().WithCondition(expression.Name("PK").AttributeNotExists().And(expression.Name("SK").AttributeNotExists())).Build()
		if err != nil {
			return err
		}
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
	}
	_, err = rs.DynamoDB.PutItem(ctx, input)
	var conflict *types.ConditionalCheckFailedException
	if errors.As(err, &conflict) {
		return exceptions.Conflict(rs._resource(), rs.GetSK(shim))
	}
	return err
}

// Create stores a new item under a generated id, failing with a conflict if it exists.
func (rs *RepositoryDynamoDBService[T, I]) Create(ownerId string, input I) (T, error) {
	itemId := uuid.NewString()
	if rs.NewId != nil {
		var err error
		if itemId, err = rs.NewId(); err != nil {
			var empty T
			return empty, errors.Wrapf(err, "generate %s id", rs._resource())
		}
	}
	shim := rs.OnCreate(input, time.Now(), _getPrimaryKey(ownerId, rs.Name), itemId)
	return shim, rs._put(context.TODO(), shim, true)
}

// Put writes the item under itemId, replacing any previous version.
func (rs *RepositoryDynamoDBService[T, I]) Put(ownerId string, itemId string, input I) (T, error) {
	return rs.PutContext(context.TODO(), ownerId, itemId, input)
}

func (rs *RepositoryDynamoDBService[T, I]) PutContext(ctx context.Context, ownerId string, itemId string, input I) (T, error) {
	shim := rs.OnCreate(input, time.Now(), _getPrimaryKey(ownerId, rs.Name), itemId)
	return shim, rs._put(ctx, shim, false)
}

func (rs *RepositoryDynamoDBService[T, I]) Get(ownerId string, itemId string) (T, error) {
	pk := _getPrimaryKey(ownerId, rs.Name)
	shim := rs.Shim(pk, itemId)
	key, err := _getKey(pk, itemId)
	if err != nil {
		return shim, err
	}
	response, err := rs.DynamoDB.GetItem(context.TODO(), &dynamodb.GetItemInput{
		TableName: aws.String(rs.TableName),
		Key:       key,
	})
	if err != nil {
		return shim, err
	}
	if response.Item == nil {
		return shim, exceptions.NotFound(rs._resource(), itemId)
	}
	err = attributevalue.UnmarshalMap(response.Item, &shim)
	return shim, err
}

func (rs *RepositoryDynamoDBService[T, I]) Delete(ownerId string, itemId string) error {
	key, err := _getKey(_getPrimaryKey(ownerId, rs.Name), itemId)
	if err != nil {
		return err
	}
	_, err = rs.DynamoDB.DeleteItem(context.TODO(), &dynamodb.DeleteItemInput{
		Key:       key,
		TableName: aws.String(rs.TableName),
	})
	return err
}
