package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/qcom/phoneotp/internal/clock"
	"github.com/sirupsen/logrus"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type dynamoItem struct {
	Value     []byte `dynamodbav:"Value"`
	ExpiresAt int64  `dynamodbav:"ExpiresAt"`
}

// DynamoStore keeps entries in a single-table layout (PK = KV#<key>,
// SK = VALUE). The TTL attribute lets DynamoDB reap items, but since that
// sweep is lazy every read re-checks ExpiresAt against the clock.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	clock     clock.Clock
	logger    *logrus.Logger
}

func NewDynamoStore(client DynamoAPI, tableName string, clk clock.Clock, logger *logrus.Logger) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		clock:     clk,
		logger:    logger,
	}
}

func dynamoKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "KV#" + key},
		"SK": &types.AttributeValueMemberS{Value: "VALUE"},
	}
}

func (s *DynamoStore) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            dynamoKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to get item from DynamoDB")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if result.Item == nil {
		return nil, ErrNotFound
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal item: %v", ErrUnavailable, err)
	}

	if s.clock.Now().UnixNano() >= item.ExpiresAt {
		return nil, ErrNotFound
	}

	return item.Value, nil
}

func (s *DynamoStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}

	expiresAt := s.clock.Now().Add(ttl)

	item := dynamoKey(key)
	item["Value"] = &types.AttributeValueMemberB{Value: value}
	item["ExpiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.UnixNano(), 10)}
	// TTL is epoch seconds, rounded up so the sweep never precedes ExpiresAt.
	item["TTL"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Add(time.Second-1).Unix(), 10)}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to put item in DynamoDB")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       dynamoKey(key),
	})
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to delete item from DynamoDB")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *DynamoStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
