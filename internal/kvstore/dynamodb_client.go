package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const defaultDynamoTTL = 30 * 24 * time.Hour

// dynamodbAPI is the minimal DynamoDB interface required by DynamoDB.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDB stores every key as one item of a single table keyed by PK.
type DynamoDB struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// NewDynamoDB creates a DynamoDB-backed Store. A ttl <= 0 uses the 30 day default.
func NewDynamoDB(api dynamodbAPI, tableName string, ttl time.Duration) (*DynamoDB, error) {
	if api == nil {
		return nil, errors.New("kvstore: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("kvstore: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = defaultDynamoTTL
	}
	return &DynamoDB{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: key},
	}
}

// Get reads the item with a consistent read so a write is visible to the next turn.
func (d *DynamoDB) Get(ctx context.Context, key string) (string, bool, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("kvstore: dynamodb get %q: %w", key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", false, nil
	}
	v, err := strAttr(out.Item, "value")
	if err != nil {
		return "", false, fmt.Errorf("kvstore: dynamodb get %q: %w", key, err)
	}
	return v, true, nil
}

func (d *DynamoDB) Set(ctx context.Context, key, value string) error {
	now := d.now().UTC()
	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: key},
			"value":     &types.AttributeValueMemberS{Value: value},
			"updatedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(d.ttl).Unix())},
		},
	})
	if err != nil {
		return fmt.Errorf("kvstore: dynamodb set %q: %w", key, err)
	}
	return nil
}

func (d *DynamoDB) Remove(ctx context.Context, key string) error {
	_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       keyAttr(key),
	})
	if err != nil {
		return fmt.Errorf("kvstore: dynamodb remove %q: %w", key, err)
	}
	return nil
}

func (d *DynamoDB) Close() error { return nil }

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}
