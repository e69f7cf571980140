package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jun/webclipper/internal/crypto"
)

// DynamoAPI is the subset of *dynamodb.Client methods used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Item is the DynamoDB row for one cache entry. expires_at is the table's TTL attribute.
type Item struct {
	Key       string `dynamodbav:"cache_key"`
	Value     string `dynamodbav:"value"`
	Encrypted bool   `dynamodbav:"encrypted"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

// DynamoStore implements Store on a DynamoDB table so entries are shared
// across Lambda instances. Values under the token namespace are encrypted
// before they leave the process.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	encryptor crypto.Encryptor
	now       func() time.Time
}

// NewDynamoStore creates a DynamoStore on tableName (partition key "cache_key").
func NewDynamoStore(client DynamoAPI, tableName string, encryptor crypto.Encryptor, opts ...Option) *DynamoStore {
	o := buildOptions(opts)
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		encryptor: encryptor,
		now:       o.now,
	}
}

func sensitive(key string) bool {
	return strings.HasPrefix(key, KindToken+":")
}

func (s *DynamoStore) keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"cache_key": &types.AttributeValueMemberS{Value: key},
	}
}

// Get reads key. DynamoDB deletes expired rows lazily, so expiry is re-checked here.
// Read failures are logged and reported as a miss.
func (s *DynamoStore) Get(ctx context.Context, key string) ([]byte, bool) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		slog.Warn("cache get failed", "table", s.tableName, "err", err)
		return nil, false
	}
	if out.Item == nil {
		return nil, false
	}

	var item Item
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		slog.Warn("cache item unreadable", "table", s.tableName, "err", err)
		return nil, false
	}

	if s.now().After(time.Unix(item.ExpiresAt, 0)) {
		if err := s.Delete(ctx, key); err != nil {
			slog.Warn("cache evict failed", "table", s.tableName, "err", err)
		}
		return nil, false
	}

	value := item.Value
	if item.Encrypted {
		value, err = s.encryptor.Decrypt(ctx, item.Value)
		if err != nil {
			slog.Warn("cache decrypt failed", "table", s.tableName, "err", err)
			return nil, false
		}
	}
	return []byte(value), true
}

func (s *DynamoStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	item := Item{
		Key:       key,
		Value:     string(value),
		ExpiresAt: s.now().Add(ttl).Unix(),
	}

	if sensitive(key) {
		encrypted, err := s.encryptor.Encrypt(ctx, item.Value)
		if err != nil {
			return fmt.Errorf("failed to encrypt cache value: %w", err)
		}
		item.Value = encrypted
		item.Encrypted = true
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal cache item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to write cache item: %w", err)
	}
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.keyAttr(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete cache item: %w", err)
	}
	return nil
}
