// Package dynamostore implements persist.Adapter on a single DynamoDB table.
//
// Table layout: partition key "k" (S), value "v" (B), optional "exp" (N, unix
// seconds) registered as the table TTL attribute. DynamoDB deletes expired
// items lazily, so every read and conditional write also filters on "exp".
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goAccount/persist"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	attrKey    = "k"
	attrValue  = "v"
	attrExpiry = "exp"

	tableWaitTimeout = 2 * time.Minute
)

// API is the subset of *dynamodb.Client used by Store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type item struct {
	Key    string `dynamodbav:"k"`
	Value  []byte `dynamodbav:"v"`
	Expiry int64  `dynamodbav:"exp,omitempty"`
}

// Store is a DynamoDB-backed persist.Adapter.
type Store struct {
	client API
	table  string
	prefix string
	now    func() time.Time
}

// New returns a Store over table. prefix namespaces keys (may be empty).
func New(client API, table, prefix string) *Store {
	return &Store{
		client: client,
		table:  table,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *Store) keyAttr(k string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrKey: &types.AttributeValueMemberS{Value: s.key(k)},
	}
}

func (s *Store) nowAttr() types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)}
}

// expiryFor rounds up so an item never expires before its ttl hint.
func (s *Store) expiryFor(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	at := s.now().Add(ttl)
	sec := at.Unix()
	if at.Nanosecond() > 0 {
		sec++
	}
	return sec
}

func (s *Store) live(it item) bool {
	return it.Expiry == 0 || it.Expiry > s.now().Unix()
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", persist.ErrUnavailable, err)
}

func conditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable(err)
	}
	if out.Item == nil {
		return nil, persist.ErrNotFound
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal item %s: %w", key, err)
	}
	if !s.live(it) {
		return nil, persist.ErrNotFound
	}
	return it.Value, nil
}

func (s *Store) marshal(key string, value []byte, ttl time.Duration) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(item{
		Key:    s.key(key),
		Value:  value,
		Expiry: s.expiryFor(ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal item %s: %w", key, err)
	}
	return av, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	av, err := s.marshal(key, value, ttl)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.keyAttr(key),
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.keyAttr(key),
		ConditionExpression: aws.String("#v = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#v": attrValue,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberB{Value: expected},
		},
	})
	if err != nil {
		if conditionFailed(err) {
			return false, nil
		}
		return false, unavailable(err)
	}
	return true, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	av, err := s.marshal(key, value, ttl)
	if err != nil {
		return false, err
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
		ExpressionAttributeNames: map[string]string{
			"#exp": attrExpiry,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": s.nowAttr(),
		},
	}
	if expected == nil {
		// An item past its expiry still physically present counts as absent.
		in.ConditionExpression = aws.String("attribute_not_exists(#k) OR #exp <= :now")
		in.ExpressionAttributeNames["#k"] = attrKey
	} else {
		in.ConditionExpression = aws.String("#v = :expected AND (attribute_not_exists(#exp) OR #exp > :now)")
		in.ExpressionAttributeNames["#v"] = attrValue
		in.ExpressionAttributeValues[":expected"] = &types.AttributeValueMemberB{Value: expected}
	}

	if _, err := s.client.PutItem(ctx, in); err != nil {
		if conditionFailed(err) {
			return false, nil
		}
		return false, unavailable(err)
	}
	return true, nil
}

// Scan pages through every item whose key starts with prefix. Expired items
// still present in the table are skipped.
func (s *Store) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		ConsistentRead:   aws.Bool(true),
		FilterExpression: aws.String("begins_with(#k, :p)"),
		ExpressionAttributeNames: map[string]string{
			"#k": attrKey,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: s.key(prefix)},
		},
	})

	strip := s.key("")
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return unavailable(err)
		}
		var items []item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return fmt.Errorf("unmarshal scan page: %w", err)
		}
		for _, it := range items {
			if !s.live(it) {
				continue
			}
			key := it.Key
			if s.prefix != "" {
				key = strings.TrimPrefix(key, strip)
			}
			if err := fn(key, it.Value); err != nil {
				return err
			}
		}
	}
	return nil
}
