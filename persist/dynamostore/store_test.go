package dynamostore

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/MrEthical07/goAccount/persist"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeAPI answers each call with the matching func field and records the
// inputs it saw. A nil field fails the test.
type fakeAPI struct {
	t *testing.T

	getItem    func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	putItem    func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	deleteItem func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	scan       func(*dynamodb.ScanInput) (*dynamodb.ScanOutput, error)

	calls int
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.calls++
	if f.getItem == nil {
		f.t.Fatal("unexpected GetItem")
	}
	return f.getItem(in)
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.calls++
	if f.putItem == nil {
		f.t.Fatal("unexpected PutItem")
	}
	return f.putItem(in)
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.calls++
	if f.deleteItem == nil {
		f.t.Fatal("unexpected DeleteItem")
	}
	return f.deleteItem(in)
}

func (f *fakeAPI) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.calls++
	if f.scan == nil {
		f.t.Fatal("unexpected Scan")
	}
	return f.scan(in)
}

var fixedNow = time.Unix(1_700_000_000, 0)

func newTestStore(api *fakeAPI) *Store {
	s := New(api, "accounts-kv", "ga")
	s.now = func() time.Time { return fixedNow }
	return s
}

func storedItem(key string, value []byte, exp int64) map[string]types.AttributeValue {
	it := map[string]types.AttributeValue{
		"k": &types.AttributeValueMemberS{Value: key},
		"v": &types.AttributeValueMemberB{Value: value},
	}
	if exp > 0 {
		it["exp"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(exp, 10)}
	}
	return it
}

func TestGetMissingItem(t *testing.T) {
	api := &fakeAPI{t: t}
	api.getItem = func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		if key := in.Key["k"].(*types.AttributeValueMemberS).Value; key != "ga:vc:1" {
			t.Fatalf("unexpected key %q", key)
		}
		if !aws.ToBool(in.ConsistentRead) {
			t.Fatal("reads must be consistent")
		}
		return &dynamodb.GetItemOutput{}, nil
	}

	if _, err := newTestStore(api).Get(context.Background(), "vc:1"); !errors.Is(err, persist.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if api.calls != 1 {
		t.Fatalf("expected 1 call, got %d", api.calls)
	}
}

func TestGetSkipsLogicallyExpiredItem(t *testing.T) {
	api := &fakeAPI{t: t}
	api.getItem = func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		return &dynamodb.GetItemOutput{Item: storedItem("ga:vc:1", []byte("rec"), fixedNow.Unix()-1)}, nil
	}

	if _, err := newTestStore(api).Get(context.Background(), "vc:1"); !errors.Is(err, persist.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetReturnsLiveValue(t *testing.T) {
	api := &fakeAPI{t: t}
	api.getItem = func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		return &dynamodb.GetItemOutput{Item: storedItem("ga:vc:1", []byte("rec"), fixedNow.Unix()+60)}, nil
	}

	got, err := newTestStore(api).Get(context.Background(), "vc:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "rec" {
		t.Fatalf("unexpected value %q", got)
	}
}

func TestCompareAndDeleteConditionFailed(t *testing.T) {
	api := &fakeAPI{t: t}
	api.deleteItem = func(in *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
		if got := aws.ToString(in.ConditionExpression); got != "#v = :expected" {
			t.Fatalf("unexpected condition %q", got)
		}
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("nope")}
	}

	ok, err := newTestStore(api).CompareAndDelete(context.Background(), "vc:1", []byte("rec"))
	if err != nil || ok {
		t.Fatalf("expected a lost delete, ok=%v err=%v", ok, err)
	}
}

func TestCompareAndSwapCreateIfAbsentCondition(t *testing.T) {
	api := &fakeAPI{t: t}
	api.putItem = func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		if got := aws.ToString(in.ConditionExpression); got != "attribute_not_exists(#k) OR #exp <= :now" {
			t.Fatalf("unexpected condition %q", got)
		}
		if _, ok := in.ExpressionAttributeValues[":expected"]; ok {
			t.Fatal("create must not carry an expected value")
		}
		if exp := in.Item["exp"].(*types.AttributeValueMemberN).Value; exp != strconv.FormatInt(fixedNow.Unix()+60, 10) {
			t.Fatalf("unexpected expiry %s", exp)
		}
		return &dynamodb.PutItemOutput{}, nil
	}

	ok, err := newTestStore(api).CompareAndSwap(context.Background(), "vc:1", nil, []byte("rec"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected create, ok=%v err=%v", ok, err)
	}
	if api.calls != 1 {
		t.Fatalf("expected 1 call, got %d", api.calls)
	}
}

func TestCompareAndSwapExpectedValueCondition(t *testing.T) {
	api := &fakeAPI{t: t}
	api.putItem = func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		expected, ok := in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberB)
		if !ok || string(expected.Value) != "old" {
			t.Fatalf("expected value missing from %v", in.ExpressionAttributeValues)
		}
		if _, ok := in.ExpressionAttributeNames["#k"]; ok {
			t.Fatal("swap must not test key existence")
		}
		return nil, &types.ConditionalCheckFailedException{}
	}

	ok, err := newTestStore(api).CompareAndSwap(context.Background(), "vc:1", []byte("old"), []byte("new"), 0)
	if err != nil || ok {
		t.Fatalf("expected a lost swap, ok=%v err=%v", ok, err)
	}
}

func TestSubSecondTTLRoundsUp(t *testing.T) {
	api := &fakeAPI{t: t}
	api.putItem = func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		if exp := in.Item["exp"].(*types.AttributeValueMemberN).Value; exp != strconv.FormatInt(fixedNow.Unix()+1, 10) {
			t.Fatalf("unexpected expiry %s", exp)
		}
		return &dynamodb.PutItemOutput{}, nil
	}

	if _, err := newTestStore(api).CompareAndSwap(context.Background(), "vc:1", nil, []byte("rec"), 300*time.Microsecond); err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
}

func TestBackendErrorsAreUnavailable(t *testing.T) {
	api := &fakeAPI{t: t}
	api.deleteItem = func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
		return nil, errors.New("throttled")
	}

	if err := newTestStore(api).Delete(context.Background(), "vc:1"); !errors.Is(err, persist.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestScanFiltersPrefixAndStripsNamespace(t *testing.T) {
	api := &fakeAPI{t: t}
	api.scan = func(in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
		if p := in.ExpressionAttributeValues[":p"].(*types.AttributeValueMemberS).Value; p != "ga:vc:" {
			t.Fatalf("unexpected prefix %q", p)
		}
		return &dynamodb.ScanOutput{
			Items: []map[string]types.AttributeValue{
				storedItem("ga:vc:1", []byte("a"), 0),
				storedItem("ga:vc:2", []byte("b"), fixedNow.Unix()-5),
			},
		}, nil
	}

	var keys []string
	err := newTestStore(api).Scan(context.Background(), "vc:", func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !slices.Equal(keys, []string{"vc:1"}) {
		t.Fatalf("unexpected keys %v", keys)
	}
	if api.calls != 1 {
		t.Fatalf("expected a single page, got %d calls", api.calls)
	}
}
