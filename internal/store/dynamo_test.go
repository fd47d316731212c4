package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/qcom/phoneotp/internal/clock"
)

type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(key map[string]types.AttributeValue) string {
	pk := key["PK"].(*types.AttributeValueMemberS).Value
	sk := key["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	delete(f.items, itemKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoStore_PutWritesTTLAttributes(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	db := newFakeDynamo()
	s := NewDynamoStore(db, "OTPTable", clock.NewFake(start), quietLogger())

	if err := s.Put(ctx, "otp:+1555", []byte("payload"), 5*time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}

	item, ok := db.items["KV#otp:+1555|VALUE"]
	if !ok {
		t.Fatal("item not written under KV#otp:+1555/VALUE")
	}

	ttl := item["TTL"].(*types.AttributeValueMemberN).Value
	want := strconv.FormatInt(start.Add(5*time.Minute).Unix(), 10)
	if ttl != want {
		t.Errorf("TTL = %s, want %s", ttl, want)
	}

	if v := item["Value"].(*types.AttributeValueMemberB).Value; string(v) != "payload" {
		t.Errorf("Value = %q, want payload", v)
	}
}

func TestDynamoStore_GetHonoursLogicalExpiry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	db := newFakeDynamo()
	s := NewDynamoStore(db, "OTPTable", clk, quietLogger())

	_ = s.Put(ctx, "otp_last_sent:+1555", []byte("x"), time.Minute)

	got, err := s.Get(ctx, "otp_last_sent:+1555")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "x" {
		t.Errorf("Get = %q, want x", got)
	}

	// The item is still physically present; TTL sweeps lag behind.
	clk.Advance(time.Minute)
	if _, err := s.Get(ctx, "otp_last_sent:+1555"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after expiry error = %v, want ErrNotFound", err)
	}
	if exists, err := s.Exists(ctx, "otp_last_sent:+1555"); err != nil || exists {
		t.Errorf("Exists after expiry = %v, %v; want false, nil", exists, err)
	}
}

func TestDynamoStore_DeleteAndMissing(t *testing.T) {
	ctx := context.Background()
	db := newFakeDynamo()
	s := NewDynamoStore(db, "OTPTable", clock.NewFake(time.Unix(1000, 0)), quietLogger())

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing error = %v, want ErrNotFound", err)
	}

	_ = s.Put(ctx, "k", []byte("v"), time.Minute)
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(db.items) != 0 {
		t.Errorf("items after Delete = %d, want 0", len(db.items))
	}
}

func TestDynamoStore_BackendErrorIsUnavailable(t *testing.T) {
	ctx := context.Background()
	db := newFakeDynamo()
	db.err = errors.New("ProvisionedThroughputExceededException")
	s := NewDynamoStore(db, "OTPTable", clock.NewFake(time.Unix(1000, 0)), quietLogger())

	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get error = %v, want ErrUnavailable", err)
	}
	if err := s.Put(ctx, "k", []byte("v"), time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Put error = %v, want ErrUnavailable", err)
	}
	if err := s.Delete(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Delete error = %v, want ErrUnavailable", err)
	}
}
