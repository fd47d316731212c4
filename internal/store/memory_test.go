package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qcom/phoneotp/internal/clock"
)

func TestMemoryStore_PutGet(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewMemoryStore(clk)

	if err := s.Put(ctx, "otp:+1555", []byte("value"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, "otp:+1555")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "value" {
		t.Errorf("Get = %q, want %q", got, "value")
	}

	exists, err := s.Exists(ctx, "otp:+1555")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("Exists = false, want true")
	}
}

func TestMemoryStore_ExpiresOnClock(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewMemoryStore(clk)

	if err := s.Put(ctx, "k", []byte("v"), 30*time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}

	clk.Advance(29 * time.Second)
	if exists, _ := s.Exists(ctx, "k"); !exists {
		t.Fatal("key expired early")
	}

	clk.Advance(time.Second)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after TTL error = %v, want ErrNotFound", err)
	}
	if exists, _ := s.Exists(ctx, "k"); exists {
		t.Error("Exists after TTL = true, want false")
	}
}

func TestMemoryStore_NonPositiveTTLDeletes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(clock.NewFake(time.Unix(0, 0)))

	_ = s.Put(ctx, "k", []byte("v"), time.Minute)
	if err := s.Put(ctx, "k", []byte("v2"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_DeleteAndCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(clock.NewFake(time.Unix(0, 0)))

	buf := []byte("abc")
	_ = s.Put(ctx, "k", buf, time.Minute)
	buf[0] = 'z'

	got, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value = %q, want %q (caller mutation leaked)", got, "abc")
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete missing key: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
	}
}
