package policy

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketRefills(t *testing.T) {
	b := NewTokenBucket(3, 1, 100*time.Millisecond)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !b.Allow(now) {
			t.Fatalf("expected token %d to be available", i)
		}
	}
	if b.Allow(now) {
		t.Fatal("expected bucket to be empty")
	}
	if !b.Allow(now.Add(150 * time.Millisecond)) {
		t.Fatal("expected a refilled token")
	}
}

func TestNilTokenBucketAllows(t *testing.T) {
	var b *TokenBucket
	if !b.Allow(time.Now()) {
		t.Fatal("nil bucket must not limit")
	}
	if NewTokenBucket(0, 1, time.Second) != nil {
		t.Fatal("expected nil bucket for zero capacity")
	}
}

func TestTokenBucketWaitHonoursContext(t *testing.T) {
	b := NewTokenBucket(1, 1, time.Hour)
	if !b.Allow(time.Now()) {
		t.Fatal("expected initial token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTokenBucketWaitGetsRefill(t *testing.T) {
	b := NewTokenBucket(1, 1, 20*time.Millisecond)
	_ = b.Allow(time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("expected refill within a second, got %v", err)
	}
}
