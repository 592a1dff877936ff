package idempotency

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestMemoryPutGet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	if _, hit, _ := c.Get(ctx, "cust", "key"); hit {
		t.Fatal("unexpected hit on empty cache")
	}
	payload := []byte(`{"order":"o1"}`)
	if err := c.Put(ctx, "cust", "key", payload, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, hit, err := c.Get(ctx, "cust", "key")
	if err != nil || !hit {
		t.Fatalf("get: hit=%v err=%v", hit, err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %s", got)
	}
	// different customer, same key: no hit
	if _, hit, _ := c.Get(ctx, "other", "key"); hit {
		t.Fatal("key leaked across customers")
	}
}

func TestMemoryTTL(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	now := time.Now()
	c.SetClock(func() time.Time { return now })

	if err := c.Put(ctx, "cust", "key", []byte("v"), 10*time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	now = now.Add(11 * time.Second)
	if _, hit, _ := c.Get(ctx, "cust", "key"); hit {
		t.Fatal("expired entry still replayed")
	}
}

func TestKeyScoping(t *testing.T) {
	if Key("a", "k") == Key("b", "k") {
		t.Fatal("keys must be customer scoped")
	}
}
