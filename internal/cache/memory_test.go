package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderRoundTrip(t *testing.T) {
	p, err := NewMemoryProvider(time.Minute, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	if err := p.Set(ctx, "snapshot:abc", []byte(`{"score":0.9}`)); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := p.Get(ctx, "snapshot:abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"score":0.9}` {
		t.Fatalf("unexpected value %q", got)
	}

	if err := p.Del(ctx, "snapshot:abc"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := p.Get(ctx, "snapshot:abc"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss after delete, got %v", err)
	}
}

func TestMemoryProviderMiss(t *testing.T) {
	p, err := NewMemoryProvider(time.Minute, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	if _, err := p.Get(context.Background(), "absent"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
	if err := p.Del(context.Background(), "absent"); err != nil {
		t.Fatalf("deleting an absent key should not error, got %v", err)
	}
}

func TestMemoryProviderRejectsBadConfig(t *testing.T) {
	if _, err := NewMemoryProvider(0, 8); err == nil {
		t.Fatal("expected error for zero ttl")
	}
	if _, err := NewMemoryProvider(time.Minute, 0); err == nil {
		t.Fatal("expected error for zero size")
	}
}

func TestNoopProvider(t *testing.T) {
	var p NoopProvider
	ctx := context.Background()

	if err := p.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("noop set: %v", err)
	}
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("noop get should miss, got %v", err)
	}
}
