package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snowskill/snowskill-backend/pkg/config"
)

func TestIncrWithTTLArmsExpiryOnce(t *testing.T) {
	ctx := context.Background()
	mem := newMemoryBackend()
	client := &Client{store: mem}
	key := client.RateLimitKey("203.0.113.7:/api/coupons/redeem:42")

	for want := int64(1); want <= 3; want++ {
		got, err := client.IncrWithTTL(ctx, key, time.Minute)
		if err != nil {
			t.Fatalf("incr %d: %v", want, err)
		}
		if got != want {
			t.Fatalf("expected count %d, got %d", want, got)
		}
	}
	if len(mem.expires) != 1 || mem.expires[0] != key {
		t.Fatalf("expected a single expire on %s, got %v", key, mem.expires)
	}
}

func TestIncrWithTTLReportsExpireFailure(t *testing.T) {
	mem := newMemoryBackend()
	mem.expireErr = errors.New("readonly replica")
	client := &Client{store: mem}

	count, err := client.IncrWithTTL(context.Background(), "k", time.Second)
	if err == nil {
		t.Fatal("expected expire error to surface")
	}
	if count != 1 {
		t.Fatalf("count should still be returned, got %d", count)
	}
}

func TestSetNXGuardsReplay(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMemoryBackend()}
	key := client.IdempotencyKey("stripe-webhook", "evt_1")

	won, err := client.SetNX(ctx, key, "processing", time.Hour)
	if err != nil || !won {
		t.Fatalf("first claim should win, won=%v err=%v", won, err)
	}
	won, err = client.SetNX(ctx, key, "processing", time.Hour)
	if err != nil || won {
		t.Fatalf("second claim should lose, won=%v err=%v", won, err)
	}

	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := client.Get(ctx, key); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil after release, got %v", err)
	}
	if err := client.Del(ctx); err != nil {
		t.Fatalf("empty del should be a no-op, got %v", err)
	}
}

func TestZeroClientIsNotReady(t *testing.T) {
	var client *Client
	if err := client.Ping(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if _, err := (&Client{}).IncrWithTTL(context.Background(), "k", time.Second); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on nil client should be a no-op, got %v", err)
	}
}

func TestKeyspaces(t *testing.T) {
	client := &Client{}
	cases := map[string]string{
		client.IdempotencyKey("stripe-webhook", "evt_1"): "ss:idempotency:stripe-webhook:evt_1",
		client.RateLimitKey(" 1.2.3.4:/api/coupons/redeem:42 "): "ss:ratelimit:1.2.3.4:/api/coupons/redeem:42",
		client.LockKey("cron-worker:prod"):                       "ss:lock:cron-worker:prod",
		client.LockKey(""):                                       "ss:lock",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}

func TestOptionsFromConfig(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}

	opts, err := optionsFromConfig(config.RedisConfig{
		URL:         "redis://:secret@cache:6380/2",
		PoolSize:    20,
		DB:          5,
		DialTimeout: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.Password != "secret" {
		t.Fatalf("url fields not applied: %+v", opts)
	}
	if opts.DB != 2 {
		t.Fatalf("url db should win over config db, got %d", opts.DB)
	}
	if opts.PoolSize != 20 || opts.DialTimeout != 3*time.Second {
		t.Fatalf("config should fill unset fields: %+v", opts)
	}
	if opts.ClientName != clientName {
		t.Fatalf("expected client name %q, got %q", clientName, opts.ClientName)
	}

	opts, err = optionsFromConfig(config.RedisConfig{Address: "localhost:6379", DB: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.DB != 1 {
		t.Fatalf("address config not applied: %+v", opts)
	}
}

type memoryBackend struct {
	data      map[string]string
	counters  map[string]int64
	expires   []string
	expireErr error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: map[string]string{}, counters: map[string]int64{}}
}

func (m *memoryBackend) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *memoryBackend) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memoryBackend) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, ok := m.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *memoryBackend) Incr(_ context.Context, key string) *redis.IntCmd {
	m.counters[key]++
	return redis.NewIntResult(m.counters[key], nil)
}

func (m *memoryBackend) Expire(_ context.Context, key string, _ time.Duration) *redis.BoolCmd {
	if m.expireErr != nil {
		return redis.NewBoolResult(false, m.expireErr)
	}
	m.expires = append(m.expires, key)
	return redis.NewBoolResult(true, nil)
}

func (m *memoryBackend) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
