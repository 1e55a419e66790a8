package payments

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type memoryStore struct {
	data map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	return m.data[key], nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

func TestEventGuardMarksOnce(t *testing.T) {
	guard, err := NewEventGuard(&memoryStore{data: map[string]string{}}, time.Hour, "stripe-webhook")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, "evt_1")
	if err != nil || seen {
		t.Fatalf("first delivery should be new, seen=%v err=%v", seen, err)
	}
	seen, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil || !seen {
		t.Fatalf("second delivery should be a replay, seen=%v err=%v", seen, err)
	}

	if err := guard.Delete(ctx, "evt_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if seen, _ := guard.CheckAndMark(ctx, "evt_1"); seen {
		t.Fatal("expected deleted event to be processed again")
	}
	if _, err := guard.CheckAndMark(ctx, ""); err == nil {
		t.Fatal("expected empty event id to fail")
	}
}

func TestNewEventGuardValidates(t *testing.T) {
	if _, err := NewEventGuard(nil, time.Hour, "x"); err == nil {
		t.Fatal("expected nil store to fail")
	}
	if _, err := NewEventGuard(&memoryStore{}, -time.Second, "x"); err == nil {
		t.Fatal("expected negative ttl to fail")
	}
	if _, err := NewEventGuard(&memoryStore{}, time.Hour, ""); err == nil {
		t.Fatal("expected empty scope to fail")
	}
}
