package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pushgate-io/pushgate/internal/channel"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return &Client{rdb: rdb, logger: zap.NewNop()}, mr
}

func TestTokenStore_RoundTrip(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewTokenStore(client, zap.NewNop())
	ctx := context.Background()

	expires := time.Now().Add(90 * time.Minute).Truncate(time.Second)
	entry := &channel.TokenEntry{AccessToken: "tok-1", ExpiresAt: expires}

	if err := store.Put(ctx, "wechat:app-1", entry, time.Hour); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.Get(ctx, "wechat:app-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached entry")
	}
	if got.AccessToken != "tok-1" {
		t.Errorf("expected tok-1, got %q", got.AccessToken)
	}
	if !got.ExpiresAt.Equal(expires) {
		t.Errorf("expected expiry %v, got %v", expires, got.ExpiresAt)
	}
}

func TestTokenStore_MissIsNilNil(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewTokenStore(client, zap.NewNop())

	got, err := store.Get(context.Background(), "wechat:unknown")
	if err != nil {
		t.Fatalf("expected no error for absent key, got: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil entry for absent key, got: %+v", got)
	}
}

func TestTokenStore_Delete(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewTokenStore(client, zap.NewNop())
	ctx := context.Background()

	entry := &channel.TokenEntry{AccessToken: "tok-1", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.Put(ctx, "wecom:corp:1", entry, time.Hour); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Delete(ctx, "wecom:corp:1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	got, err := store.Get(ctx, "wecom:corp:1")
	if err != nil || got != nil {
		t.Fatalf("expected miss after delete, got entry=%+v err=%v", got, err)
	}
}

func TestTokenStore_TTLExpiry(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewTokenStore(client, zap.NewNop())
	ctx := context.Background()

	entry := &channel.TokenEntry{AccessToken: "tok-1", ExpiresAt: time.Now().Add(time.Minute)}
	if err := store.Put(ctx, "wechat:app-1", entry, time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	got, err := store.Get(ctx, "wechat:app-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected entry to expire with the redis TTL, got: %+v", got)
	}
}

func TestTokenStore_KeysAreNamespaced(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewTokenStore(client, zap.NewNop())

	entry := &channel.TokenEntry{AccessToken: "tok-1", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.Put(context.Background(), "wechat:app-1", entry, time.Hour); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if !mr.Exists("pushgate:token:wechat:app-1") {
		t.Error("expected key under the pushgate:token namespace")
	}
}

func TestTokenStore_CorruptEntry(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewTokenStore(client, zap.NewNop())

	mr.Set("pushgate:token:wechat:app-1", "not json")

	_, err := store.Get(context.Background(), "wechat:app-1")
	if err == nil {
		t.Fatal("expected error for corrupt cached entry")
	}
}
