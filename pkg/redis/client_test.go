package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	return NewWithClient(raw), mr
}

func TestVersionedRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	key := client.SagaKey("abc")

	require.NoError(t, client.SetVersioned(ctx, key, 3, []byte(`{"state":"STARTED"}`), time.Minute))

	version, data, err := client.GetVersioned(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(3), version)
	require.JSONEq(t, `{"state":"STARTED"}`, string(data))
	require.Equal(t, time.Minute, mr.TTL(key))
}

func TestGetVersionedMissing(t *testing.T) {
	client, _ := newTestClient(t)
	_, _, err := client.GetVersioned(context.Background(), client.SagaKey("missing"))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestCompareAndSwapVersioned(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	key := client.SagaKey("cas")

	ok, err := client.CompareAndSwapVersioned(ctx, key, 0, 1, []byte("v1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "missing key should match expected version 0")

	ok, err = client.CompareAndSwapVersioned(ctx, key, 0, 1, []byte("again"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "stale expected version must be rejected")

	ok, err = client.CompareAndSwapVersioned(ctx, key, 1, 2, []byte("v2"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	version, data, err := client.GetVersioned(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(2), version)
	require.Equal(t, "v2", string(data))
}

func TestVersionedExpires(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	key := client.SagaKey("ttl")

	require.NoError(t, client.SetVersioned(ctx, key, 1, []byte("x"), time.Second))
	mr.FastForward(2 * time.Second)

	_, _, err := client.GetVersioned(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestScanEachVisitsEveryMatchingKey(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	for i := 0; i < 450; i++ {
		require.NoError(t, client.SetVersioned(ctx, client.SagaKey(fmt.Sprintf("s-%03d", i)), 1, []byte("x"), time.Minute))
	}
	require.NoError(t, client.Set(ctx, client.LockKey("job"), "owner", time.Minute))

	seen := map[string]bool{}
	err := client.ScanEach(ctx, client.SagaKeyPattern(), func(keys []string) (bool, error) {
		for _, k := range keys {
			seen[k] = true
		}
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 450)
	require.True(t, seen["catalog:saga:s-449"])
	require.False(t, seen["catalog:lock:job"])
}

func TestScanEachStopsWhenCallbackDeclines(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, client.SetVersioned(ctx, client.SagaKey(id), 1, []byte(id), time.Minute))
	}

	pages := 0
	err := client.ScanEach(ctx, client.SagaKeyPattern(), func([]string) (bool, error) {
		pages++
		return false, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, pages)

	boom := errors.New("boom")
	err = client.ScanEach(ctx, client.SagaKeyPattern(), func([]string) (bool, error) { return true, boom })
	require.ErrorIs(t, err, boom)
}

func TestSetNXAndDel(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	key := client.LockKey("retention")

	ok, err := client.SetNX(ctx, key, "one", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = client.SetNX(ctx, key, "two", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, client.Del(ctx, key))
	_, err = client.Get(ctx, key)
	require.ErrorIs(t, err, redis.Nil)
}

func TestDeleteIfValue(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	key := client.LockKey("saga-recovery")

	ok, err := client.SetNX(ctx, key, "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	deleted, err := client.DeleteIfValue(ctx, key, "owner-b")
	require.NoError(t, err)
	require.False(t, deleted)

	deleted, err = client.DeleteIfValue(ctx, key, "owner-a")
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = client.Get(ctx, key)
	require.ErrorIs(t, err, redis.Nil)
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.SagaKey("id"); got != "catalog:saga:id" {
		t.Fatalf("unexpected saga key %s", got)
	}
	if got := client.LockKey("cron"); got != "catalog:lock:cron" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.buildKey("saga", ""); got != "catalog:saga" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
}

func TestUninitializedClient(t *testing.T) {
	var client *Client
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error from nil client")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on nil client should be a no-op: %v", err)
	}
}

func TestIdempotencyKeyIsNamespaced(t *testing.T) {
	client, _ := newTestClient(t)
	require.Equal(t, "catalog:idem:POST|/catalog/books:abc", client.IdempotencyKey("POST|/catalog/books", "abc"))
}
