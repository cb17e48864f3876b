package locker

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func quietEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestRedisLock(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	a := NewRedis(client, time.Second, 100*time.Millisecond, quietEntry())
	unlock, err := a.Lock(ctx, key)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	if _, err := a.Lock(ctx, key); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	unlock()
	again, err := a.Lock(ctx, key)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again()
}

func TestRedisReleaseKeepsForeignLock(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	short := NewRedis(client, 50*time.Millisecond, 0, quietEntry())
	unlock, err := short.Lock(ctx, key)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	other := NewRedis(client, time.Second, 100*time.Millisecond, quietEntry())
	unlockOther, err := other.Lock(ctx, key)
	if err != nil {
		t.Fatalf("lock after expiry: %v", err)
	}
	defer unlockOther()

	// The expired holder must not free the new holder's lock.
	unlock()
	if _, err := other.Lock(ctx, key); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("lock was released by its previous holder: %v", err)
	}
}
