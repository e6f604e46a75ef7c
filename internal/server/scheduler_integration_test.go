package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer func() { _ = rdb.Close() }()

	a, b := NewRedisLocker(rdb), NewRedisLocker(rdb)
	ok, err := a.Acquire(ctx, "delete", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = b.Acquire(ctx, "delete", time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire must fail while held: ok=%v err=%v", ok, err)
	}
	ok, err = b.Acquire(ctx, "delete:1704106800", time.Second)
	if err != nil || !ok {
		t.Fatalf("another slot must be free: ok=%v err=%v", ok, err)
	}
	time.Sleep(1500 * time.Millisecond)
	ok, err = a.Acquire(ctx, "delete:1704106800", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after expiry: ok=%v err=%v", ok, err)
	}
}
