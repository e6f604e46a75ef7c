package streams

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mohammad-safakhou/incidentsync/internal/pipeline"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRunEventsAppendToStream(t *testing.T) {
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

	events := &RunEvents{Publisher: NewPublisher(rdb, DefaultRunStream, 100)}
	run := pipeline.Run{ID: "r1", Flow: pipeline.FlowAppend, FeedType: "alerts", Status: pipeline.RunStatusRunning, StartedAt: time.Now()}
	if err := events.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	run.Status = pipeline.RunStatusSucceeded
	run.ItemID = "U1"
	run.FinishedAt = time.Now()
	if err := events.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	msgs, err := rdb.XRange(ctx, DefaultRunStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(msgs))
	}
	raw, _ := msgs[1].Values["envelope"].(string)
	env, err := UnmarshalEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	if env.EventType != EventRunFinished {
		t.Fatalf("unexpected event type %s", env.EventType)
	}
}
