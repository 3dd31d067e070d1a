package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisTaskQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, task := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, task); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["job_id"] != task.JobID || got.Values["module_code"] != task.ModuleCode {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
	if got.Values["tenant_id"] != "42" {
		t.Fatalf("tenant id lost: %+v", got.Values)
	}
}

func TestRedisTaskQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, task := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, task); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}

	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestRedisTaskQueueAttemptTracking(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	q, err := NewRedisTaskQueue(RedisQueueConfig{
		Addr:   redisSrv.Addr(),
		Stream: "test:queue",
		Group:  "test-group",
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()
	for want := 1; want <= 3; want++ {
		got, err := q.bumpAttempts(ctx, "job-1")
		if err != nil {
			t.Fatalf("bump: %v", err)
		}
		if got != want {
			t.Fatalf("attempt %d reported as %d", want, got)
		}
	}
	q.clearAttempts(ctx, "job-1")
	got, err := q.bumpAttempts(ctx, "job-1")
	if err != nil {
		t.Fatalf("bump after clear: %v", err)
	}
	if got != 1 {
		t.Fatalf("attempts not reset, got %d", got)
	}
}

func newPendingQueueMessage(t *testing.T) (*RedisTaskQueue, context.Context, string, Task) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	q, err := NewRedisTaskQueue(RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:queue",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	ctx := context.Background()
	q.ensureGroup(ctx)

	task := Task{JobID: "job-1", TenantID: 42, ModuleCode: "crm", Kind: "bootstrap", SourceKind: "customer"}
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}

	msg := streams[0].Messages[0]
	return q, ctx, msg.ID, task
}
