package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"serpassist/internal/util"
)

// Task is one indexing work item carried over the stream. The durable job
// record lives in the job store; the queue only transports the reference.
type Task struct {
	JobID      string
	TenantID   int64
	ModuleCode string
	Kind       string
	SourceKind string
	Attempts   int
}

// Handler processes one claimed task. A nil return acknowledges the message;
// an error triggers a retry until the attempt budget runs out.
type Handler func(ctx context.Context, task Task) error

// RedisTaskQueue is a Redis-streams work queue with consumer groups,
// stale-message auto-claim and bounded retries.
type RedisTaskQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	attemptTTL   time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type RedisQueueConfig struct {
	Addr       string
	Password   string
	DB         int
	Stream     string
	Group      string
	Consumer   string
	AttemptTTL time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisTaskQueue(cfg RedisQueueConfig) (*RedisTaskQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	attemptTTL := cfg.AttemptTTL
	if attemptTTL <= 0 {
		attemptTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisTaskQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		attemptTTL:   attemptTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Enqueue publishes a task onto the stream.
func (q *RedisTaskQueue) Enqueue(ctx context.Context, task Task) error {
	if strings.TrimSpace(task.JobID) == "" {
		return errors.New("jobId required")
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: taskValues(task),
	}).Err()
}

// Start launches concurrency consumer loops that run until ctx is canceled.
func (q *RedisTaskQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

// Close releases the underlying Redis connection.
func (q *RedisTaskQueue) Close() error {
	return q.client.Close()
}

func (q *RedisTaskQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			// best-effort; errors will surface on consume
		}
	})
}

func (q *RedisTaskQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisTaskQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisTaskQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	task, ok := taskFromValues(msg.Values)
	if !ok {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	attempts, err := q.bumpAttempts(ctx, task.JobID)
	if err != nil {
		attempts = q.maxRetries // fail closed rather than retry forever
	}
	task.Attempts = attempts

	if err := handler(ctx, task); err == nil {
		q.clearAttempts(ctx, task.JobID)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if attempts >= q.maxRetries {
		q.clearAttempts(ctx, task.JobID)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	_ = q.requeueAndAck(ctx, msg.ID, task)
}

func (q *RedisTaskQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *RedisTaskQueue) requeueAndAck(ctx context.Context, msgID string, task Task) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: taskValues(task),
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisTaskQueue) bumpAttempts(ctx context.Context, jobID string) (int, error) {
	key := q.attemptKey(jobID)
	n, err := q.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = q.client.Expire(ctx, key, q.attemptTTL).Err()
	return int(n), nil
}

func (q *RedisTaskQueue) clearAttempts(ctx context.Context, jobID string) {
	_ = q.client.Del(ctx, q.attemptKey(jobID)).Err()
}

func (q *RedisTaskQueue) attemptKey(jobID string) string {
	return fmt.Sprintf("task:%s:%s:attempts", q.stream, jobID)
}

func taskValues(task Task) map[string]any {
	return map[string]any{
		"job_id":      task.JobID,
		"tenant_id":   strconv.FormatInt(task.TenantID, 10),
		"module_code": task.ModuleCode,
		"kind":        task.Kind,
		"source_kind": task.SourceKind,
	}
}

func taskFromValues(values map[string]any) (Task, bool) {
	jobID, _ := values["job_id"].(string)
	if jobID == "" {
		return Task{}, false
	}
	task := Task{JobID: jobID}
	if v, _ := values["tenant_id"].(string); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			task.TenantID = n
		}
	}
	task.ModuleCode, _ = values["module_code"].(string)
	task.Kind, _ = values["kind"].(string)
	task.SourceKind, _ = values["source_kind"].(string)
	return task, true
}
