package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/intentbridge/relay/internal/config"
	"github.com/intentbridge/relay/internal/event"
	"github.com/redis/go-redis/v9"
)

// Outcome reports what Fail did with a job.
type Outcome int

const (
	OutcomeRescheduled Outcome = iota
	OutcomeDeadLettered
)

// Job is a leased queue unit: the raw event plus bookkeeping. A Job is owned
// by exactly one worker between Lease and Ack/Fail.
type Job struct {
	ID        string
	Raw       event.RawEvent
	Attempts  int
	CreatedAt time.Time
}

// Stats mirrors the queue introspection counts.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Queue is a Redis-backed durable job queue with id-keyed deduplication,
// visibility-timeout leasing, delayed retry, and a retained failed set.
// All cross-worker coordination happens through Redis atomic primitives.
type Queue struct {
	rdb    *redis.Client
	cfg    config.QueueConfig
	logger *slog.Logger

	leaseScript *redis.Script
	nowFunc     func() time.Time
}

// leaseScript promotes due delayed jobs and expired leases back onto the wait
// list, then pops one job and records its lease deadline. Runs atomically, so
// no two leasers can receive the same job.
const leaseLua = `
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[3], id)
  redis.call('LPUSH', KEYS[1], id)
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('LPUSH', KEYS[1], id)
end
local id = redis.call('RPOP', KEYS[1])
if not id then
  return false
end
redis.call('ZADD', KEYS[2], ARGV[2], id)
return id
`

// New connects to the Redis backing store and verifies connectivity.
func New(ctx context.Context, cfg config.QueueConfig, logger *slog.Logger) (*Queue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr(), err)
	}

	logger.Info("connected to redis", "addr", cfg.RedisAddr(), "db", cfg.RedisDB)

	return &Queue{
		rdb:         rdb,
		cfg:         cfg,
		logger:      logger,
		leaseScript: redis.NewScript(leaseLua),
		nowFunc:     time.Now,
	}, nil
}

// Close releases the Redis connection. In-flight leases stay in the active
// set and become re-leasable once their visibility timeout elapses.
func (q *Queue) Close() error {
	return q.rdb.Close()
}

// Health checks backing-store connectivity.
func (q *Queue) Health(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *Queue) key(parts ...string) string {
	k := q.cfg.KeyPrefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (q *Queue) waitKey() string    { return q.key("wait") }
func (q *Queue) activeKey() string  { return q.key("active") }
func (q *Queue) delayedKey() string { return q.key("delayed") }
func (q *Queue) failedKey() string  { return q.key("failed") }
func (q *Queue) doneKey() string    { return q.key("completed") }

func (q *Queue) jobKey(id string) string {
	return q.key("job", id)
}

func (q *Queue) dedupKey(id string) string {
	return q.key("dedup", id)
}

// Enqueue adds a job keyed by the provider event id. Returns false without
// side effects when a job with that id was already enqueued within the
// retention window; this is the primary dedup guarantee against duplicate
// webhook delivery.
func (q *Queue) Enqueue(ctx context.Context, raw *event.RawEvent) (bool, error) {
	fresh, err := q.rdb.SetNX(ctx, q.dedupKey(raw.ID), "1", q.cfg.RetentionDuration()).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check for %s: %w", raw.ID, err)
	}
	if !fresh {
		return false, nil
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		q.releaseDedup(ctx, raw.ID)
		return false, fmt.Errorf("marshal job %s: %w", raw.ID, err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(raw.ID), map[string]any{
		"payload":    string(payload),
		"attempts":   0,
		"created_at": q.nowFunc().UnixMilli(),
	})
	pipe.LPush(ctx, q.waitKey(), raw.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		// The dedup claim must not outlive a failed enqueue, or the
		// provider's redelivery of this id would be suppressed with no
		// job behind it.
		q.releaseDedup(ctx, raw.ID)
		return false, fmt.Errorf("enqueue %s: %w", raw.ID, err)
	}
	return true, nil
}

func (q *Queue) releaseDedup(ctx context.Context, id string) {
	if err := q.rdb.Del(ctx, q.dedupKey(id)).Err(); err != nil {
		q.logger.Error("release dedup marker failed", "event_id", id, "error", err)
	}
}

// Lease pops the next available job, granting exclusive ownership until
// Ack/Fail or the visibility timeout. Returns (nil, nil) when the queue is
// empty. Due delayed jobs and expired leases are promoted first.
func (q *Queue) Lease(ctx context.Context) (*Job, error) {
	now := q.nowFunc()
	deadline := now.Add(q.cfg.VisibilityTimeoutDuration())

	res, err := q.leaseScript.Run(ctx, q.rdb,
		[]string{q.waitKey(), q.activeKey(), q.delayedKey()},
		now.UnixMilli(), deadline.UnixMilli(),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease: %w", err)
	}
	id, ok := res.(string)
	if !ok || id == "" {
		return nil, nil
	}

	attempts, err := q.rdb.HIncrBy(ctx, q.jobKey(id), "attempts", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("lease %s: count attempt: %w", id, err)
	}

	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("lease %s: load job: %w", id, err)
	}
	payload, ok := fields["payload"]
	if !ok {
		// Orphaned id without a job record; drop the lease.
		q.rdb.ZRem(ctx, q.activeKey(), id)
		q.logger.Warn("dropping orphaned job id", "job_id", id)
		return nil, nil
	}

	job := &Job{ID: id, Attempts: int(attempts)}
	if err := json.Unmarshal([]byte(payload), &job.Raw); err != nil {
		q.rdb.ZRem(ctx, q.activeKey(), id)
		return nil, fmt.Errorf("lease %s: decode payload: %w", id, err)
	}
	if ms, perr := q.rdb.HGet(ctx, q.jobKey(id), "created_at").Int64(); perr == nil {
		job.CreatedAt = time.UnixMilli(ms)
	}
	return job, nil
}

// Ack marks a leased job as successfully processed and removes it. The dedup
// marker stays until its retention TTL, so a redelivery of the same event id
// remains a no-op.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.activeKey(), job.ID)
	pipe.Del(ctx, q.jobKey(job.ID))
	pipe.Incr(ctx, q.doneKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack %s: %w", job.ID, err)
	}
	return nil
}

// Fail returns a leased job to the queue. With attempts remaining it is
// rescheduled after an exponential backoff; otherwise it moves to the failed
// set, where it is retained for inspection rather than deleted.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) (Outcome, error) {
	causeMsg := ""
	if cause != nil {
		causeMsg = cause.Error()
	}

	if job.Attempts >= q.cfg.MaxAttempts {
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, q.activeKey(), job.ID)
		pipe.HSet(ctx, q.jobKey(job.ID), "last_error", causeMsg, "failed_at", q.nowFunc().UnixMilli())
		pipe.LPush(ctx, q.failedKey(), job.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			return OutcomeDeadLettered, fmt.Errorf("dead-letter %s: %w", job.ID, err)
		}
		return OutcomeDeadLettered, nil
	}

	readyAt := q.nowFunc().Add(BackoffDelay(q.cfg.BackoffBaseDuration(), job.Attempts))
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.activeKey(), job.ID)
	pipe.HSet(ctx, q.jobKey(job.ID), "last_error", causeMsg)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return OutcomeRescheduled, fmt.Errorf("reschedule %s: %w", job.ID, err)
	}
	return OutcomeRescheduled, nil
}

// FailedJob is a retained dead-lettered job.
type FailedJob struct {
	Job       Job
	LastError string
}

// Failed lists up to limit retained dead-lettered jobs, newest first.
func (q *Queue) Failed(ctx context.Context, limit int64) ([]FailedJob, error) {
	ids, err := q.rdb.LRange(ctx, q.failedKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	out := make([]FailedJob, 0, len(ids))
	for _, id := range ids {
		fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		fj := FailedJob{Job: Job{ID: id}, LastError: fields["last_error"]}
		_ = json.Unmarshal([]byte(fields["payload"]), &fj.Job.Raw)
		fmt.Sscanf(fields["attempts"], "%d", &fj.Job.Attempts)
		out = append(out, fj)
	}
	return out, nil
}

// Stats returns the queue depth counts exposed by the introspection endpoint.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.LLen(ctx, q.waitKey())
	active := pipe.ZCard(ctx, q.activeKey())
	completed := pipe.Get(ctx, q.doneKey())
	failed := pipe.LLen(ctx, q.failedKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}

	done, _ := completed.Int64()
	return Stats{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: done,
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
	}, nil
}

// BackoffDelay computes the delay before retry attempt+1: base doubled per
// completed attempt (base, 2*base, 4*base, ...).
func BackoffDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return base << (attempts - 1)
}
