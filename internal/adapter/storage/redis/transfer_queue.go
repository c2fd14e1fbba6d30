package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"wallet-ledger/config"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	queuePrefix  = "queue:transfers:"
	defaultLease = 30 * time.Second
)

// reserveScript moves the oldest waiting id to active and records its lease
// expiry in one step, so no reserved id exists without a lease.
var reserveScript = goredis.NewScript(`
local id = redis.call('LMOVE', KEYS[1], KEYS[2], 'RIGHT', 'LEFT')
if id then
	redis.call('ZADD', KEYS[3], ARGV[1], id)
end
return id
`)

// TransferQueue implements ports.TransferQueue on Redis lists.
//
// A job body is stored as JSON under job:{id}. Its id moves through the
// waiting and active lists, the delayed sorted set (scored by due time in
// milliseconds) and finally the completed or failed list. Finished lists are
// trimmed to the configured retention and trimmed job bodies are deleted.
//
// Every active id holds a lease in the leases sorted set. A job whose lease
// expires (worker crash, lost finish write) is redelivered, and the run that
// stalled counts as an attempt.
type TransferQueue struct {
	client *goredis.Client
	cfg    config.QueueConfig
	now    func() time.Time
}

// NewTransferQueue creates a Redis-backed transfer queue.
func NewTransferQueue(client *goredis.Client, cfg config.QueueConfig) *TransferQueue {
	return &TransferQueue{client: client, cfg: cfg, now: time.Now}
}

func (q *TransferQueue) key(name string) string { return queuePrefix + name }

func (q *TransferQueue) jobKey(id uuid.UUID) string { return queuePrefix + "job:" + id.String() }

// Enqueue stores a new waiting job.
func (q *TransferQueue) Enqueue(ctx context.Context, req ports.TransferRequest) (*ports.TransferJob, error) {
	now := q.now().UTC()
	job := &ports.TransferJob{
		ID:          uuid.New(),
		Request:     req,
		State:       ports.JobStateWaiting,
		MaxAttempts: q.cfg.Attempts,
		EnqueuedAt:  now,
		UpdatedAt:   now,
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode transfer job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), raw, 0)
		pipe.LPush(ctx, q.key("waiting"), job.ID.String())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis enqueue transfer: %w", err)
	}
	return job, nil
}

func (q *TransferQueue) lease() time.Duration {
	if q.cfg.Lease <= 0 {
		return defaultLease
	}
	return q.cfg.Lease
}

// Reserve redelivers jobs with expired leases, promotes due delayed jobs,
// then moves the oldest waiting job to the active list and returns it. It
// returns nil, nil when nothing is due.
func (q *TransferQueue) Reserve(ctx context.Context) (*ports.TransferJob, error) {
	if err := q.recoverStalled(ctx); err != nil {
		return nil, err
	}
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}

	expiry := q.now().Add(q.lease()).UnixMilli()
	keys := []string{q.key("waiting"), q.key("active"), q.key("leases")}
	id, err := reserveScript.Run(ctx, q.client, keys, expiry).Text()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis reserve transfer: %w", err)
	}

	jobID, err := uuid.Parse(id)
	if err != nil {
		q.drop(ctx, id)
		return nil, fmt.Errorf("corrupt job id %q: %w", id, err)
	}
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		q.drop(ctx, id)
		return nil, fmt.Errorf("job %s has no body", id)
	}

	job.State = ports.JobStateActive
	job.AttemptsMade++
	job.RunAt = nil
	job.UpdatedAt = q.now().UTC()
	if err := q.save(ctx, q.client, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Complete records the committed transaction and retires the job.
func (q *TransferQueue) Complete(ctx context.Context, job *ports.TransferJob, transactionID uuid.UUID) error {
	job.State = ports.JobStateCompleted
	job.TransactionID = &transactionID
	job.LastError = ""
	job.UpdatedAt = q.now().UTC()

	if err := q.finish(ctx, job, "completed"); err != nil {
		return err
	}
	return q.trim(ctx, "completed", q.cfg.KeepCompleted)
}

// Fail records the attempt. With retry set and attempts left the job is
// delayed by Backoff * 2^(attempts-1); otherwise it is retired as failed.
func (q *TransferQueue) Fail(ctx context.Context, job *ports.TransferJob, cause error, retry bool) error {
	now := q.now().UTC()
	if cause != nil {
		job.LastError = cause.Error()
	}
	job.UpdatedAt = now

	if retry && job.AttemptsMade < job.MaxAttempts {
		runAt := now.Add(q.backoff(job.AttemptsMade))
		job.State = ports.JobStateDelayed
		job.RunAt = &runAt

		_, err := q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if err := q.save(ctx, pipe, job); err != nil {
				return err
			}
			q.release(ctx, pipe, job.ID.String())
			pipe.ZAdd(ctx, q.key("delayed"), goredis.Z{
				Score:  float64(runAt.UnixMilli()),
				Member: job.ID.String(),
			})
			return nil
		})
		if err != nil {
			return fmt.Errorf("redis delay transfer: %w", err)
		}
		return nil
	}

	job.State = ports.JobStateFailed
	if err := q.finish(ctx, job, "failed"); err != nil {
		return err
	}
	return q.trim(ctx, "failed", q.cfg.KeepFailed)
}

// Get returns the job body, or nil, nil when it is unknown or was trimmed.
func (q *TransferQueue) Get(ctx context.Context, id uuid.UUID) (*ports.TransferJob, error) {
	raw, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get transfer job: %w", err)
	}
	var job ports.TransferJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode transfer job: %w", err)
	}
	return &job, nil
}

func (q *TransferQueue) Stats(ctx context.Context) (*ports.QueueStats, error) {
	var waiting, active, delayed, completed, failed *goredis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		waiting = pipe.LLen(ctx, q.key("waiting"))
		active = pipe.LLen(ctx, q.key("active"))
		delayed = pipe.ZCard(ctx, q.key("delayed"))
		completed = pipe.LLen(ctx, q.key("completed"))
		failed = pipe.LLen(ctx, q.key("failed"))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis queue stats: %w", err)
	}
	return &ports.QueueStats{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

func (q *TransferQueue) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return q.cfg.Backoff * time.Duration(1<<(attempt-1))
}

// promoteDue moves delayed jobs whose due time has passed back to waiting.
// ZREM decides the winner when several workers race on the same id.
func (q *TransferQueue) promoteDue(ctx context.Context) error {
	max := strconv.FormatInt(q.now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, q.key("delayed"), &goredis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return fmt.Errorf("redis scan delayed transfers: %w", err)
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.key("delayed"), id).Result()
		if err != nil {
			return fmt.Errorf("redis promote transfer: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.key("waiting"), id).Err(); err != nil {
			return fmt.Errorf("redis promote transfer: %w", err)
		}
	}
	return nil
}

// recoverStalled moves active jobs whose lease has expired back to waiting,
// or to failed when the stalled run was their last attempt. ZREM on the lease
// decides the winner when several workers race on the same id.
func (q *TransferQueue) recoverStalled(ctx context.Context) error {
	now := q.now().UTC()
	cutoff := strconv.FormatInt(now.UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, q.key("leases"), &goredis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return fmt.Errorf("redis scan stalled transfers: %w", err)
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.key("leases"), id).Result()
		if err != nil {
			return fmt.Errorf("redis recover transfer: %w", err)
		}
		if removed == 0 {
			continue
		}

		jobID, err := uuid.Parse(id)
		if err != nil {
			q.drop(ctx, id)
			continue
		}
		job, err := q.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			q.drop(ctx, id)
			continue
		}
		if job.State != ports.JobStateActive {
			// finished between the scan and the ZREM
			continue
		}

		job.LastError = "lease expired before the job finished"
		job.UpdatedAt = now
		if job.AttemptsMade >= job.MaxAttempts {
			job.State = ports.JobStateFailed
			if err := q.finish(ctx, job, "failed"); err != nil {
				return err
			}
			if err := q.trim(ctx, "failed", q.cfg.KeepFailed); err != nil {
				return err
			}
			continue
		}

		job.State = ports.JobStateWaiting
		_, err = q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if err := q.save(ctx, pipe, job); err != nil {
				return err
			}
			pipe.LRem(ctx, q.key("active"), 1, id)
			pipe.RPush(ctx, q.key("waiting"), id)
			return nil
		})
		if err != nil {
			return fmt.Errorf("redis recover transfer: %w", err)
		}
	}
	return nil
}

// release removes every trace of id from the in-flight structures. A copy
// already redelivered to waiting is withdrawn too.
func (q *TransferQueue) release(ctx context.Context, pipe goredis.Pipeliner, id string) {
	pipe.LRem(ctx, q.key("active"), 1, id)
	pipe.LRem(ctx, q.key("waiting"), 0, id)
	pipe.ZRem(ctx, q.key("leases"), id)
}

// drop discards an id that has no usable body.
func (q *TransferQueue) drop(ctx context.Context, id string) {
	_, _ = q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		q.release(ctx, pipe, id)
		return nil
	})
}

func (q *TransferQueue) finish(ctx context.Context, job *ports.TransferJob, list string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if err := q.save(ctx, pipe, job); err != nil {
			return err
		}
		q.release(ctx, pipe, job.ID.String())
		pipe.LPush(ctx, q.key(list), job.ID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis retire transfer: %w", err)
	}
	return nil
}

// trim keeps the newest keep ids of list and deletes the bodies of the rest.
// A negative keep disables trimming.
func (q *TransferQueue) trim(ctx context.Context, list string, keep int64) error {
	if keep < 0 {
		return nil
	}
	stale, err := q.client.LRange(ctx, q.key(list), keep, -1).Result()
	if err != nil {
		return fmt.Errorf("redis trim %s: %w", list, err)
	}
	if len(stale) == 0 {
		return nil
	}

	_, err = q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if keep == 0 {
			pipe.Del(ctx, q.key(list))
		} else {
			pipe.LTrim(ctx, q.key(list), 0, keep-1)
		}
		for _, id := range stale {
			pipe.Del(ctx, queuePrefix+"job:"+id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis trim %s: %w", list, err)
	}
	return nil
}

func (q *TransferQueue) save(ctx context.Context, c goredis.Cmdable, job *ports.TransferJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode transfer job: %w", err)
	}
	if err := c.Set(ctx, q.jobKey(job.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis save transfer job: %w", err)
	}
	return nil
}
