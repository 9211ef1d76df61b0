package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	readyKey       = "mediagen:queue:ready"
	delayedKey     = "mediagen:queue:delayed"
	inflightPrefix = "mediagen:queue:inflight:"
)

var (
	// ErrEmpty is returned by Dequeue when nothing arrived within the block time.
	ErrEmpty = errors.New("queue empty")
	// ErrMalformedTask is returned by Dequeue for a payload that is not a task.
	// The payload is dropped.
	ErrMalformedTask = errors.New("malformed task")
)

// Delivery is a task popped by a consumer. It must be acked once handled.
type Delivery struct {
	Task Task
	raw  string
}

// Stats are the queue depths at one instant.
type Stats struct {
	Ready    int64 `json:"ready"`
	Delayed  int64 `json:"delayed"`
	Inflight int64 `json:"inflight"`
}

// RedisQueue is a ready list plus a delay ZSET scored by due time in unix
// milliseconds. Each consumer owns an in-flight list.
type RedisQueue struct {
	rdb      *redis.Client
	inflight string
}

// NewRedisQueue creates a queue. consumer names this process's in-flight list
// and only matters to workers.
func NewRedisQueue(rdb *redis.Client, consumer string) *RedisQueue {
	return &RedisQueue{rdb: rdb, inflight: inflightPrefix + consumer}
}

// Enqueue makes the task available immediately.
func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.rdb.LPush(ctx, readyKey, raw).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Schedule makes the task available after delay.
func (q *RedisQueue) Schedule(ctx context.Context, task Task, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, task)
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	due := time.Now().Add(delay).UnixMilli()
	if err := q.rdb.ZAdd(ctx, delayedKey, redis.Z{Score: float64(due), Member: string(raw)}).Err(); err != nil {
		return fmt.Errorf("schedule task: %w", err)
	}
	return nil
}

// Dequeue blocks up to block for the next ready task and moves it to the
// in-flight list.
func (q *RedisQueue) Dequeue(ctx context.Context, block time.Duration) (*Delivery, error) {
	raw, err := q.rdb.BLMove(ctx, readyKey, q.inflight, "RIGHT", "LEFT", block).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue task: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		if rmErr := q.rdb.LRem(ctx, q.inflight, 1, raw).Err(); rmErr != nil {
			return nil, fmt.Errorf("drop malformed task: %w", rmErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	return &Delivery{Task: task, raw: raw}, nil
}

// Ack removes a handled delivery from the in-flight list.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.rdb.LRem(ctx, q.inflight, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	return nil
}

var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

// PromoteDue moves up to batch delayed tasks that are due at now onto the
// ready list.
func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time, batch int) (int, error) {
	n, err := promoteScript.Run(ctx, q.rdb, []string{delayedKey, readyKey},
		strconv.FormatInt(now.UnixMilli(), 10), batch).Int()
	if err != nil {
		return 0, fmt.Errorf("promote due tasks: %w", err)
	}
	return n, nil
}

// RequeueInflight moves everything this consumer left in flight back onto
// the ready list.
func (q *RedisQueue) RequeueInflight(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.rdb.LMove(ctx, q.inflight, readyKey, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("requeue in-flight tasks: %w", err)
		}
		moved++
	}
}

// Stats reports queue depths. Inflight counts this consumer only.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	ready := pipe.LLen(ctx, readyKey)
	delayed := pipe.ZCard(ctx, delayedKey)
	inflight := pipe.LLen(ctx, q.inflight)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Ready: ready.Val(), Delayed: delayed.Val(), Inflight: inflight.Val()}, nil
}
