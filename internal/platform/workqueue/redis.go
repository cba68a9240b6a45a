// Package workqueue is the Redis-backed WorkQueue: an at-least-once FIFO
// dispatch queue, grounded in the teacher's queue/redis.go LPush/BRPop
// pattern, generalized with a delayed-retry sorted set (replacing the
// teacher's in-process time.Sleep goroutine, which loses scheduled retries
// on a crash) and a dead-letter list for permanently exhausted items.
package workqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"docmark/internal/core/ports"
)

const (
	pendingKey    = "queue:work"
	delayedKey    = "queue:delayed"
	deadLetterKey = "queue:dead_letter"

	// pollTimeout bounds how long Dequeue blocks on BRPop before returning
	// control to the caller so it can check ctx cancellation and promote
	// newly-ready delayed items.
	pollTimeout = 5 * time.Second
)

type Queue struct {
	client *redis.Client
}

func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func (q *Queue) Enqueue(ctx context.Context, item ports.WorkItem) error {
	envelope := &ports.Envelope{
		ID:         fmt.Sprintf("%s-%d", item.MainID, time.Now().UnixNano()),
		Item:       item,
		Attempt:    0,
		EnqueuedAt: time.Now(),
	}
	return q.push(ctx, envelope)
}

func (q *Queue) push(ctx context.Context, envelope *ports.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal work item: %w", err)
	}
	if err := q.client.LPush(ctx, pendingKey, data).Err(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// promoteDue moves delayed envelopes whose ready-at score has passed into
// the pending list. Safe to call on every Dequeue poll; cheap no-op when
// nothing is due.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := float64(time.Now().Unix())
	due, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return fmt.Errorf("scan delayed: %w", err)
	}
	for _, data := range due {
		removed, err := q.client.ZRem(ctx, delayedKey, data).Result()
		if err != nil || removed == 0 {
			continue // another consumer already promoted it
		}
		if err := q.client.LPush(ctx, pendingKey, data).Err(); err != nil {
			return fmt.Errorf("promote delayed: %w", err)
		}
	}
	return nil
}

func (q *Queue) Dequeue(ctx context.Context) (*ports.Envelope, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}

	result, err := q.client.BRPop(ctx, pollTimeout, pendingKey).Result()
	if err == redis.Nil {
		return nil, nil // nothing ready within the poll window
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("dequeue: malformed BRPOP result")
	}

	var envelope ports.Envelope
	if err := json.Unmarshal([]byte(result[1]), &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &envelope, nil
}

func (q *Queue) Retry(ctx context.Context, envelope *ports.Envelope, delay time.Duration) error {
	envelope.Attempt++
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal retry: %w", err)
	}
	readyAt := float64(time.Now().Add(delay).Unix())
	if err := q.client.ZAdd(ctx, delayedKey, redis.Z{Score: readyAt, Member: data}).Err(); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

func (q *Queue) DeadLetter(ctx context.Context, envelope *ports.Envelope, reason string) error {
	record := struct {
		Envelope *ports.Envelope `json:"envelope"`
		Reason   string          `json:"reason"`
		DeadAt   time.Time       `json:"dead_at"`
	}{envelope, reason, time.Now()}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := q.client.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		return fmt.Errorf("dead letter: %w", err)
	}
	return nil
}

func (q *Queue) Stats(ctx context.Context) (ports.QueueStats, error) {
	pipe := q.client.Pipeline()
	pendingCmd := pipe.LLen(ctx, pendingKey)
	delayedCmd := pipe.ZCard(ctx, delayedKey)
	deadCmd := pipe.LLen(ctx, deadLetterKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return ports.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	return ports.QueueStats{
		Pending:     pendingCmd.Val(),
		Delayed:     delayedCmd.Val(),
		DeadLetters: deadCmd.Val(),
	}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}
