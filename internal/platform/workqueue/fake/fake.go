// Package fake is an in-memory ports.WorkQueue used by orchestrator unit
// tests. It is synchronous and single-node: Enqueue appends, Dequeue pops
// FIFO, and Retry/DeadLetter are recorded for assertions rather than timed.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docmark/internal/core/ports"
)

type DeadLetterRecord struct {
	Envelope *ports.Envelope
	Reason   string
}

type Queue struct {
	mu          sync.Mutex
	items       []*ports.Envelope
	seq         int
	Retries     []*ports.Envelope
	DeadLetters []DeadLetterRecord
}

func New() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(_ context.Context, item ports.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.items = append(q.items, &ports.Envelope{
		ID:         fmt.Sprintf("fake-%d", q.seq),
		Item:       item,
		Attempt:    0,
		EnqueuedAt: time.Now(),
	})
	return nil
}

func (q *Queue) Dequeue(_ context.Context) (*ports.Envelope, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

func (q *Queue) Retry(_ context.Context, envelope *ports.Envelope, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	envelope.Attempt++
	q.Retries = append(q.Retries, envelope)
	q.items = append(q.items, envelope)
	return nil
}

func (q *Queue) DeadLetter(_ context.Context, envelope *ports.Envelope, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.DeadLetters = append(q.DeadLetters, DeadLetterRecord{Envelope: envelope, Reason: reason})
	return nil
}

func (q *Queue) Stats(_ context.Context) (ports.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return ports.QueueStats{
		Pending:     int64(len(q.items)),
		DeadLetters: int64(len(q.DeadLetters)),
	}, nil
}

func (q *Queue) Close() error { return nil }

// Len reports the number of items currently queued, for test assertions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
