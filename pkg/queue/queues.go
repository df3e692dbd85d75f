// Package queue exposes the three FIFO priority queues of job references.
//
// The queues are append-only lists in the store; the scheduler does not rely
// on their internal ordering for fairness — each tick snapshots, sorts, and
// rewrites them.
package queue

import (
	"context"
	"errors"

	"github.com/codeready-toolchain/testrig/pkg/models"
	"github.com/codeready-toolchain/testrig/pkg/store"
)

// Queues wraps the store's list operations for the high/medium/low queues.
type Queues struct {
	store store.Store
}

// New creates the queue accessor.
func New(s store.Store) *Queues {
	return &Queues{store: s}
}

// Append adds a job id to the tail of the queue for the given priority.
func (q *Queues) Append(ctx context.Context, p models.Priority, jobID string) error {
	return q.store.ListPushTail(ctx, store.QueueKey(p), jobID)
}

// Pop removes and returns the head job id, or ("", false, nil) when empty.
func (q *Queues) Pop(ctx context.Context, p models.Priority) (string, bool, error) {
	id, err := q.store.ListPopHead(ctx, store.QueueKey(p))
	if errors.Is(err, store.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Snapshot returns the queue contents, head first.
func (q *Queues) Snapshot(ctx context.Context, p models.Priority) ([]string, error) {
	return q.store.ListSnapshot(ctx, store.QueueKey(p))
}

// Len returns the current queue length.
func (q *Queues) Len(ctx context.Context, p models.Priority) (int, error) {
	return q.store.ListLen(ctx, store.QueueKey(p))
}

// Drain pops every entry and returns them in order. Entries appended
// concurrently with the drain may or may not be included; they are picked up
// on the next scheduler tick either way.
func (q *Queues) Drain(ctx context.Context, p models.Priority) ([]string, error) {
	var ids []string
	for {
		id, ok, err := q.Pop(ctx, p)
		if err != nil {
			return ids, err
		}
		if !ok {
			return ids, nil
		}
		ids = append(ids, id)
	}
}

// ReplaceAll drains the queue and re-appends ids in the given order.
func (q *Queues) ReplaceAll(ctx context.Context, p models.Priority, ids []string) error {
	if _, err := q.Drain(ctx, p); err != nil {
		return err
	}
	for _, id := range ids {
		if err := q.Append(ctx, p, id); err != nil {
			return err
		}
	}
	return nil
}
