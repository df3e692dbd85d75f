// Package store abstracts the key-value + list backend that holds job
// records, agent records, and the three priority queues.
//
// Each operation is individually atomic; the core never assumes multi-key
// transactions. Correctness across multi-step sequences (e.g. claim) is
// achieved through monotone state transitions and the scheduler's
// reconciliation sweep, not locking.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/testrig/pkg/models"
)

// Sentinel errors for store operations.
var (
	// ErrKeyNotFound indicates the requested key is absent or expired.
	ErrKeyNotFound = errors.New("key not found")

	// ErrUnavailable indicates the backend could not be reached or the
	// operation failed at the I/O level. Callers may retry.
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the key-value + list contract the core runs against.
// A ttl of zero means the entry never expires.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, prefix string) ([]string, error)

	ListPushTail(ctx context.Context, key, value string) error
	ListPopHead(ctx context.Context, key string) (string, error)
	ListLen(ctx context.Context, key string) (int, error)
	ListSnapshot(ctx context.Context, key string) ([]string, error)

	Ping(ctx context.Context) error
}

// Expirer is implemented by backends that need active removal of expired
// entries (the memory store expires lazily and returns zero).
type Expirer interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Key prefixes of the persisted layout.
const (
	jobKeyPrefix   = "job:"
	agentKeyPrefix = "agent:"
	queueKeyPrefix = "queue:"
)

// JobKey returns the store key for a job record.
func JobKey(id string) string { return jobKeyPrefix + id }

// AgentKey returns the store key for an agent record.
func AgentKey(id string) string { return agentKeyPrefix + id }

// QueueKey returns the store key for a priority queue list.
func QueueKey(p models.Priority) string { return queueKeyPrefix + string(p) }

// unavailable wraps a backend error into ErrUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
