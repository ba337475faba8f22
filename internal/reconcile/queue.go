// Package reconcile tracks orphaned anchors: events whose hash reached the
// ledger but whose record could not be persisted. A Worker drains the queue
// by retrying persistence only. The ledger is never called again for a
// queued item.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/jmerrifield20/AuditVault/internal/canonical"
	"github.com/jmerrifield20/AuditVault/internal/event"
	"github.com/jmerrifield20/AuditVault/internal/fabric"
)

// Pending is an anchored event awaiting persistence.
type Pending struct {
	Event    event.Value           `json:"event"`
	Hash     canonical.ContentHash `json:"hash"`
	Ref      fabric.Reference      `json:"fabric_tx_id"`
	FailedAt time.Time             `json:"failed_at"`
	Attempts int                   `json:"attempts"`
	LastErr  string                `json:"last_error,omitempty"`
}

// Queue is a FIFO of pending items. Implementations are safe for concurrent use.
type Queue interface {
	// Push appends p to the tail of the queue.
	Push(ctx context.Context, p Pending) error
	// Pop removes and returns the head of the queue, or nil when it is empty.
	Pop(ctx context.Context) (*Pending, error)
	// Len returns the number of queued items.
	Len(ctx context.Context) (int64, error)
}

// MemoryQueue is an in-process Queue. Items are lost on restart.
type MemoryQueue struct {
	mu    sync.Mutex
	items []Pending
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Push implements Queue.
func (q *MemoryQueue) Push(_ context.Context, p Pending) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, p)
	return nil
}

// Pop implements Queue.
func (q *MemoryQueue) Pop(_ context.Context) (*Pending, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	p := q.items[0]
	q.items = q.items[1:]
	return &p, nil
}

// Len implements Queue.
func (q *MemoryQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}
