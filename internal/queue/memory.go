package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a bounded in-process Queue. Items queued at Close are lost.
type MemoryQueue struct {
	items     chan interface{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue creates an in-memory queue with room for ten batches
func NewMemoryQueue(config *Config) *MemoryQueue {
	if config == nil {
		config = DefaultConfig("memory")
	}
	capacity := config.BatchSize * 10
	if capacity <= 0 {
		capacity = 1
	}

	return &MemoryQueue{
		items: make(chan interface{}, capacity),
		done:  make(chan struct{}),
	}
}

// Enqueue adds an item, blocking while the buffer is full. Producers
// blocked on a full buffer are released by Close or by ctx.
func (q *MemoryQueue) Enqueue(ctx context.Context, item interface{}) error {
	if q.isClosed() {
		return ErrQueueClosed
	}

	select {
	case q.items <- item:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until an item is available, then returns up to maxItems
func (q *MemoryQueue) Dequeue(ctx context.Context, maxItems int) ([]interface{}, error) {
	return q.take(ctx, maxItems, nil)
}

// DequeueWithTimeout is Dequeue that gives up with an empty slice after timeout
func (q *MemoryQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	return q.take(ctx, maxItems, timer.C)
}

// take waits for the first item, then collects what is already buffered.
// A nil expiry waits indefinitely.
func (q *MemoryQueue) take(ctx context.Context, maxItems int, expiry <-chan time.Time) ([]interface{}, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	if maxItems <= 0 {
		maxItems = 1
	}

	var first interface{}
	select {
	case first = <-q.items:
	case <-q.done:
		return nil, ErrQueueClosed
	case <-expiry:
		return []interface{}{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	batch := make([]interface{}, 1, maxItems)
	batch[0] = first
	for len(batch) < maxItems {
		select {
		case item := <-q.items:
			batch = append(batch, item)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// Length returns the number of buffered items
func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	if q.isClosed() {
		return 0, ErrQueueClosed
	}
	return len(q.items), nil
}

// Close wakes every blocked caller with ErrQueueClosed. It is idempotent.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

func (q *MemoryQueue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// MemoryDeadLetterQueue keeps failed items in a slice, oldest first
type MemoryDeadLetterQueue struct {
	mu     sync.Mutex
	items  []DeadLetterItem
	closed bool
}

// NewMemoryDeadLetterQueue creates an empty in-memory dead letter queue
func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{}
}

// Add records item together with the error that sent it here
func (q *MemoryDeadLetterQueue) Add(ctx context.Context, item interface{}, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, newDeadLetterItem(item, err))
	return nil
}

// List returns a copy of up to maxItems entries. maxItems <= 0 lists all.
func (q *MemoryDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	n := len(q.items)
	if maxItems > 0 && maxItems < n {
		n = maxItems
	}
	return append([]DeadLetterItem(nil), q.items[:n]...), nil
}

// Remove deletes the entry with the given ID
func (q *MemoryDeadLetterQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	for i := range q.items {
		if q.items[i].ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

// Close drops all entries
func (q *MemoryDeadLetterQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	return nil
}

func newDeadLetterItem(item interface{}, err error) DeadLetterItem {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return DeadLetterItem{
		ID:        uuid.NewString(),
		Item:      item,
		Error:     reason,
		Timestamp: time.Now().UTC(),
	}
}
