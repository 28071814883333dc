// Package queue buffers work for background workers. Two backends share one
// interface:
//
//   - MemoryQueue keeps items in a bounded channel. Nothing survives a
//     restart, which suits single-node and development setups.
//   - RedisQueue keeps items in a Redis list, so queued work survives
//     restarts and can be consumed by several replicas.
//
// Items that still fail after the worker's retries go to a DeadLetterQueue,
// from which they can be listed and replayed.
package queue

import (
	"context"
	"time"
)

// Queue defines the interface for message queuing
type Queue interface {
	// Enqueue adds an item to the queue
	Enqueue(ctx context.Context, item interface{}) error

	// Dequeue blocks until at least one item is available and returns up to maxItems
	Dequeue(ctx context.Context, maxItems int) ([]interface{}, error)

	// DequeueWithTimeout is Dequeue that returns an empty slice once timeout elapses
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error)

	// Length returns the number of queued items
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue
	Close() error
}

// DeadLetterQueue holds items that could not be processed
type DeadLetterQueue interface {
	// Add records a failed item with the error that made it fail
	Add(ctx context.Context, item interface{}, err error) error

	// List returns up to maxItems failed items, oldest first. maxItems <= 0 lists all.
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Remove deletes an item by ID
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue
	Close() error
}

// DeadLetterItem is a failed item with its failure details
type DeadLetterItem struct {
	ID        string      `json:"id"`
	Item      interface{} `json:"item"`
	Error     string      `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
	Retries   int         `json:"retries"`
}

// Config holds queue configuration
type Config struct {
	// BatchSize is the maximum number of items to process in a batch
	BatchSize int

	// BatchTimeout is how long to wait for the first item of a batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts per item
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries
	RetryBackoff time.Duration

	// QueueName is the name/key for the queue
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		QueueName:    queueName,
	}
}
