package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chat_gateway/internal/models"
	"chat_gateway/internal/queue"
	"chat_gateway/internal/utils"
)

// UsageWriter persists usage records. *UsageRepository implements it.
type UsageWriter interface {
	Create(ctx context.Context, record *models.UsageRecord) error
	CreateBatch(ctx context.Context, records []*models.UsageRecord) error
}

// UsageQueueWorker drains usage records from a queue into a UsageWriter.
// Batches are written in one transaction. When a batch fails every record is
// retried on its own with exponential backoff and, after MaxRetries, moved to
// the dead-letter queue.
type UsageQueueWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	writer      UsageWriter
	config      *queue.Config
	logger      *utils.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewUsageQueueWorker creates a new usage queue worker
func NewUsageQueueWorker(q queue.Queue, dlq queue.DeadLetterQueue, writer UsageWriter, config *queue.Config) *UsageQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("usage")
	}

	return &UsageQueueWorker{
		queue:       q,
		dlq:         dlq,
		writer:      writer,
		config:      config,
		logger:      utils.NewLogger("usage-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start runs the worker loop in a new goroutine
func (w *UsageQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the worker, waits for the in-flight batch and then drains
// whatever is still queued.
func (w *UsageQueueWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue schedules a usage record for persistence
func (w *UsageQueueWorker) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	return w.queue.Enqueue(ctx, record)
}

func (w *UsageQueueWorker) run(parent context.Context) {
	defer close(w.stoppedChan)

	// ctx is cancelled on Stop so a blocked dequeue returns promptly
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-w.stopChan:
			w.drain()
			w.logger.Info("Usage worker stopped")
			return
		default:
		}
		if parent.Err() != nil {
			w.logger.Info("Usage worker context cancelled")
			return
		}
		w.processBatch(ctx, w.config.BatchTimeout)
	}
}

// drain flushes the items left in the queue at shutdown
func (w *UsageQueueWorker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for ctx.Err() == nil {
		n, err := w.queue.Length(ctx)
		if err != nil || n == 0 {
			return
		}
		if w.processBatch(ctx, 10*time.Millisecond) == 0 {
			return
		}
	}
}

// processBatch writes up to one batch and reports how many items it dequeued
func (w *UsageQueueWorker) processBatch(ctx context.Context, timeout time.Duration) int {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, timeout)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrQueueClosed) {
			return 0
		}
		w.logger.Error("Failed to dequeue usage records", "error", err)
		w.sleep(ctx, time.Second)
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	records := make([]*models.UsageRecord, 0, len(items))
	for _, item := range items {
		record, err := decodeUsageRecord(item)
		if err != nil {
			w.logger.Error("Dropping undecodable usage record", "error", err)
			continue
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return len(items)
	}

	// dequeued records are written even if the worker is being stopped
	ctx = context.WithoutCancel(ctx)
	if err := w.writer.CreateBatch(ctx, records); err != nil {
		w.logger.Warn("Usage batch failed, retrying records individually", "count", len(records), "error", err)
		for _, record := range records {
			if err := w.processItem(ctx, record); err != nil {
				w.logger.Error("Usage record not stored", "request_id", record.RequestID, "error", err)
			}
		}
		return len(items)
	}

	w.logger.Debug("Stored usage batch", "count", len(records))
	return len(items)
}

// processItem stores one record with retries, falling back to the dead-letter queue
func (w *UsageQueueWorker) processItem(ctx context.Context, record *models.UsageRecord) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			w.sleep(ctx, w.config.RetryBackoff*time.Duration(1<<uint(attempt-1)))
		}
		if lastErr = w.writer.Create(ctx, record); lastErr == nil {
			return nil
		}
	}

	if w.dlq != nil {
		if err := w.dlq.Add(ctx, record, lastErr); err != nil {
			w.logger.Error("Failed to add usage record to dead letter queue", "error", err)
		} else {
			w.logger.Warn("Usage record moved to DLQ", "request_id", record.RequestID, "error", lastErr)
		}
	}
	return fmt.Errorf("%w: %w", queue.ErrMaxRetriesExceeded, lastErr)
}

func (w *UsageQueueWorker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// decodeUsageRecord accepts records as queued in memory or as JSON from Redis
func decodeUsageRecord(item interface{}) (*models.UsageRecord, error) {
	switch v := item.(type) {
	case *models.UsageRecord:
		return v, nil
	case models.UsageRecord:
		return &v, nil
	case []byte:
		var record models.UsageRecord
		return &record, json.Unmarshal(v, &record)
	case json.RawMessage:
		var record models.UsageRecord
		return &record, json.Unmarshal(v, &record)
	default:
		data, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal item: %w", err)
		}
		var record models.UsageRecord
		return &record, json.Unmarshal(data, &record)
	}
}

// GetQueueLength returns the current queue length
func (w *UsageQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *UsageQueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, errors.New("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem moves a dead-lettered record back onto the queue
func (w *UsageQueueWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return errors.New("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}
	for _, item := range items {
		if item.ID != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, item.Item); err != nil {
			return fmt.Errorf("failed to re-enqueue item: %w", err)
		}
		if err := w.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}
	return queue.ErrItemNotFound
}
