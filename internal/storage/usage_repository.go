package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat_gateway/internal/models"
)

const insertUsageRecord = `
	INSERT INTO usage_records (
		id, request_id, user_id, conversation_id, requested_model, served_model,
		substituted, attempts, latency_ms, status, error_message, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// UsageRepository stores per-request usage records
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Create inserts a single usage record
func (r *UsageRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	return insertUsage(ctx, r.db.conn, r.db.rebind(insertUsageRecord), record)
}

// CreateBatch inserts records in one transaction; either all are stored or none
func (r *UsageRepository) CreateBatch(ctx context.Context, records []*models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	query := r.db.rebind(insertUsageRecord)
	return r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, record := range records {
			if err := insertUsage(ctx, tx, query, record); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListByUser returns the user's most recent usage records, newest first.
// A non-positive limit returns every record.
func (r *UsageRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.UsageRecord, error) {
	query := `
		SELECT id, request_id, user_id, conversation_id, requested_model, served_model,
			substituted, attempts, latency_ms, status, error_message, created_at
		FROM usage_records
		WHERE user_id = ?
		ORDER BY created_at DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	records := []*models.UsageRecord{}
	if err := r.db.conn.SelectContext(ctx, &records, r.db.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return records, nil
}

func insertUsage(ctx context.Context, exec sqlx.ExecerContext, query string, record *models.UsageRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now()
	}

	_, err := exec.ExecContext(ctx, query,
		record.ID, record.RequestID, record.UserID, record.ConversationID,
		record.RequestedModel, record.ServedModel, record.Substituted, record.Attempts,
		record.LatencyMS, record.Status, record.ErrorMessage, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}
