package models

import (
	"time"

	"github.com/google/uuid"
)

// Usage record statuses
const (
	UsageStatusSuccess = "success"
	UsageStatusFailed  = "failed"
)

// UsageRecord is the audit entry of one chat request
type UsageRecord struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	RequestID      uuid.UUID  `db:"request_id" json:"requestId"`
	UserID         uuid.UUID  `db:"user_id" json:"userId"`
	ConversationID *uuid.UUID `db:"conversation_id" json:"conversationId,omitempty"`
	RequestedModel string     `db:"requested_model" json:"requestedModel"`
	ServedModel    string     `db:"served_model" json:"servedModel"`
	Substituted    bool       `db:"substituted" json:"substituted"`
	Attempts       int        `db:"attempts" json:"attempts"`
	LatencyMS      int64      `db:"latency_ms" json:"latencyMs"`
	Status         string     `db:"status" json:"status"`
	ErrorMessage   string     `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
}
