package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat_gateway/internal/models"
)

// ConversationRepository handles conversations and their messages
type ConversationRepository struct {
	db *DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create starts a new conversation for userID
func (r *ConversationRepository) Create(ctx context.Context, userID uuid.UUID, title string) (*models.Conversation, error) {
	if title == "" {
		title = models.DefaultConversationTitle
	}
	ts := now()
	conv := &models.Conversation{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	query := r.db.rebind(`
		INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if _, err := r.db.conn.ExecContext(ctx, query, conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetByID retrieves a conversation regardless of owner
func (r *ConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	query := r.db.rebind(`
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`)

	var conv models.Conversation
	if err := r.db.conn.GetContext(ctx, &conv, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// GetForUser retrieves a conversation owned by userID.
// Someone else's conversation is reported as not found.
func (r *ConversationRepository) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Conversation, error) {
	conv, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.OwnedBy(userID) {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// ListByUser returns the user's conversations, most recently active first,
// each with the content of its first message.
func (r *ConversationRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.ConversationSummary, error) {
	query := r.db.rebind(`
		SELECT c.id, c.user_id, c.title, c.created_at, c.updated_at,
			(SELECT m.content FROM messages m
			 WHERE m.conversation_id = c.id
			 ORDER BY m.created_at ASC
			 LIMIT 1) AS first_message
		FROM conversations c
		WHERE c.user_id = ?
		ORDER BY c.updated_at DESC
	`)

	summaries := []*models.ConversationSummary{}
	if err := r.db.conn.SelectContext(ctx, &summaries, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return summaries, nil
}

// UpdateTitle renames a conversation owned by userID
func (r *ConversationRepository) UpdateTitle(ctx context.Context, id, userID uuid.UUID, title string) (*models.Conversation, error) {
	query := r.db.rebind(`
		UPDATE conversations
		SET title = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`)

	result, err := r.db.conn.ExecContext(ctx, query, title, now(), id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// Touch bumps the conversation's activity time
func (r *ConversationRepository) Touch(ctx context.Context, id uuid.UUID) error {
	query := r.db.rebind(`UPDATE conversations SET updated_at = ? WHERE id = ?`)

	result, err := r.db.conn.ExecContext(ctx, query, now(), id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return expectOneRow(result)
}

// Delete removes a conversation owned by userID together with its messages
func (r *ConversationRepository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	return r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var owner uuid.UUID
		err := tx.GetContext(ctx, &owner, r.db.rebind(`SELECT user_id FROM conversations WHERE id = ?`), id)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != userID) {
			return ErrConversationNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load conversation: %w", err)
		}

		if _, err := tx.ExecContext(ctx, r.db.rebind(`DELETE FROM messages WHERE conversation_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, r.db.rebind(`DELETE FROM conversations WHERE id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		return nil
	})
}

// AddMessage appends a message to its conversation and bumps the
// conversation's activity time in the same transaction.
func (r *ConversationRepository) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.CreatedAt = now()

	return r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx,
			r.db.rebind(`UPDATE conversations SET updated_at = ? WHERE id = ?`),
			msg.CreatedAt, msg.ConversationID)
		if err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		if err := expectOneRow(result); err != nil {
			return err
		}

		query := r.db.rebind(`
			INSERT INTO messages (id, conversation_id, role, content, parts, model, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if _, err := tx.ExecContext(ctx, query,
			msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.Parts, msg.Model, msg.CreatedAt); err != nil {
			return fmt.Errorf("failed to add message: %w", err)
		}
		return nil
	})
}

// ListMessages returns a conversation's messages oldest first
func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error) {
	query := r.db.rebind(`
		SELECT id, conversation_id, role, content, parts, model, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC
	`)

	messages := []*models.Message{}
	if err := r.db.conn.SelectContext(ctx, &messages, query, conversationID); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

func expectOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrConversationNotFound
	}
	return nil
}
