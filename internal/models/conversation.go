package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"chat_gateway/internal/providers"
)

const (
	// DefaultConversationTitle is used when the first message has no text
	DefaultConversationTitle = "New Chat"

	// MaxTitleLength caps generated titles, in characters
	MaxTitleLength = 50
)

// Conversation is a chat thread owned by one user
type Conversation struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"userId"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// OwnedBy reports whether userID owns the conversation
func (c *Conversation) OwnedBy(userID uuid.UUID) bool {
	return c.UserID == userID
}

// ConversationSummary is a conversation with a preview of its first message
type ConversationSummary struct {
	Conversation
	FirstMessage *string `db:"first_message" json:"firstMessage,omitempty"`
}

// Message is a persisted chat message. Model is set on assistant messages
// to the model that actually produced them.
type Message struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	ConversationID uuid.UUID      `db:"conversation_id" json:"conversationId"`
	Role           providers.Role `db:"role" json:"role"`
	Content        string         `db:"content" json:"content"`
	Parts          ContentParts   `db:"parts" json:"parts,omitempty"`
	Model          *string        `db:"model" json:"model,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
}

// NewMessageFromChat converts a chat message for persistence. Multi-part
// content keeps its parts and stores the joined text as Content.
func NewMessageFromChat(conversationID uuid.UUID, m providers.ChatMessage) *Message {
	msg := &Message{
		ConversationID: conversationID,
		Role:           m.Role,
		Content:        m.Text(),
	}
	if m.IsMultipart() {
		msg.Parts = ContentParts(m.Parts)
	}
	return msg
}

// ChatMessage converts a stored message back to its chat form
func (m *Message) ChatMessage() providers.ChatMessage {
	if len(m.Parts) > 0 {
		return providers.ChatMessage{Role: m.Role, Parts: []providers.ContentPart(m.Parts)}
	}
	return providers.ChatMessage{Role: m.Role, Content: m.Content}
}

// TitleFromMessage derives a conversation title from the opening message:
// its text truncated to MaxTitleLength characters, or the default title.
func TitleFromMessage(m providers.ChatMessage) string {
	text := strings.TrimSpace(m.Text())
	if text == "" {
		return DefaultConversationTitle
	}
	if utf8.RuneCountInString(text) <= MaxTitleLength {
		return text
	}
	return string([]rune(text)[:MaxTitleLength])
}
