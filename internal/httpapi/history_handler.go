package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"chat_gateway/internal/models"
	"chat_gateway/internal/storage"
	"chat_gateway/internal/utils"
)

// maxTitleRunes caps user supplied conversation titles
const maxTitleRunes = 200

// HistoryHandler serves a user's stored conversations
type HistoryHandler struct {
	conversations ConversationStore
	logger        *utils.Logger
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(conversations ConversationStore, logger *utils.Logger) *HistoryHandler {
	return &HistoryHandler{conversations: conversations, logger: logger}
}

// ConversationDetail is a conversation with all of its messages
type ConversationDetail struct {
	models.Conversation
	Messages []*models.Message `json:"messages"`
}

// RenameRequest represents the request to rename a conversation
type RenameRequest struct {
	Title string `json:"title"`
}

// List handles GET /history
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	conversations, err := h.conversations.ListByUser(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("Failed to list conversations", "user_id", identity.UserID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to fetch history")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, conversations)
}

// Get handles GET /history/{id}
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	conversation, err := h.conversations.GetForUser(r.Context(), id, identity.UserID)
	if err != nil {
		h.respondLookupError(w, "Failed to fetch conversation", err)
		return
	}

	messages, err := h.conversations.ListMessages(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list messages", "conversation_id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to fetch conversation")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, ConversationDetail{
		Conversation: *conversation,
		Messages:     messages,
	})
}

// Rename handles PATCH /history/{id}
func (h *HistoryHandler) Rename(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	var req RenameRequest
	if err := utils.DecodeJSON(w, r, &req, 0); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Title is required")
		return
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		utils.RespondWithError(w, http.StatusBadRequest, "Title is too long")
		return
	}

	conversation, err := h.conversations.UpdateTitle(r.Context(), id, identity.UserID, title)
	if err != nil {
		h.respondLookupError(w, "Failed to rename conversation", err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, conversation)
}

// Delete handles DELETE /history/{id}
func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	if err := h.conversations.Delete(r.Context(), id, identity.UserID); err != nil {
		h.respondLookupError(w, "Failed to delete conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HistoryHandler) respondLookupError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, storage.ErrConversationNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	h.logger.Error(msg, "error", err)
	utils.RespondWithError(w, http.StatusInternalServerError, msg)
}

// conversationID parses the {id} path value. Malformed ids cannot name an
// existing conversation and are answered with 404.
func conversationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusNotFound, "Conversation not found")
		return uuid.Nil, false
	}
	return id, true
}
