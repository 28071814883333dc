package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"chat_gateway/internal/auth"
	"chat_gateway/internal/dispatcher"
	"chat_gateway/internal/middleware"
	"chat_gateway/internal/models"
	"chat_gateway/internal/providers"
	"chat_gateway/internal/storage"
	"chat_gateway/internal/utils"
)

// maxChatBodyBytes leaves room for inline data URI images
const maxChatBodyBytes = 20 << 20

// ChatHandler handles POST /chat
type ChatHandler struct {
	conversations ConversationStore
	dispatcher    ChatDispatcher
	usage         UsageRecorder
	logger        *utils.Logger
}

// NewChatHandler creates a new chat handler. usage may be nil.
func NewChatHandler(conversations ConversationStore, d ChatDispatcher, usage UsageRecorder, logger *utils.Logger) *ChatHandler {
	return &ChatHandler{
		conversations: conversations,
		dispatcher:    d,
		usage:         usage,
		logger:        logger,
	}
}

// ChatRequest is the body of POST /chat
type ChatRequest struct {
	Messages       []providers.ChatMessage `json:"messages"`
	Model          string                  `json:"model"`
	ConversationID string                  `json:"conversationId,omitempty"`
	// AllowFallback defaults to true when omitted
	AllowFallback *bool `json:"allowFallback,omitempty"`
}

// ChatResponse is the answer to POST /chat
type ChatResponse struct {
	ConversationID string                `json:"conversationId"`
	Message        providers.ChatMessage `json:"message"`
	Model          string                `json:"model"`
	Substituted    bool                  `json:"substituted"`
}

// Chat handles POST /chat.
//
// Flow:
//  1. Validate the body
//  2. Load the conversation (ownership checked) or create one
//  3. Persist the incoming user message
//  4. Dispatch with model fallback
//  5. Persist the answer and record usage
//  6. Return the answer
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	// 1. Validate
	var req ChatRequest
	if err := utils.DecodeJSON(w, r, &req, maxChatBodyBytes); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(req.Messages) == 0 || req.Model == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing messages or model")
		return
	}
	for _, m := range req.Messages {
		if err := m.Validate(); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid message: "+err.Error())
			return
		}
	}

	// 2. Conversation
	conversation, status, err := h.resolveConversation(ctx, identity, req)
	if err != nil {
		if status == http.StatusNotFound {
			utils.RespondWithError(w, status, "Conversation not found")
			return
		}
		h.fail(w, "Failed to resolve conversation", err)
		return
	}

	// 3. Incoming message
	last := req.Messages[len(req.Messages)-1]
	if last.Role == providers.RoleUser {
		if err := h.conversations.AddMessage(ctx, models.NewMessageFromChat(conversation.ID, last)); err != nil {
			h.fail(w, "Failed to save user message", err)
			return
		}
	}

	// 4. Dispatch
	dreq := dispatcher.Request{Messages: req.Messages, Model: req.Model}
	if req.AllowFallback != nil {
		dreq.NoFallback = !*req.AllowFallback
	}

	result, err := h.dispatcher.Chat(ctx, dreq)
	if err != nil {
		h.logDispatchError(identity, req.Model, err)
		h.recordUsage(ctx, failedUsage(r, identity, conversation.ID, req.Model, err, time.Since(start)))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to process chat")
		return
	}

	// 5. Persist answer
	answer := models.NewMessageFromChat(conversation.ID, result.Message)
	answer.Model = utils.Ptr(result.ServedModel)
	if err := h.conversations.AddMessage(ctx, answer); err != nil {
		h.fail(w, "Failed to save assistant message", err)
		return
	}
	if err := h.conversations.Touch(ctx, conversation.ID); err != nil {
		h.logger.Warn("Failed to touch conversation", "conversation_id", conversation.ID, "error", err)
	}
	h.recordUsage(ctx, successUsage(r, identity, conversation.ID, result, time.Since(start)))

	// 6. Respond
	utils.RespondWithJSON(w, http.StatusOK, ChatResponse{
		ConversationID: conversation.ID.String(),
		Message:        result.Message,
		Model:          result.ServedModel,
		Substituted:    result.Substituted,
	})
}

// resolveConversation returns the conversation named by req, or a new one
// titled after the first message. The status is 404 when the named
// conversation does not exist or belongs to someone else.
func (h *ChatHandler) resolveConversation(ctx context.Context, identity *auth.Identity, req ChatRequest) (*models.Conversation, int, error) {
	if req.ConversationID == "" {
		conversation, err := h.conversations.Create(ctx, identity.UserID, models.TitleFromMessage(req.Messages[0]))
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		return conversation, http.StatusOK, nil
	}

	id, err := uuid.Parse(req.ConversationID)
	if err != nil {
		return nil, http.StatusNotFound, storage.ErrConversationNotFound
	}
	conversation, err := h.conversations.GetForUser(ctx, id, identity.UserID)
	if errors.Is(err, storage.ErrConversationNotFound) {
		return nil, http.StatusNotFound, err
	}
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return conversation, http.StatusOK, nil
}

func (h *ChatHandler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, "error", err)
	utils.RespondWithError(w, http.StatusInternalServerError, "Failed to process chat")
}

func (h *ChatHandler) logDispatchError(identity *auth.Identity, model string, err error) {
	var exhausted *dispatcher.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		h.logger.Error("All models failed", "user_id", identity.UserID, "requested", model,
			"attempted", exhausted.Models(), "error", exhausted.Last)
	case errors.Is(err, dispatcher.ErrAuthRejected), errors.Is(err, dispatcher.ErrMissingCredentials):
		h.logger.Error("Upstream credentials problem", "requested", model, "error", err)
	case errors.Is(err, context.Canceled):
		h.logger.Info("Chat cancelled by client", "user_id", identity.UserID, "requested", model)
	default:
		h.logger.Error("Chat failed", "user_id", identity.UserID, "requested", model, "error", err)
	}
}

func (h *ChatHandler) recordUsage(ctx context.Context, record *models.UsageRecord) {
	if h.usage == nil {
		return
	}
	// the usage write must outlive a client that already hung up
	if err := h.usage.Enqueue(context.WithoutCancel(ctx), record); err != nil {
		h.logger.Warn("Failed to enqueue usage record", "request_id", record.RequestID, "error", err)
	}
}

func requestUUID(r *http.Request) uuid.UUID {
	if id, err := uuid.Parse(middleware.GetRequestID(r.Context())); err == nil {
		return id
	}
	return uuid.New()
}

func successUsage(r *http.Request, identity *auth.Identity, conversationID uuid.UUID, result *dispatcher.Result, elapsed time.Duration) *models.UsageRecord {
	return &models.UsageRecord{
		RequestID:      requestUUID(r),
		UserID:         identity.UserID,
		ConversationID: &conversationID,
		RequestedModel: result.RequestedModel,
		ServedModel:    result.ServedModel,
		Substituted:    result.Substituted,
		Attempts:       len(result.Attempts),
		LatencyMS:      elapsed.Milliseconds(),
		Status:         models.UsageStatusSuccess,
	}
}

func failedUsage(r *http.Request, identity *auth.Identity, conversationID uuid.UUID, model string, err error, elapsed time.Duration) *models.UsageRecord {
	attempts := 1
	var exhausted *dispatcher.ExhaustedError
	if errors.As(err, &exhausted) {
		attempts = len(exhausted.Attempts)
	}
	return &models.UsageRecord{
		RequestID:      requestUUID(r),
		UserID:         identity.UserID,
		ConversationID: &conversationID,
		RequestedModel: model,
		Attempts:       attempts,
		LatencyMS:      elapsed.Milliseconds(),
		Status:         models.UsageStatusFailed,
		ErrorMessage:   err.Error(),
	}
}
