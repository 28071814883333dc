package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"chat_gateway/internal/auth"
	"chat_gateway/internal/catalog"
	"chat_gateway/internal/dispatcher"
	"chat_gateway/internal/logging"
	"chat_gateway/internal/middleware"
	"chat_gateway/internal/models"
	"chat_gateway/internal/providers"
	"chat_gateway/internal/ratelimit"
	"chat_gateway/internal/storage"
	"chat_gateway/internal/utils"
)

// ConversationStore persists conversations and their messages
type ConversationStore interface {
	Create(ctx context.Context, userID uuid.UUID, title string) (*models.Conversation, error)
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Conversation, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.ConversationSummary, error)
	UpdateTitle(ctx context.Context, id, userID uuid.UUID, title string) (*models.Conversation, error)
	Touch(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id, userID uuid.UUID) error
	AddMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error)
}

// ChatDispatcher answers a chat request, possibly with a substitute model
type ChatDispatcher interface {
	Chat(ctx context.Context, req dispatcher.Request) (*dispatcher.Result, error)
}

// UsageRecorder accepts usage records for asynchronous persistence
type UsageRecorder interface {
	Enqueue(ctx context.Context, record *models.UsageRecord) error
}

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Auth          *auth.Authenticator
	Sessions      *auth.SessionManager
	Conversations ConversationStore
	Dispatcher    ChatDispatcher
	Catalog       *catalog.Catalog

	// ModelLister serves GET /models. Nil makes the endpoint fail.
	ModelLister providers.ModelLister
	ModelsCache *storage.LRUCache[[]providers.RemoteModel]

	// Usage may be nil to skip usage accounting
	Usage UsageRecorder

	// ChatLimiter guards POST /chat. Nil disables rate limiting.
	ChatLimiter ratelimit.Limiter

	// AccessLog may be nil to disable access logging
	AccessLog *logging.AccessLogger

	// SecureCookies issues the __Secure- session cookie
	SecureCookies bool

	Logger *utils.Logger
}

// NewRouter registers every route on a new mux and wraps it with the
// request-scoped middleware.
func NewRouter(deps *Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = utils.NewLogger("httpapi")
	}
	if deps.ChatLimiter == nil {
		deps.ChatLimiter = ratelimit.NewNoopLimiter()
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps)

	return middleware.Chain(mux,
		middleware.Recover(deps.Logger),
		middleware.RequestID,
		middleware.AccessLog(deps.AccessLog),
	)
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	session := middleware.SessionMiddleware(deps.Sessions)
	chatLimit := middleware.RateLimitMiddleware(deps.ChatLimiter, deps.Logger)

	// Public
	mux.HandleFunc("GET /health", handleHealth)
	authHandler := NewAuthHandler(deps.Auth, deps.Sessions, deps.SecureCookies, deps.Logger)
	mux.HandleFunc("POST /auth/register", authHandler.Register)
	mux.HandleFunc("POST /auth/login", authHandler.Login)
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)

	catalogHandler := NewCatalogHandler(deps.Catalog, deps.ModelLister, deps.ModelsCache, deps.Logger)
	mux.HandleFunc("GET /catalog", catalogHandler.Catalog)

	// Session protected
	mux.Handle("GET /models", session(http.HandlerFunc(catalogHandler.Models)))

	chatHandler := NewChatHandler(deps.Conversations, deps.Dispatcher, deps.Usage, deps.Logger)
	mux.Handle("POST /chat", middleware.Chain(http.HandlerFunc(chatHandler.Chat), session, chatLimit))

	historyHandler := NewHistoryHandler(deps.Conversations, deps.Logger)
	mux.Handle("GET /history", session(http.HandlerFunc(historyHandler.List)))
	mux.Handle("GET /history/{id}", session(http.HandlerFunc(historyHandler.Get)))
	mux.Handle("PATCH /history/{id}", session(http.HandlerFunc(historyHandler.Rename)))
	mux.Handle("DELETE /history/{id}", session(http.HandlerFunc(historyHandler.Delete)))
}

// requireIdentity returns the caller's identity, answering 401 when the
// session middleware did not run
func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	id, ok := middleware.GetIdentity(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	return id, true
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "api",
	})
}
