package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"chat_gateway/internal/auth"
	"chat_gateway/internal/middleware"
	"chat_gateway/internal/models"
	"chat_gateway/internal/utils"
)

// AuthHandler handles account registration and session login
type AuthHandler struct {
	auth     *auth.Authenticator
	sessions *auth.SessionManager
	secure   bool
	logger   *utils.Logger
}

// NewAuthHandler creates a new auth handler. With secure set the session
// cookie is issued under its __Secure- name with the Secure flag.
func NewAuthHandler(authenticator *auth.Authenticator, sessions *auth.SessionManager, secure bool, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{
		auth:     authenticator,
		sessions: sessions,
		secure:   secure,
		logger:   logger,
	}
}

// RegisterRequest represents the request to create an account
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse is the public view of a user
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expiresAt"`
	User      UserResponse `json:"user"`
}

func toUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:        u.ID.String(),
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := utils.DecodeJSON(w, r, &req, 0); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	user, err := h.auth.Register(r.Context(), req.Email, req.Password, req.Name)
	switch {
	case errors.Is(err, auth.ErrValidation):
		// "validation failed: password must be ..." -> "password must be ..."
		msg := strings.TrimPrefix(err.Error(), auth.ErrValidation.Error()+": ")
		utils.RespondWithError(w, http.StatusBadRequest, msg)
		return
	case errors.Is(err, auth.ErrEmailTaken):
		utils.RespondWithError(w, http.StatusConflict, "Email already registered")
		return
	case err != nil:
		h.logger.Error("Registration failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to register")
		return
	}

	h.logger.Info("User registered", "user_id", user.ID)
	utils.RespondWithJSON(w, http.StatusCreated, map[string]UserResponse{"user": toUserResponse(user)})
}

// Login handles POST /auth/login. The session token is returned in the body
// and set as the session cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := utils.DecodeJSON(w, r, &req, 0); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Email == "" || req.Password == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		utils.RespondWithError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		h.logger.Error("Login failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to log in")
		return
	}

	token, expiresAt, err := h.sessions.Issue(auth.IdentityOf(user))
	if err != nil {
		h.logger.Error("Failed to issue session", "user_id", user.ID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to log in")
		return
	}

	http.SetCookie(w, h.sessionCookie(token, expiresAt))
	utils.RespondWithJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		User:      toUserResponse(user),
	})
}

// Logout handles POST /auth/logout by expiring the session cookie.
// Tokens are stateless and stay valid until they expire.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	c := h.sessionCookie("", time.Unix(0, 0))
	c.MaxAge = -1
	http.SetCookie(w, c)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) sessionCookie(token string, expiresAt time.Time) *http.Cookie {
	name := middleware.SessionCookieName
	if h.secure {
		name = middleware.SecureSessionCookieName
	}
	return &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
