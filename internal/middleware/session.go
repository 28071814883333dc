package middleware

import (
	"net/http"
	"strings"

	"chat_gateway/internal/auth"
	"chat_gateway/internal/utils"
)

// Session cookie names. The secure variant is used behind HTTPS.
const (
	SessionCookieName       = "authjs.session-token"
	SecureSessionCookieName = "__Secure-authjs.session-token"
)

// SessionMiddleware rejects requests without a valid session and adds the
// caller's identity to the request context. The token is read from the
// session cookies first, then from an "Authorization: Bearer" header.
func SessionMiddleware(verifier auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r)
			if token == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			id, err := verifier.Verify(r.Context(), token)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// SessionToken extracts the raw session token from r, or ""
func SessionToken(r *http.Request) string {
	for _, name := range []string{SessionCookieName, SecureSessionCookieName} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}

	authHeader := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
