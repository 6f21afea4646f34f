package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pbn-studio/engine/internal/api/types"
)

type userKeyType string

const UserIDKey userKeyType = "user_id"

// TokenVerifier returns the user id a token was issued to.
type TokenVerifier func(token string) (uuid.UUID, error)

// Auth validates a Bearer token with verify and adds the user id to the context.
func Auth(verify TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ah := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
				unauthorized(w, "missing bearer token")
				return
			}
			uid, err := verify(strings.TrimSpace(ah[len("Bearer "):]))
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, uid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID returns the authenticated user, or uuid.Nil outside Auth.
func GetUserID(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(UserIDKey).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, &types.APIError{Code: "unauthorized", Message: msg})
}

func writeError(w http.ResponseWriter, status int, e *types.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.APIResponse{Success: false, Error: e})
}
