package handler

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

type userIDKey struct{}

// userID returns the authenticated user id stored by requireAuth.
func userID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// requireAuth authenticates the bearer token by its SHA-256 hash and puts
// the session's user id on the context. The stored hash is re-compared in
// constant time so a stale or wrong row from the lookup cannot pass.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Code: 401, Message: "unauthorized"})
			return
		}

		sum := sha256.Sum256([]byte(token))
		hash := hex.EncodeToString(sum[:])

		session, err := h.sessions.FindByTokenHash(r.Context(), hash)
		if err != nil || session.Expired(time.Now()) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Code: 401, Message: "unauthorized"})
			return
		}

		stored, err := hex.DecodeString(session.TokenHash)
		if err != nil || subtle.ConstantTimeCompare(sum[:], stored) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Code: 401, Message: "unauthorized"})
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey{}, session.UserID)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) || len(header) == len(prefix) {
		return "", false
	}
	return header[len(prefix):], true
}
