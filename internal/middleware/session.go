package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/repository"
	"github.com/chatline/internal/storage"
)

// HashToken is the canonical session token digest; the raw token is only ever
// held by the client.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SessionAuth authenticates requests by session id + bearer token, sent as
// X-Session-Id / X-Session-Token headers (query params for the WebSocket
// handshake, where custom headers are unavailable). The token hash is checked
// against the store cache first and the sessions table on a miss.
func SessionAuth(sessionRepo *repository.SessionRepository, store storage.AuthStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := r.Header.Get("X-Session-Id")
			if sessionID == "" {
				sessionID = r.URL.Query().Get("session_id")
			}
			token := r.Header.Get("X-Session-Token")
			if token == "" {
				token = r.URL.Query().Get("session_token")
			}
			if sessionID == "" || token == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			tokenHash := HashToken(token)
			cached, err := store.GetSessionToken(r.Context(), sessionID)
			if err != nil {
				logger.Errorf("session middleware store session_id=%s: %v", MaskSessionID(sessionID), err)
			}
			if cached != "" && subtle.ConstantTimeCompare([]byte(cached), []byte(tokenHash)) != 1 {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			session, err := sessionRepo.GetByID(r.Context(), sessionID)
			if err != nil || session.RevokedAt != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(session.TokenHash), []byte(tokenHash)) != 1 {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if cached == "" {
				if err := store.SetSessionToken(r.Context(), sessionID, session.TokenHash); err != nil {
					logger.Errorf("session middleware cache session_id=%s: %v", MaskSessionID(sessionID), err)
				}
			}
			if err := sessionRepo.Touch(r.Context(), sessionID); err != nil {
				logger.Errorf("session middleware touch session_id=%s: %v", MaskSessionID(sessionID), err)
			}

			ctx := context.WithValue(r.Context(), UserIDKey, session.UserID)
			ctx = context.WithValue(ctx, SessionIDKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
