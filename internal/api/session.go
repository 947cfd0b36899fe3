package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	SessionCookieName = "rul_session"
	sessionMaxAge     = 30 * 24 * time.Hour
)

type sessionKey struct{}

// SessionMiddleware makes sure every request carries a session id, issuing a
// new cookie when the request has none or an invalid one.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sessionId uuid.UUID

		if cookie, err := r.Cookie(SessionCookieName); err == nil {
			if id, err := uuid.Parse(cookie.Value); err == nil {
				sessionId = id
			}
		}

		if sessionId == uuid.Nil {
			sessionId = uuid.New()
			slog.Debug("issuing new session", "session_id", sessionId)
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookieName,
				Value:    sessionId.String(),
				Path:     "/",
				MaxAge:   int(sessionMaxAge.Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sessionId)))
	})
}

func SessionId(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(sessionKey{}).(uuid.UUID)
	return id
}
