package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chuveirolab/shower-bookings/internal/domain"
	"github.com/chuveirolab/shower-bookings/internal/notify"
	"github.com/chuveirolab/shower-bookings/internal/repo/postgres"
	"github.com/chuveirolab/shower-bookings/internal/repo/redisrepo"
	"github.com/chuveirolab/shower-bookings/internal/reservation"
	"github.com/chuveirolab/shower-bookings/pkg/auth"
	"github.com/chuveirolab/shower-bookings/pkg/config"
	"github.com/chuveirolab/shower-bookings/pkg/logger"
)

type Handlers struct {
	users        postgres.UserRepository
	sessions     redisrepo.SessionRepository
	rateLimit    redisrepo.RateLimitRepository
	reservations reservation.Service
	mailer       notify.Mailer
	config       *config.Config
}

func New(
	users postgres.UserRepository,
	sessions redisrepo.SessionRepository,
	rateLimit redisrepo.RateLimitRepository,
	reservations reservation.Service,
	mailer notify.Mailer,
	config *config.Config,
) *Handlers {
	return &Handlers{
		users:        users,
		sessions:     sessions,
		rateLimit:    rateLimit,
		reservations: reservations,
		mailer:       mailer,
		config:       config,
	}
}

type contextKey string

const userContextKey contextKey = "user"

// RequireSession authenticates the request from the session cookie (or a
// Bearer header), rejects revoked tokens, and loads the user into the
// request context.
func (h *Handlers) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.sessionUser(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Not authenticated", "UNAUTHORIZED")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		ctx = context.WithValue(ctx, logger.UsernameKey, user.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionUser resolves the request's session token to a live user.
func (h *Handlers) sessionUser(r *http.Request) (*domain.User, error) {
	token := h.sessionToken(r)
	if token == "" {
		return nil, domain.ErrUnauthenticated
	}

	claims, err := auth.Parse(token, h.config.Auth.JWTSecret)
	if err != nil {
		return nil, domain.ErrUnauthenticated
	}

	revoked, err := h.sessions.IsRevoked(r.Context(), claims.ID)
	if err != nil {
		logger.ErrorContext(r.Context(), "Session revocation check failed", "error", err)
		// Fail open: an unavailable denylist must not lock everyone out.
	} else if revoked {
		return nil, domain.ErrUnauthenticated
	}

	user, err := h.users.FindByID(r.Context(), claims.Sub)
	if err != nil || user == nil {
		return nil, domain.ErrUnauthenticated
	}

	return user, nil
}

func (h *Handlers) sessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(h.config.Auth.CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.Auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.Auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Helper functions

func currentUser(r *http.Request) *domain.User {
	if user, ok := r.Context().Value(userContextKey).(*domain.User); ok {
		return user
	}
	return nil
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message, code string) {
	response := map[string]string{
		"error": message,
		"code":  code,
	}
	writeJSON(w, statusCode, response)
}

func parseLimit(r *http.Request) int {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	return limit
}
