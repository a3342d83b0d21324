package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/alexedwards/argon2id"

	"github.com/chuveirolab/shower-bookings/internal/domain"
	"github.com/chuveirolab/shower-bookings/pkg/auth"
	"github.com/chuveirolab/shower-bookings/pkg/logger"
)

// Register handles user registration
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", "INVALID_INPUT")
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_INPUT")
		return
	}

	existing, err := h.users.FindByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check existing user", "INTERNAL_ERROR")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, domain.ErrUsernameTaken.Error(), "USERNAME_TAKEN")
		return
	}

	passwordHash, err := argon2id.CreateHash(req.Password, argon2id.DefaultParams)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password", "INTERNAL_ERROR")
		return
	}

	user, err := h.users.Create(r.Context(), &req, passwordHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create user", "INTERNAL_ERROR")
		return
	}

	// Don't fail registration if the welcome email does.
	if err := h.mailer.SendWelcomeEmail(user.Email, user.Username); err != nil {
		logger.ErrorContext(r.Context(), "Failed to send welcome email", "error", err, "username", user.Username)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Registration successful. You can log in now.",
		"user":    user.ToUserInfo(),
	})
}

// Login authenticates a user and opens a session
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	key := "login:" + getClientIP(r)
	allowed, err := h.rateLimit.CheckRateLimit(r.Context(), key, 10, time.Minute)
	if err != nil {
		logger.ErrorContext(r.Context(), "Rate limit check failed", "error", err)
		// Allow request on error (fail open)
	} else if !allowed {
		writeError(w, http.StatusTooManyRequests, "Too many login attempts. Please try again later.", "RATE_LIMIT_EXCEEDED")
		return
	}

	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", "INVALID_INPUT")
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_INPUT")
		return
	}

	user, err := h.users.FindByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to find user", "INTERNAL_ERROR")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, domain.ErrInvalidCredentials.Error(), "LOGIN_FAILED")
		return
	}

	valid, err := argon2id.ComparePasswordAndHash(req.Password, user.PasswordHash)
	if err != nil || !valid {
		writeError(w, http.StatusUnauthorized, domain.ErrInvalidCredentials.Error(), "LOGIN_FAILED")
		return
	}

	token, err := auth.NewSessionToken(user.ID, user.Username, h.config.Auth.JWTSecret, h.config.Auth.SessionTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session", "INTERNAL_ERROR")
		return
	}

	h.setSessionCookie(w, token, h.config.Auth.SessionTTL)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": user.ToUserInfo(),
	})
}

// Logout revokes the current session
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if token := h.sessionToken(r); token != "" {
		if claims, err := auth.Parse(token, h.config.Auth.JWTSecret); err == nil {
			ttl := time.Until(claims.ExpiresAt.Time)
			if err := h.sessions.Revoke(r.Context(), claims.ID, ttl); err != nil {
				logger.ErrorContext(r.Context(), "Failed to revoke session", "error", err)
			}
		}
	}

	h.clearSessionCookie(w)

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out",
	})
}

// Me returns the authenticated user, or an unauthenticated indicator
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.sessionUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"user":  nil,
			"error": "Not authenticated",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": user.ToUserInfo(),
	})
}

// UpdateAlerts toggles email alerts for the authenticated user
func (h *Handlers) UpdateAlerts(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "Field 'enabled' is required", "INVALID_INPUT")
		return
	}

	if err := h.users.SetEmailAlerts(r.Context(), user.ID, *req.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update alert settings", "INTERNAL_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Alert settings updated",
		"email_alerts": *req.Enabled,
	})
}
