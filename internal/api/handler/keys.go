package handler

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/deepdrill-ai/deepdrill/internal/api/middleware"
	"github.com/deepdrill-ai/deepdrill/internal/api/response"
	"github.com/deepdrill-ai/deepdrill/internal/store"
	"github.com/deepdrill-ai/deepdrill/pkg/models"
)

const (
	sessionKeyPrefix = "dd_"
	sessionKeyBytes  = 24
)

// NewCreateSessionKeyHandler returns the handler for POST /api/v1/admin/keys.
// It issues a session key for an existing user, or creates the user first
// when no user_id is given. The raw key appears in the response once and is
// never recoverable afterwards.
func NewCreateSessionKeyHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID  *uuid.UUID `json:"user_id"`
			Subject string     `json:"subject"`
			Email   string     `json:"email"`
			Plan    string     `json:"plan"`
			Admin   bool       `json:"admin"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		userID, err := resolveKeyOwner(r, s, req.UserID, req.Subject, req.Email, req.Plan, req.Admin)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "User not found", nil)
				return
			}
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE",
					"A user with that subject or email already exists", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to create user", nil)
			return
		}

		rawKey, err := generateSessionKey()
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to generate session key", nil)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to hash session key", nil)
			return
		}

		now := time.Now().UTC()
		key := &models.SessionKey{
			ID:        uuid.New(),
			UserID:    userID,
			KeyHash:   string(hash),
			KeyPrefix: rawKey[:8],
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.CreateSessionKey(r.Context(), key); err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to store session key", nil)
			return
		}

		response.Created(w, map[string]any{
			"id":         key.ID,
			"user_id":    key.UserID,
			"key":        rawKey,
			"key_prefix": key.KeyPrefix,
		})
	}
}

// NewListSessionKeysHandler returns the handler for GET /api/v1/admin/keys.
// An optional user_id query parameter lists another user's keys; the default
// is the caller's own.
func NewListSessionKeysHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUser(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		userID := user.ID
		if raw := r.URL.Query().Get("user_id"); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user id", nil)
				return
			}
			userID = parsed
		}

		keys, err := s.ListSessionKeys(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to list session keys", nil)
			return
		}
		response.JSON(w, keys)
	}
}

// NewRevokeSessionKeyHandler returns the handler for
// DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeSessionKeyHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid key id", nil)
			return
		}

		if err := s.RevokeSessionKey(r.Context(), keyID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Session key not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to revoke session key", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// resolveKeyOwner returns the user the new key belongs to, creating the user
// when the request carries identity fields instead of a user_id.
func resolveKeyOwner(r *http.Request, s store.Store, userID *uuid.UUID,
	subject, email, plan string, admin bool) (uuid.UUID, error) {
	if userID != nil {
		if _, err := s.GetUser(r.Context(), *userID); err != nil {
			return uuid.Nil, err
		}
		return *userID, nil
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:        uuid.New(),
		Subject:   subject,
		Email:     email,
		Admin:     admin,
		PlanName:  models.PlanByName(plan).Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateUser(r.Context(), user); err != nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}

func generateSessionKey() (string, error) {
	buf := make([]byte, sessionKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session key: %w", err)
	}
	return sessionKeyPrefix + hex.EncodeToString(buf), nil
}
