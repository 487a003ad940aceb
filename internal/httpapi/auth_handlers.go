package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/alloybuild/orchestrator/internal/apierr"
	"github.com/alloybuild/orchestrator/internal/authsvc"
	"github.com/alloybuild/orchestrator/internal/model"
	"github.com/alloybuild/orchestrator/internal/store"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, apierr.Wrap(apierr.KindValidation, err, "malformed request body"))
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, apierr.New(apierr.KindValidation, "email and password are required"))
		return
	}

	hash, err := authsvc.HashPassword(req.Password)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindAuthError, err, "failed to hash password"))
		return
	}

	user := model.User{ID: uuid.NewString(), Email: req.Email, PasswordHash: hash, CreatedAt: time.Now()}
	if err := h.deps.Store.InsertUser(user); err != nil {
		writeError(w, apierr.Wrap(apierr.KindValidation, err, "email already registered"))
		return
	}

	token, err := h.deps.Issuer.Issue(user.ID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindAuthError, err, "failed to issue token"))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": token, "user_id": user.ID})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, apierr.Wrap(apierr.KindValidation, err, "malformed request body"))
		return
	}

	user, err := h.deps.Store.GetUserByEmail(req.Email)
	if err != nil {
		writeError(w, apierr.New(apierr.KindUnauthorized, "invalid email or password"))
		return
	}
	if !authsvc.VerifyPassword(req.Password, user.PasswordHash) {
		writeError(w, apierr.New(apierr.KindUnauthorized, "invalid email or password"))
		return
	}

	token, err := h.deps.Issuer.Issue(user.ID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindAuthError, err, "failed to issue token"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	user, err := h.deps.Store.GetUser(userID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindNotFound, err, "user not found"))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

func (h *handlers) createAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	var req createAPIKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, apierr.Wrap(apierr.KindValidation, err, "malformed request body"))
		return
	}

	raw, err := authsvc.GenerateAPIKey()
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindAuthError, err, "failed to generate api key"))
		return
	}

	key := model.ApiKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      req.Name,
		KeyHash:   authsvc.HashAPIKey(h.deps.APIKeySecret, raw),
		CreatedAt: time.Now(),
	}
	if err := h.deps.Store.InsertAPIKey(key); err != nil {
		writeError(w, apierr.Wrap(apierr.KindDatabaseError, err, "failed to create api key"))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":  key.ID,
		"key": raw,
	})
}

func (h *handlers) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	keys, err := h.deps.Store.ListAPIKeys(userID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindDatabaseError, err, "failed to list api keys"))
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *handlers) deleteAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	keyID := mux.Vars(r)["id"]
	if err := h.deps.Store.DeleteAPIKey(keyID, userID); err != nil {
		status := apierr.KindDatabaseError
		if err == store.ErrNotFound {
			status = apierr.KindNotFound
		}
		writeError(w, apierr.Wrap(status, err, "failed to delete api key"))
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
