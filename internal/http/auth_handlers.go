package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/splax/clouddeploy/internal/validation"
)

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshPayload struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	var payload credentialsPayload
	if !decodeJSON(w, req, &payload) {
		return
	}
	user, err := r.auth.Register(req.Context(), payload.Email, payload.Password)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var payload credentialsPayload
	if !decodeJSON(w, req, &payload) {
		return
	}
	_, tokens, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (r *Router) handleRefresh(w http.ResponseWriter, req *http.Request) {
	var payload refreshPayload
	if !decodeJSON(w, req, &payload) {
		return
	}
	if err := validation.Struct(payload); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	tokens, err := r.auth.Refresh(req.Context(), payload.RefreshToken)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// handleLogout revokes the refresh token in the body, if any. The access
// token stays valid until it expires.
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	var payload refreshPayload
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.RefreshToken != "" {
		if err := r.auth.Logout(req.Context(), caller(req), payload.RefreshToken); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
	}
	writeMessage(w, http.StatusOK, "Successfully logged out")
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	info, _ := authInfoFromContext(req.Context())
	writeJSON(w, http.StatusOK, info.user)
}
