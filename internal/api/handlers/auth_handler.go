package handlers

import (
	"net/http"

	"github.com/pbn-studio/engine/internal/api/middleware"
	"github.com/pbn-studio/engine/internal/api/types"
	"github.com/pbn-studio/engine/internal/services"
)

type AuthHandler struct {
	auth      services.AuthService
	expiresIn int64
}

// NewAuthHandler reports expiresIn seconds as the token lifetime on login.
func NewAuthHandler(auth services.AuthService, expiresIn int64) *AuthHandler {
	return &AuthHandler{auth: auth, expiresIn: expiresIn}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if err := decode(r, &req, "Username and password are required"); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{
		"message":  "User registered",
		"id":       u.ID,
		"username": u.Username,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if err := decode(r, &req, "Username and password are required"); err != nil {
		writeError(w, r, err)
		return
	}
	token, u, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, types.LoginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: h.expiresIn,
		User:      map[string]any{"id": u.ID, "username": u.Username},
	})
}

func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req types.UpdatePasswordRequest
	if err := decode(r, &req, "Current and new passwords are required"); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.auth.UpdatePassword(r.Context(), middleware.GetUserID(r.Context()), req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, types.MessageResponse{Message: "Password updated"})
}

func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.DeleteAccount(r.Context(), middleware.GetUserID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, types.MessageResponse{Message: "User deleted"})
}
