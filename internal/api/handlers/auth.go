// auth.go — регистрация, выпуск и проверка токенов, JWKS.
package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/miguelitojb9/InstaShare/internal/api/errors"
	"github.com/miguelitojb9/InstaShare/internal/service"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

type accessResponse struct {
	Access string `json:"access"`
}

// RegisterUser — POST /api/auth/register.
func (h *APIHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.auth.Register(r.Context(), service.RegisterParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{ID: u.ID, Username: u.Username, Email: u.Email})
}

// ObtainToken — POST /api/auth/token: пара access/refresh по логину и паролю.
func (h *APIHandler) ObtainToken(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		apierrors.ValidationError(w, "username и password обязательны")
		return
	}
	pair, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// RefreshToken — POST /api/auth/token/refresh.
func (h *APIHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Refresh == "" {
		apierrors.ValidationError(w, "refresh: обязательное поле")
		return
	}
	access, err := h.auth.Refresh(r.Context(), req.Refresh)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{Access: access})
}

// VerifyToken — POST /api/auth/token/verify (и /api/auth/verify). Валидный токен — 200 {}.
func (h *APIHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		apierrors.ValidationError(w, "token: обязательное поле")
		return
	}
	if err := h.auth.Verify(r.Context(), req.Token); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// JWKS — GET /api/auth/jwks.json: публичные ключи подписи.
func (h *APIHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	data, err := h.keys.JWKS(r.Context())
	if err != nil {
		h.logger.Error("Ошибка формирования JWKS", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка формирования JWKS")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
