package handlers

import (
	"log/slog"
	"net/http"

	"github.com/pliu/letschat/internal/apperr"
	"github.com/pliu/letschat/internal/auth"
	"github.com/pliu/letschat/internal/middleware"
	"github.com/pliu/letschat/internal/response"
	"github.com/pliu/letschat/internal/service"
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthHandler struct {
	Users         *service.UserService
	SecureCookies bool
	Log           *slog.Logger
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, h.Log, err)
		return
	}

	user, err := h.Users.Register(r.Context(), req)
	if err != nil {
		response.Error(w, h.Log, err)
		return
	}
	response.JSON(w, http.StatusCreated, user)
}

// Login answers with the token and also sets it as a cookie so browsers and
// websocket upgrades authenticate without a header.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		response.Error(w, h.Log, err)
		return
	}
	if creds.Username == "" || creds.Password == "" {
		response.Error(w, h.Log, apperr.InvalidArg("username and password are required"))
		return
	}

	res, err := h.Users.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		response.Error(w, h.Log, err)
		return
	}
	auth.SetTokenCookie(w, res.Token, res.ExpiresAt, h.SecureCookies)
	response.JSON(w, http.StatusOK, res)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	if err := h.Users.Logout(r.Context(), p); err != nil {
		response.Error(w, h.Log, err)
		return
	}
	auth.ClearTokenCookie(w, h.SecureCookies)
	response.JSON(w, http.StatusOK, nil)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.Users.Get(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		response.Error(w, h.Log, err)
		return
	}
	response.JSON(w, http.StatusOK, user)
}

func (h *AuthHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.Search(r.Context(), middleware.UserID(r.Context()), r.URL.Query().Get("q"))
	if err != nil {
		response.Error(w, h.Log, err)
		return
	}
	response.JSON(w, http.StatusOK, users)
}
