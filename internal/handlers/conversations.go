package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pliu/letschat/internal/middleware"
	"github.com/pliu/letschat/internal/response"
	"github.com/pliu/letschat/internal/service"
)

type ConversationHandler struct {
	Conversations *service.ConversationService
	Log           *slog.Logger
}

type AddParticipantsRequest struct {
	UserIDs []string `json:"user_ids"`
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateConversationInput
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, h.Log, err)
		return
	}

	conv, created, err := h.Conversations.Create(r.Context(), req, middleware.UserID(r.Context()))
	if err != nil {
		response.Error(w, h.Log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.JSON(w, status, conv)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	convs, err := h.Conversations.List(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		response.Error(w, h.Log, err)
		return
	}
	response.JSON(w, http.StatusOK, convs)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, err := h.Conversations.Get(r.Context(), mux.Vars(r)["id"], middleware.UserID(r.Context()))
	if err != nil {
		response.Error(w, h.Log, err)
		return
	}
	response.JSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) Participants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.Conversations.Participants(r.Context(), mux.Vars(r)["id"], middleware.UserID(r.Context()))
	if err != nil {
		response.Error(w, h.Log, err)
		return
	}
	response.JSON(w, http.StatusOK, participants)
}

func (h *ConversationHandler) AddParticipants(w http.ResponseWriter, r *http.Request) {
	var req AddParticipantsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, h.Log, err)
		return
	}

	added, err := h.Conversations.AddParticipants(r.Context(), mux.Vars(r)["id"], middleware.UserID(r.Context()), req.UserIDs)
	if err != nil {
		response.Error(w, h.Log, err)
		return
	}
	response.JSON(w, http.StatusOK, added)
}

func (h *ConversationHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.Conversations.RemoveParticipant(r.Context(), vars["id"], middleware.UserID(r.Context()), vars["userId"]); err != nil {
		response.Error(w, h.Log, err)
		return
	}
	response.JSON(w, http.StatusOK, nil)
}

func (h *ConversationHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	conv, err := h.Conversations.RotateKey(r.Context(), mux.Vars(r)["id"], middleware.UserID(r.Context()))
	if err != nil {
		response.Error(w, h.Log, err)
		return
	}
	response.JSON(w, http.StatusOK, conv)
}
