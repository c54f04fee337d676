package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/pliu/letschat/internal/apperr"
	"github.com/pliu/letschat/internal/middleware"
	"github.com/pliu/letschat/internal/response"
	"github.com/pliu/letschat/internal/service"
)

type MessageHandler struct {
	Messages *service.MessageService
	Log      *slog.Logger
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, h.Log, err)
		return
	}

	ev, err := h.Messages.SendMessage(r.Context(), service.SendMessageInput{
		ConversationID: mux.Vars(r)["id"],
		Content:        req.Content,
	}, middleware.UserID(r.Context()))
	if err != nil {
		response.Error(w, h.Log, err)
		return
	}
	response.JSON(w, http.StatusCreated, ev.Message)
}

// List accepts limit, before (RFC 3339) and before_id query parameters. A
// client pages back by passing the created_at and id of its oldest message.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		response.Error(w, h.Log, err)
		return
	}

	msgs, err := h.Messages.GetMessages(r.Context(), mux.Vars(r)["id"], middleware.UserID(r.Context()), opts)
	if err != nil {
		response.Error(w, h.Log, err)
		return
	}
	response.JSON(w, http.StatusOK, msgs)
}

func parseListOptions(r *http.Request) (service.ListOptions, error) {
	var opts service.ListOptions
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, apperr.InvalidArg("limit must be a positive integer")
		}
		opts.Limit = n
	}
	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return opts, apperr.InvalidArg("before must be an RFC 3339 timestamp")
		}
		opts.Before = t
	}
	if v := q.Get("before_id"); v != "" {
		if opts.Before.IsZero() {
			return opts, apperr.InvalidArg("before_id requires before")
		}
		opts.BeforeID = v
	}
	return opts, nil
}
