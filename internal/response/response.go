// Package response writes the JSON envelope every API endpoint answers with.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pliu/letschat/internal/apperr"
)

type Envelope struct {
	Success bool             `json:"success"`
	Data    any              `json:"data,omitempty"`
	Error   *apperr.AppError `json:"error,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{Success: true, Data: data})
}

// Error writes err as a failed envelope. Internal causes are logged and never
// sent to the client.
func Error(w http.ResponseWriter, log *slog.Logger, err error) {
	ae := apperr.From(err)
	if ae.Code == apperr.CodeInternal && log != nil {
		log.Error("request failed", "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.Code.HTTPStatus())
	json.NewEncoder(w).Encode(Envelope{
		Error: &apperr.AppError{Code: ae.Code, Message: ae.Message},
	})
}
