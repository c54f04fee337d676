package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pliu/letschat/internal/apperr"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err == io.EOF {
			return apperr.InvalidArg("request body is required")
		}
		return apperr.Wrap(apperr.CodeInvalidArgument, "invalid JSON body", err)
	}
	return nil
}
