package handler

import (
	"net/http"

	"github.com/iho/splitledger/internal/adapter/http/dto"
)

// Whoami returns the caller resolved for the request.
func Whoami(w http.ResponseWriter, r *http.Request) {
	c := caller(r)
	if c == "" {
		writeError(w, http.StatusUnauthorized, "no caller", "")
		return
	}
	writeJSON(w, http.StatusOK, dto.CallerResponse{Address: c.String()})
}
