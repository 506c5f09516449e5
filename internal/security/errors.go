package security

import (
	"encoding/json"
	"net/http"

	"github.com/leolimacr/advisor-core/internal/types"
)

// WriteError writes the JSON error envelope used by every endpoint
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{
		Error: types.ErrorDetail{Code: code, Message: message},
	})
}
