package res

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON shape for error replies.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorCode int    `json:"error_code,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// JSON writes data as a JSON response with the given status.
func JSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error writes an ErrorResponse with the given status.
func Error(w http.ResponseWriter, message string, status int) {
	JSON(w, ErrorResponse{Success: false, Error: message, ErrorCode: status}, status)
}
