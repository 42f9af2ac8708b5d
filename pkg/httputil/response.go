package httputil

import (
	"encoding/json"
	"net/http"
)

// JSON writes data as a JSON response with the given status code.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// Text writes a plain text response.
func Text(w http.ResponseWriter, statusCode int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write([]byte(text))
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	// RequestID echoes the X-Request-Id response header, when set.
	RequestID string `json:"request_id,omitempty"`
}

// Error writes an ErrorResponse. The request id is taken from the response
// headers, so Error must run after the RequestID middleware for it to be
// included.
func Error(w http.ResponseWriter, statusCode int, message string) {
	JSON(w, statusCode, ErrorResponse{
		Message:   message,
		Code:      statusCode,
		RequestID: w.Header().Get(RequestIDHeader),
	})
}
