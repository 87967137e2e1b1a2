// Package respond writes the JSON envelopes shared by every HTTP surface.
package respond

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the failure envelope. Fields names the offending request
// fields for validation failures.
type ErrorBody struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func Error(w http.ResponseWriter, status int, message string, fields ...string) {
	JSON(w, status, ErrorBody{Success: false, Message: message, Fields: fields})
}
