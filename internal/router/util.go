package router

import (
	"encoding/json"
	"net/http"
)

// writeJSON marshals v and writes it with status and proper headers.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

// writeJSONError writes a simple error response as JSON.
func writeJSONError(w http.ResponseWriter, status int, err error) {
	type errorResp struct {
		Error   string `json:"error"`
		Status  int    `json:"status"`
		Message string `json:"message,omitempty"`
	}
	writeJSON(w, status, errorResp{
		Error:   http.StatusText(status),
		Status:  status,
		Message: err.Error(),
	})
}
