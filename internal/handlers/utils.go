package handlers

import (
	"encoding/json"
	"net/http"

	"photo-rater/internal/logging"
)

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a structured failure response with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// writeJSONSuccess writes a structured success response, merging any
// extra fields into the payload.
func writeJSONSuccess(w http.ResponseWriter, extra map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]interface{}{"success": true}
	for k, v := range extra {
		payload[k] = v
	}
	writeJSON(w, payload)
}
