package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	apperrors "WeGo/server/pkg/errors"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// respondError maps the taxonomy onto HTTP. Plain errors come out as a
// generic 500 so internals never reach the client.
func respondError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("Internal error: %v", err)
	}
	respondJSON(w, status, map[string]string{"error": apperrors.MessageOf(err)})
}
