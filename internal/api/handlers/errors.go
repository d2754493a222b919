package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/markdave123-py/docpipe/internal/core"
)

// StatusFor maps an error kind to the HTTP status returned to clients.
func StatusFor(err error) int {
	switch core.KindOf(err) {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindInvalidTransition:
		return http.StatusConflict
	case core.KindExtraction, core.KindInvalidInput:
		return http.StatusUnprocessableEntity
	case core.KindEmbedding, core.KindDownload:
		return http.StatusBadGateway
	case core.KindStorage:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Printf("Handler: %v", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: core.KindOf(err).String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Handler: encoding response: %v", err)
	}
}
