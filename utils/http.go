package utils

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// WriteJson encodes data as the response body with the given status.
func WriteJson(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("error serializing response body", "error", err)
		http.Error(w, fmt.Sprintf("error serializing response body: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Error("error writing response body", "error", err)
	}
}

func WriteSuccess(w http.ResponseWriter) {
	WriteJson(w, http.StatusOK, struct{}{})
}

type errorResponse struct {
	Error string `json:"error"`
}

// WriteError replies with a json error body. Server side failures are logged.
func WriteError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err)
	}
	WriteJson(w, status, errorResponse{Error: err.Error()})
}

func PathParam(r *http.Request, key string) (string, error) {
	param := chi.URLParam(r, key)
	if param == "" {
		return "", fmt.Errorf("missing {%v} url parameter", key)
	}
	return param, nil
}

func PathUUID(r *http.Request, key string) (uuid.UUID, error) {
	param, err := PathParam(r, key)
	if err != nil {
		return uuid.Nil, err
	}

	id, err := uuid.Parse(param)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid uuid '%v' provided: %w", param, err)
	}
	return id, nil
}
