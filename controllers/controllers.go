// Package controllers holds the HTTP handlers for the external
// interfaces in spec.md §6. Every response follows the fixed envelope
// shape {success, data?, error?}; controllers translate *apierr.Error
// into the matching status code and never construct HTTP errors inline,
// mirroring the teacher's http.Error one-liners but centralized.
package controllers

import (
	"context"
	"encoding/json"
	"net/http"

	"handshake/apierr"

	"github.com/gorilla/mux"
)

type contextKey string

const userIDContextKey contextKey = "userID"

// WithUserID stores the authenticated caller's id on the request context;
// set by the auth middleware in routes.go.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserID retrieves the authenticated caller's id, or "" if unauthenticated.
func UserID(r *http.Request) string {
	v, _ := r.Context().Value(userIDContextKey).(string)
	return v
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: status < 400, Data: data})
}

func writeErr(w http.ResponseWriter, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Internal("unexpected error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierr.HTTPStatus(apiErr.Kind))
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: apiErr.Message})
}

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.Validation("invalid request body")
	}
	return nil
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
