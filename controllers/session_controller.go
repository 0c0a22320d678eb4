package controllers

import (
	"net/http"

	"handshake/apierr"
	"handshake/models"
	"handshake/services"
)

type SessionController struct {
	Sessions *services.SessionStore
}

func (c *SessionController) Get(w http.ResponseWriter, r *http.Request) {
	session, err := c.Sessions.GetSession(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeErr(w, mapSessionGetErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (c *SessionController) ListActiveForMe(w http.ResponseWriter, r *http.Request) {
	sessions, err := c.Sessions.ListActiveForUser(r.Context(), UserID(r))
	if err != nil {
		writeErr(w, apierr.Transient("failed to list active sessions", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions, "count": len(sessions)})
}

func (c *SessionController) End(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State    string                 `json:"state"`
		Metadata map[string]interface{} `json:"metadata,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.State != models.SessionStateCompleted && req.State != models.SessionStateAbandoned {
		writeErr(w, apierr.Validation("state must be COMPLETED or ABANDONED"))
		return
	}
	session, err := c.Sessions.EndSession(r.Context(), pathVar(r, "id"), req.State, req.Metadata)
	if err != nil {
		if err == services.ErrConditionFailed {
			writeErr(w, apierr.Conflict("session is already ended"))
			return
		}
		writeErr(w, mapSessionGetErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func mapSessionGetErr(err error) error {
	if err == services.ErrNotFound {
		return apierr.NotFound("session not found")
	}
	return apierr.Transient("failed to read session", err)
}
