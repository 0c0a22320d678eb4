package controllers

import (
	"net/http"
	"time"

	"handshake/apierr"
	"handshake/presence"
	"handshake/services"
)

type PresenceController struct {
	Presence *presence.Registry
	Users    *services.UserStore
}

func (c *PresenceController) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Platform string `json:"platform,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Token == "" {
		writeErr(w, apierr.Validation("token is required"))
		return
	}
	if err := c.Users.AddPushToken(r.Context(), UserID(r), req.Token); err != nil {
		writeErr(w, apierr.Transient("failed to register device", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func (c *PresenceController) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := c.Users.RemovePushToken(r.Context(), UserID(r), req.Token); err != nil {
		writeErr(w, apierr.Transient("failed to unregister device", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func (c *PresenceController) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := c.Presence.Heartbeat(r.Context(), UserID(r)); err != nil {
		writeErr(w, apierr.Transient("failed to record heartbeat", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"now": time.Now().UTC()})
}

func (c *PresenceController) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := c.Presence.Snapshot(r.Context(), pathVar(r, "userId"))
	if err != nil {
		writeErr(w, apierr.Transient("failed to read presence", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"presence": snap})
}
