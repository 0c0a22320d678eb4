package controllers

import (
	"net/http"

	"handshake/apierr"
	"handshake/presence"
	"handshake/services"
)

// UserController serves GET /users, composing the Durable Record Store's
// user list with the Presence Registry's live snapshot per user — the
// listing endpoint the teacher's GetAllUsersController inspired, extended
// with presence per SPEC_FULL.md §6.
type UserController struct {
	Users    *services.UserStore
	Presence *presence.Registry
}

type userWithPresence struct {
	services.UserSummary
	Online      bool   `json:"online"`
	ConnCount   int    `json:"connectionCount"`
	LastSeenISO string `json:"lastSeenAt,omitempty"`
}

func (c *UserController) List(w http.ResponseWriter, r *http.Request) {
	users, err := c.Users.ListUsers(r.Context())
	if err != nil {
		writeErr(w, apierr.Transient("failed to list users", err))
		return
	}

	out := make([]userWithPresence, 0, len(users))
	for _, u := range users {
		snap, err := c.Presence.Snapshot(r.Context(), u.UserID)
		entry := userWithPresence{UserSummary: services.ToSummary(u)}
		if err == nil {
			entry.Online = snap.IsOnline
			entry.ConnCount = snap.ConnectionCount
			if !snap.LastSeen.IsZero() {
				entry.LastSeenISO = snap.LastSeen.UTC().Format(http.TimeFormat)
			}
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": out, "count": len(out)})
}

func (c *UserController) Get(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "id")
	user, err := c.Users.GetUser(r.Context(), userID)
	if err != nil {
		if err == services.ErrNotFound {
			writeErr(w, apierr.NotFound("user not found"))
			return
		}
		writeErr(w, apierr.Transient("failed to read user", err))
		return
	}
	snap, _ := c.Presence.Snapshot(r.Context(), userID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":     services.ToSummary(*user),
		"presence": snap,
	})
}
