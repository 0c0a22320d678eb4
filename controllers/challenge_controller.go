package controllers

import (
	"net/http"

	"handshake/apierr"
	"handshake/models"
	"handshake/orchestrator"
	"handshake/services"
)

type ChallengeController struct {
	Orchestrator *orchestrator.Orchestrator
	Challenges   *services.ChallengeStore
}

func (c *ChallengeController) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChallengedID string                 `json:"challengedId"`
		GameType     string                 `json:"gameType"`
		Metadata     map[string]interface{} `json:"metadata,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	challenger := UserID(r)

	created, err := c.Orchestrator.CreateChallenge(r.Context(), challenger, req.ChallengedID, req.GameType, req.Metadata)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"challenge": created})
}

func (c *ChallengeController) Get(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	ch, err := c.Challenges.GetChallenge(r.Context(), id)
	if err != nil {
		writeErr(w, mapGetErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"challenge": ch})
}

func mapGetErr(err error) error {
	if err == services.ErrNotFound {
		return apierr.NotFound("challenge not found")
	}
	return apierr.Transient("failed to read challenge", err)
}

func (c *ChallengeController) ListPendingForMe(w http.ResponseWriter, r *http.Request) {
	challenges, err := c.Challenges.ListPendingForUser(r.Context(), UserID(r))
	if err != nil {
		writeErr(w, apierr.Transient("failed to list pending challenges", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"challenges": challenges, "count": len(challenges)})
}

func (c *ChallengeController) ListSentByMe(w http.ResponseWriter, r *http.Request) {
	challenges, err := c.Challenges.ListSentByUser(r.Context(), UserID(r))
	if err != nil {
		writeErr(w, apierr.Transient("failed to list sent challenges", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"challenges": challenges, "count": len(challenges)})
}

func (c *ChallengeController) Accept(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	state, notified, err := c.Orchestrator.InitiateHandshake(r.Context(), id, UserID(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"state": state, "playerNotified": notified})
}

func (c *ChallengeController) Decline(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	if err := c.Orchestrator.DeclineByChallenged(r.Context(), id, UserID(r)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func (c *ChallengeController) Respond(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	var req struct {
		Response string `json:"response"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	response, ok := models.ParseWakeUpResponse(req.Response)
	if !ok {
		writeErr(w, apierr.Validation("response must be ACCEPT or DECLINE"))
		return
	}
	result, err := c.Orchestrator.HandleWakeUpResponse(r.Context(), id, UserID(r), response)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
