package controllers

import (
	"net/http"

	"handshake/apierr"
	"handshake/auth"
	"handshake/models"
	"handshake/services"

	"github.com/google/uuid"
)

// AuthController implements /auth/register, /auth/login, /auth/profile.
// This is the external identity collaborator spec.md §1 names out of
// scope for the core; it exists here so the repo is runnable end to end.
type AuthController struct {
	Users  *services.UserStore
	Tokens *auth.TokenService
}

func (c *AuthController) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Username == "" || req.Email == "" || len(req.Password) < 6 {
		writeErr(w, apierr.Validation("username, email, and a password of at least 6 characters are required"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeErr(w, apierr.Internal("failed to hash password", err))
		return
	}

	user := models.User{
		UserID:       uuid.New().String(),
		DisplayName:  req.Username,
		ContactID:    req.Email,
		PasswordHash: hash,
	}
	if err := c.Users.CreateUser(r.Context(), user); err != nil {
		if err == services.ErrDuplicateContact {
			writeErr(w, apierr.Conflict("an account with this email already exists"))
			return
		}
		writeErr(w, apierr.Transient("failed to create user", err))
		return
	}

	token, err := c.Tokens.Mint(user.UserID)
	if err != nil {
		writeErr(w, apierr.Internal("failed to mint token", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"user": user, "token": token})
}

func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	user, err := c.Users.FindByContactID(r.Context(), req.Email)
	if err != nil {
		writeErr(w, apierr.Transient("failed to look up user", err))
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeErr(w, apierr.Unauthorized("invalid email or password"))
		return
	}

	token, err := c.Tokens.Mint(user.UserID)
	if err != nil {
		writeErr(w, apierr.Internal("failed to mint token", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": user, "token": token})
}

func (c *AuthController) Profile(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r)
	user, err := c.Users.GetUser(r.Context(), userID)
	if err != nil {
		writeErr(w, apierr.NotFound("user not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}
