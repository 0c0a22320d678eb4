// Package routes wires the HTTP API and the live-connection upgrade onto a
// single gorilla/mux router behind a single exported New entrypoint, as
// the teacher's routes package does; every resource group is registered
// in this one file.
package routes

import (
	"net/http"
	"strings"

	"handshake/apierr"
	"handshake/auth"
	"handshake/controllers"
	"handshake/hub"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// Controllers bundles every HTTP handler set main.go constructs; kept as a
// plain struct (not an interface) since each field is wired exactly once.
type Controllers struct {
	Auth      *controllers.AuthController
	Challenge *controllers.ChallengeController
	Session   *controllers.SessionController
	Presence  *controllers.PresenceController
	User      *controllers.UserController
	Health    *controllers.HealthController
	Hub       *hub.Hub
}

// New builds the full router: public routes, authenticated routes behind
// requireAuth, the live-connection upgrade, and CORS — the same shape as
// the teacher's main.go router assembly, generalized into its own package.
func New(c Controllers, tokens *auth.TokenService, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", c.Health.Get).Methods(http.MethodGet)

	r.HandleFunc("/auth/register", c.Auth.Register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", c.Auth.Login).Methods(http.MethodPost)

	// The live-connection upgrade authenticates itself (bearer token in
	// query or header) inside hub.Hub.ServeHTTP, so it sits outside the
	// requireAuth middleware chain.
	r.HandleFunc("/live", c.Hub.ServeHTTP)

	api := r.NewRoute().Subrouter()
	api.Use(requireAuth(tokens))

	api.HandleFunc("/auth/profile", c.Auth.Profile).Methods(http.MethodGet)

	api.HandleFunc("/challenges", c.Challenge.Create).Methods(http.MethodPost)
	api.HandleFunc("/challenges/me/pending", c.Challenge.ListPendingForMe).Methods(http.MethodGet)
	api.HandleFunc("/challenges/me/sent", c.Challenge.ListSentByMe).Methods(http.MethodGet)
	api.HandleFunc("/challenges/{id}", c.Challenge.Get).Methods(http.MethodGet)
	api.HandleFunc("/challenges/{id}/accept", c.Challenge.Accept).Methods(http.MethodPost)
	api.HandleFunc("/challenges/{id}/decline", c.Challenge.Decline).Methods(http.MethodPost)
	api.HandleFunc("/challenges/{id}/respond", c.Challenge.Respond).Methods(http.MethodPost)

	api.HandleFunc("/sessions/me/active", c.Session.ListActiveForMe).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", c.Session.Get).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/end", c.Session.End).Methods(http.MethodPost)

	api.HandleFunc("/presence/register-device", c.Presence.RegisterDevice).Methods(http.MethodPost)
	api.HandleFunc("/presence/unregister-device", c.Presence.UnregisterDevice).Methods(http.MethodPost)
	api.HandleFunc("/presence/heartbeat", c.Presence.Heartbeat).Methods(http.MethodPost)
	api.HandleFunc("/presence/{userId}", c.Presence.Get).Methods(http.MethodGet)

	api.HandleFunc("/users", c.User.List).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", c.User.Get).Methods(http.MethodGet)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return corsHandler.Handler(r)
}

// requireAuth extracts a bearer token, resolves it to a user id via the
// same auth.TokenService the /live upgrade uses, and rejects the request
// with apierr.Unauthorized on failure — the single authentication gate
// every non-public route passes through.
func requireAuth(tokens *auth.TokenService) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeUnauthorized(w)
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")
			userID, err := tokens.ResolveUser(r.Context(), token)
			if err != nil {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(controllers.WithUserID(r.Context(), userID)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	apiErr := apierr.Unauthorized("missing or invalid bearer token")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierr.HTTPStatus(apiErr.Kind))
	_, _ = w.Write([]byte(`{"success":false,"error":"` + apiErr.Message + `"}`))
}
