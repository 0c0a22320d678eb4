// Package hub is the Connection Hub: it accepts long-lived client
// connections, authenticates them, binds each to a user, and fans
// outbound events out to every live connection for a user or session
// across the whole cluster via the shared-store adapter's pub/sub,
// per spec.md §4.5 and the "emit-and-forget across a cluster" redesign
// note in §9. Grounded on the teacher's socket/server.go room-join and
// broadcast shape, re-expressed over gorilla/websocket so the Hub owns
// an explicit bind-to-user step instead of socket.io's implicit rooms.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"handshake/apierr"
	"handshake/models"
	"handshake/presence"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// AuthResolver maps a live-channel handshake token to a user id. The
// concrete bearer-token verifier lives in the auth package and is
// injected here, keeping Hub ignorant of how tokens are minted.
type AuthResolver interface {
	ResolveUser(ctx context.Context, token string) (userID string, err error)
}

// UsernameLookup resolves a user id to its display name for the
// `connected` envelope; the concrete lookup lives in the Durable Record
// Store and is injected here, keeping Hub ignorant of how users are
// stored.
type UsernameLookup interface {
	DisplayNameFor(ctx context.Context, userID string) (string, error)
}

// ResponseHandler is the narrow capability the Hub needs from the
// Orchestrator to process an inbound challenge:respond message. Defined
// here, not in the orchestrator package, so the Hub never imports the
// Orchestrator directly — the late-binding split spec.md §9 asks for.
type ResponseHandler interface {
	HandleWakeUpResponse(ctx context.Context, challengeID, userID string, response models.WakeUpResponse) (interface{}, error)
}

// Fanout is the cluster-wide pub/sub primitive the Hub uses to reach
// connections bound to other processes.
type Fanout interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) Subscription
}

// Subscription is the minimal read side of a pub/sub subscription.
type Subscription interface {
	Receive() <-chan []byte
	Close() error
}

type envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

type connection struct {
	id     string
	userID string
	ws     *websocket.Conn
	send   chan envelope
	mu     sync.Mutex
}

type Hub struct {
	upgrader websocket.Upgrader
	auth     AuthResolver
	usernames UsernameLookup
	presence *presence.Registry
	fanout   Fanout
	handler  ResponseHandler
	log      *zap.Logger

	mu            sync.RWMutex
	connsByUser   map[string]map[string]*connection
	connsBySess   map[string]map[string]*connection
	userSubs      map[string]*userSubscription
}

type userSubscription struct {
	cancel context.CancelFunc
	refs   int
}

func New(auth AuthResolver, usernames UsernameLookup, reg *presence.Registry, fanout Fanout, handler ResponseHandler, log *zap.Logger) *Hub {
	return &Hub{
		upgrader:    websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		auth:        auth,
		usernames:   usernames,
		presence:    reg,
		fanout:      fanout,
		handler:     handler,
		log:         log,
		connsByUser: make(map[string]map[string]*connection),
		connsBySess: make(map[string]map[string]*connection),
		userSubs:    make(map[string]*userSubscription),
	}
}

// ServeHTTP upgrades the request to a websocket and runs the connection's
// lifecycle. The bearer token is expected as ?token= or the Authorization
// header, per spec.md §6 "auth token supplied at handshake".
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = extractBearer(r.Header.Get("Authorization"))
	}

	userID, err := h.auth.ResolveUser(r.Context(), token)
	if err != nil || token == "" {
		ws, upErr := h.upgrader.Upgrade(w, r, nil)
		if upErr == nil {
			_ = ws.WriteJSON(envelope{Event: "error", Payload: map[string]string{"message": "unauthorized"}})
			_ = ws.Close()
		}
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("hub: upgrade failed", zap.Error(err))
		return
	}

	conn := &connection{
		id:     uuid.New().String(),
		userID: userID,
		ws:     ws,
		send:   make(chan envelope, 32),
	}

	h.bind(r.Context(), conn)
	defer h.unbind(context.Background(), conn)

	go conn.writeLoop()

	username, err := h.usernames.DisplayNameFor(r.Context(), userID)
	if err != nil {
		h.log.Warn("hub: display name lookup failed", zap.String("userId", userID), zap.Error(err))
	}
	conn.send <- envelope{Event: "connected", Payload: map[string]interface{}{
		"userId":   userID,
		"username": username,
		"now":      time.Now().UTC(),
	}}

	h.readLoop(r.Context(), conn)
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func (c *connection) writeLoop() {
	for env := range c.send {
		c.mu.Lock()
		err := c.ws.WriteJSON(env)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (h *Hub) bind(ctx context.Context, conn *connection) {
	h.mu.Lock()
	if h.connsByUser[conn.userID] == nil {
		h.connsByUser[conn.userID] = make(map[string]*connection)
	}
	h.connsByUser[conn.userID][conn.id] = conn
	h.ensureUserSubscriptionLocked(conn.userID)
	h.mu.Unlock()

	if err := h.presence.SetOnline(ctx, conn.userID, conn.id); err != nil {
		h.log.Warn("hub: presence set online failed", zap.Error(err))
	}
}

func (h *Hub) unbind(ctx context.Context, conn *connection) {
	h.mu.Lock()
	if conns, ok := h.connsByUser[conn.userID]; ok {
		delete(conns, conn.id)
		if len(conns) == 0 {
			delete(h.connsByUser, conn.userID)
		}
		h.releaseUserSubscriptionLocked(conn.userID)
	}
	for sessionID, conns := range h.connsBySess {
		delete(conns, conn.id)
		if len(conns) == 0 {
			delete(h.connsBySess, sessionID)
		}
	}
	h.mu.Unlock()

	close(conn.send)
	_ = conn.ws.Close()

	if err := h.presence.SetOffline(ctx, conn.userID, conn.id); err != nil {
		h.log.Warn("hub: presence set offline failed", zap.Error(err))
	}
}

// ensureUserSubscriptionLocked starts (or ref-counts) a cluster fanout
// subscription for user, so this process only pays for pub/sub traffic
// for users it actually has a live connection for.
func (h *Hub) ensureUserSubscriptionLocked(user string) {
	if sub, ok := h.userSubs[user]; ok {
		sub.refs++
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &userSubscription{cancel: cancel, refs: 1}
	h.userSubs[user] = sub
	go h.consumeUserChannel(ctx, user)
}

func (h *Hub) releaseUserSubscriptionLocked(user string) {
	sub, ok := h.userSubs[user]
	if !ok {
		return
	}
	sub.refs--
	if sub.refs <= 0 {
		sub.cancel()
		delete(h.userSubs, user)
	}
}

func (h *Hub) consumeUserChannel(ctx context.Context, user string) {
	subscription := h.fanout.Subscribe(ctx, userChannel(user))
	defer subscription.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-subscription.Receive():
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				h.log.Error("hub: corrupt fanout payload dropped", zap.Error(err))
				continue
			}
			h.deliverLocalToUser(user, env)
		}
	}
}

func (h *Hub) deliverLocalToUser(user string, env envelope) {
	h.mu.RLock()
	conns := h.connsByUser[user]
	targets := make([]*connection, 0, len(conns))
	for _, c := range conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		select {
		case c.send <- env:
		default:
			h.log.Warn("hub: dropping event, send buffer full", zap.String("connId", c.id))
		}
	}
}

func userChannel(user string) string    { return "fanout:user:" + user }
func sessionChannel(id string) string   { return "fanout:session:" + id }

// Emit delivers event to every connection bound to userID across the
// cluster, at-most-once per connection, best-effort. Loss is not a
// correctness bug because the Push Channel fires in parallel.
func (h *Hub) Emit(ctx context.Context, userID, event string, payload interface{}) error {
	raw, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("hub: marshal emit to %q: %w", userID, err)
	}
	return h.fanout.Publish(ctx, userChannel(userID), raw)
}

// EmitSession delivers event to every connection joined to sessionID
// locally, and asks every other process to do the same via fanout.
func (h *Hub) EmitSession(ctx context.Context, sessionID, event string, payload interface{}) error {
	env := envelope{Event: event, Payload: payload}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("hub: marshal session emit to %q: %w", sessionID, err)
	}
	h.mu.RLock()
	conns := h.connsBySess[sessionID]
	targets := make([]*connection, 0, len(conns))
	for _, c := range conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		select {
		case c.send <- env:
		default:
			h.log.Warn("hub: dropping session event, send buffer full", zap.String("connId", c.id))
		}
	}
	return h.fanout.Publish(ctx, sessionChannel(sessionID), raw)
}

func (h *Hub) readLoop(ctx context.Context, conn *connection) {
	for {
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ws.ReadJSON(&msg); err != nil {
			return
		}
		h.handleInbound(ctx, conn, msg.Type, msg.Data)
	}
}

func (h *Hub) handleInbound(ctx context.Context, conn *connection, msgType string, data json.RawMessage) {
	switch msgType {
	case "heartbeat":
		if err := h.presence.Heartbeat(ctx, conn.userID); err != nil {
			h.log.Warn("hub: heartbeat failed", zap.Error(err))
		}
		conn.send <- envelope{Event: "heartbeat-ack", Payload: map[string]interface{}{}}

	case "challenge:respond":
		var body struct {
			ChallengeID string `json:"challengeId"`
			Response    string `json:"response"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			conn.send <- envelope{Event: "error", Payload: map[string]string{"message": "invalid payload"}}
			return
		}
		response, ok := models.ParseWakeUpResponse(body.Response)
		if !ok {
			conn.send <- envelope{Event: "error", Payload: map[string]string{"message": "invalid response value"}}
			return
		}
		result, err := h.handler.HandleWakeUpResponse(ctx, body.ChallengeID, conn.userID, response)
		if err != nil {
			conn.send <- envelope{Event: "error", Payload: map[string]string{"message": describeError(err)}}
			return
		}
		conn.send <- envelope{Event: "challenge:respond-ack", Payload: result}

	case "session:join":
		var body struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(data, &body); err == nil {
			h.mu.Lock()
			if h.connsBySess[body.SessionID] == nil {
				h.connsBySess[body.SessionID] = make(map[string]*connection)
			}
			h.connsBySess[body.SessionID][conn.id] = conn
			h.mu.Unlock()
		}
		conn.send <- envelope{Event: "session:join-ack", Payload: map[string]interface{}{}}

	case "session:leave":
		var body struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(data, &body); err == nil {
			h.mu.Lock()
			delete(h.connsBySess[body.SessionID], conn.id)
			h.mu.Unlock()
		}
		conn.send <- envelope{Event: "session:leave-ack", Payload: map[string]interface{}{}}

	default:
		conn.send <- envelope{Event: "error", Payload: map[string]string{"message": "unknown message type"}}
	}
}

func describeError(err error) string {
	if apiErr, ok := apierr.As(err); ok {
		return apiErr.Message
	}
	return "internal error"
}
