package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"handshake/auth"
	"handshake/config"
	"handshake/controllers"
	"handshake/hub"
	"handshake/logging"
	"handshake/models"
	"handshake/orchestrator"
	"handshake/presence"
	"handshake/push"
	"handshake/routes"
	"handshake/scheduler"
	"handshake/services"
	"handshake/sharedstore"

	"go.uber.org/zap"
)

// lateResponseHandler breaks the Hub/Orchestrator construction cycle: the
// Hub needs a hub.ResponseHandler at New(), and the Orchestrator needs the
// Hub itself as its orchestrator.Notifier. Both packages deliberately
// avoid importing each other (see their doc comments), so this wiring
// shim — not either package — holds the only reference that binds late.
type lateResponseHandler struct {
	orchestrator *orchestrator.Orchestrator
}

func (l *lateResponseHandler) HandleWakeUpResponse(ctx context.Context, challengeID, userID string, response models.WakeUpResponse) (interface{}, error) {
	return l.orchestrator.HandleWakeUpResponse(ctx, challengeID, userID, response)
}

func main() {
	cfg := config.Load()

	env := "development"
	log, err := logging.New(env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("initializing DynamoDB client...")
	ctx := context.Background()
	dynamoClient, err := services.NewDynamoClient(ctx, cfg.AWSRegion, cfg.DynamoEndpoint)
	if err != nil {
		log.Fatal("failed to initialize DynamoDB client", zap.Error(err))
	}
	dynamoStore := services.NewDynamoStore(dynamoClient, log)
	log.Info("DynamoDB client initialized")

	users := &services.UserStore{Store: dynamoStore}
	challenges := &services.ChallengeStore{Store: dynamoStore}
	sessions := &services.SessionStore{Store: dynamoStore}

	log.Info("connecting to shared store", zap.String("addr", cfg.RedisAddr))
	locks := sharedstore.New(cfg.RedisAddr, cfg.RedisPassword)
	defer locks.Close()

	presenceRegistry := presence.New(locks, cfg.PresenceTTL, log)

	var pushVendor push.Vendor
	if cfg.PushVendorAPIKey != "" && cfg.PushVendorEndpoint != "" {
		pushVendor = push.NewHTTPVendor(cfg.PushVendorEndpoint, cfg.PushVendorAPIKey)
	}
	pushChannel := push.New(pushVendor, users, log)

	tokens := auth.NewTokenService(cfg.TokenSigningSecret, cfg.TokenLifetime)

	handlerShim := &lateResponseHandler{}
	fanout := hub.NewRedisFanout(locks)
	connectionHub := hub.New(tokens, users, presenceRegistry, fanout, handlerShim, log)

	sched := scheduler.New(locks, log)

	orch := orchestrator.New(
		locks,
		challenges,
		sessions,
		users,
		presenceRegistry,
		pushChannel,
		connectionHub,
		sched,
		orchestrator.Config{
			ChallengeExpiration: cfg.ChallengeExpiration,
			HandshakeTimeout:    cfg.HandshakeTimeout,
			MaxRetryAttempts:    cfg.MaxRetryAttempts,
			LockTTL:             cfg.LockTTL,
		},
		log,
	)
	handlerShim.orchestrator = orch

	sched.RegisterHandler(scheduler.KindChallengeTimeout, func(ctx context.Context, payload json.RawMessage) error {
		var p scheduler.TimeoutPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		return orch.HandleTimeout(ctx, p.ChallengeID, p.Attempt)
	})
	sched.RegisterHandler(scheduler.KindCleanupSweep, func(ctx context.Context, _ json.RawMessage) error {
		if _, err := orch.MarkExpired(ctx); err != nil {
			log.Warn("cleanup sweep: mark expired failed", zap.Error(err))
		}
		if _, err := orch.PruneTerminal(ctx, cfg.TerminalRetention); err != nil {
			log.Warn("cleanup sweep: prune terminal failed", zap.Error(err))
		}
		return sched.RecurAfter(ctx, "cleanup-sweep", scheduler.KindCleanupSweep, time.Hour)
	})

	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()
	sched.Start(schedCtx)
	if err := sched.ScheduleRecurring(ctx, "cleanup-sweep", scheduler.KindCleanupSweep, time.Hour); err != nil {
		log.Warn("failed to schedule initial cleanup sweep", zap.Error(err))
	}

	c := routes.Controllers{
		Auth:      &controllers.AuthController{Users: users, Tokens: tokens},
		Challenge: &controllers.ChallengeController{Orchestrator: orch, Challenges: challenges},
		Session:   &controllers.SessionController{Sessions: sessions},
		Presence:  &controllers.PresenceController{Presence: presenceRegistry, Users: users},
		User:      &controllers.UserController{Users: users, Presence: presenceRegistry},
		Health:    &controllers.HealthController{StartedAt: time.Now()},
		Hub:       connectionHub,
	}

	handler := routes.New(c, tokens, cfg.AllowedOrigins)

	log.Info("starting server", zap.String("port", cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
