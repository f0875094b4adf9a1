package bootstrap

import (
	"context"
	"log"
	"math/rand"
	"time"

	"meddoc-assistant-be/internal/config"
	"meddoc-assistant-be/internal/controller"
	"meddoc-assistant-be/internal/handler"
	"meddoc-assistant-be/internal/pkg/logger"
	"meddoc-assistant-be/internal/service"
	"meddoc-assistant-be/internal/websocket"
	"meddoc-assistant-be/pkg/chat"
	"meddoc-assistant-be/pkg/morphik"
	"meddoc-assistant-be/pkg/prober"
	"meddoc-assistant-be/pkg/router"
	"meddoc-assistant-be/pkg/store"

	pktNats "meddoc-assistant-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

type Container struct {
	// Controllers
	AssistantController controller.IAssistantController

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService

	// WebSockets
	DeliveryHandler *handler.DeliveryHandler
	WebSocketHub    *websocket.Hub
}

func NewContainer(cfg *config.Config) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// 2.5 Infrastructure
	// NATS (optional mirror for feedback events)
	var natsPub *pktNats.Publisher
	if cfg.App.NatsURL != "" {
		var err error
		natsPub, err = pktNats.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
			natsPub = nil
		}
	}

	// Redis-backed session storage; in-memory fallback when Redis is down
	// keeps the assistant usable for the lifetime of the process.
	var kv store.KV
	var rdb *redis.Client
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb = redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v. Sessions held in memory only", err)
		rdb = nil
		kv = store.NewMemoryKV()
	} else {
		kv = store.NewRedisKV(rdb)
	}

	sessionStore := store.NewSessionStore(
		kv,
		cfg.Assistant.StoragePrefix,
		cfg.Assistant.RecentLimit,
		cfg.Assistant.MaxSessionAge,
		sysLogger,
	)

	// WebSocket Hub (delivery push)
	wsLogger := logger.NewIsolatedLogger("logs/delivery.log")
	wsHub := websocket.NewHub(rdb, wsLogger)
	go wsHub.Run()

	// 3. Domain components
	morphikClient := morphik.NewClient(cfg.Backends.MorphikBaseURL, cfg.Backends.MorphikTimeout)
	queryRouter := router.New(
		cfg.Backends.RagBaseURL,
		cfg.Backends.RecordBaseURL,
		morphikClient,
		cfg.Backends.QueryTimeout,
		sysLogger,
	)
	svcProber := prober.New(
		cfg.Backends.RagBaseURL,
		cfg.Backends.RecordBaseURL,
		cfg.Backends.MorphikBaseURL,
		cfg.Backends.ProbeTimeout,
		sysLogger,
	)

	sessionSaver := service.NewSessionSaver(pubSub, sysLogger)
	feedbackPublisher := service.NewFeedbackPublisher(pubSub, natsPub, sysLogger)

	chatController := chat.NewController(
		sessionSaver,
		feedbackPublisher,
		wsHub,
		sessionStore,
		cfg.Assistant.RevealTick,
		cfg.Assistant.RevealMaxDuration,
		cfg.Assistant.SoundDefault,
		sysLogger,
	)

	// 4. Services
	consumerService := service.NewConsumerService(pubSub, sessionStore, sysLogger)
	assistantService := service.NewAssistantService(
		sessionStore,
		queryRouter,
		chatController,
		svcProber,
		cfg.Assistant.FreshThreshold,
		cfg.Assistant.SoundDefault,
		rand.New(rand.NewSource(time.Now().UnixNano())),
		sysLogger,
	)

	// 5. Controllers
	return &Container{
		AssistantController: controller.NewAssistantController(assistantService),
		ConsumerService:     consumerService,
		DeliveryHandler:     handler.NewDeliveryHandler(wsHub, wsLogger),
		WebSocketHub:        wsHub,
	}
}
