package service

import (
	"context"
	"encoding/json"

	"meddoc-assistant-be/internal/constant"
	"meddoc-assistant-be/internal/entity"
	"meddoc-assistant-be/internal/pkg/logger"
	"meddoc-assistant-be/pkg/store"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService drains the session-save topic so transcript persistence
// happens off the interaction path. Storage failures are already swallowed
// inside the store; a failed save degrades to "no history", never blocks a
// reply.
type consumerService struct {
	pubSub       *gochannel.GoChannel
	sessionStore *store.SessionStore
	logger       logger.ILogger
}

func NewConsumerService(
	pubSub *gochannel.GoChannel,
	sessionStore *store.SessionStore,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		pubSub:       pubSub,
		sessionStore: sessionStore,
		logger:       log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.pubSub.Subscribe(ctx, constant.SessionSaveTopic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var session entity.ChatSession
	if err := json.Unmarshal(msg.Payload, &session); err != nil {
		cs.logger.Error("ConsumerService", "Failed to unmarshal session payload", map[string]interface{}{
			"error": err.Error(),
		})
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	cs.sessionStore.Save(ctx, &session)
	msg.Ack()
}
