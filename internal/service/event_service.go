package service

import (
	"context"
	"encoding/json"
	"time"

	"meddoc-assistant-be/internal/constant"
	"meddoc-assistant-be/internal/dto"
	"meddoc-assistant-be/internal/entity"
	"meddoc-assistant-be/internal/pkg/logger"
	"meddoc-assistant-be/pkg/events"
	pktNats "meddoc-assistant-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// SessionSaver publishes transcript snapshots onto the in-process bus; the
// consumer service persists them. Implements chat.Saver.
type SessionSaver struct {
	pubSub *gochannel.GoChannel
	logger logger.ILogger
}

func NewSessionSaver(pubSub *gochannel.GoChannel, log logger.ILogger) *SessionSaver {
	return &SessionSaver{pubSub: pubSub, logger: log}
}

func (s *SessionSaver) SaveAsync(session entity.ChatSession) {
	payload, err := json.Marshal(session)
	if err != nil {
		s.logger.Error("SessionSaver", "Failed to marshal session", map[string]interface{}{
			"session_id": session.Id,
			"error":      err.Error(),
		})
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.pubSub.Publish(constant.SessionSaveTopic, msg); err != nil {
		s.logger.Warn("SessionSaver", "Failed to publish save event", map[string]interface{}{
			"session_id": session.Id,
			"error":      err.Error(),
		})
	}
}

// FeedbackPublisher fans terminal delivery transitions out to the in-process
// feedback topic, and mirrors them to NATS when a publisher is configured.
// Implements chat.Feedback.
type FeedbackPublisher struct {
	pubSub *gochannel.GoChannel
	nats   *pktNats.Publisher // nil when NATS_URL is not set
	logger logger.ILogger
}

func NewFeedbackPublisher(pubSub *gochannel.GoChannel, natsPublisher *pktNats.Publisher, log logger.ILogger) *FeedbackPublisher {
	return &FeedbackPublisher{pubSub: pubSub, nats: natsPublisher, logger: log}
}

func (f *FeedbackPublisher) Delivered(sessionID, messageID string) {
	f.publish(sessionID, messageID, "delivered", events.NewMessageDelivered(sessionID, messageID))
}

func (f *FeedbackPublisher) Failed(sessionID, messageID string) {
	f.publish(sessionID, messageID, "failed", events.NewMessageFailed(sessionID, messageID))
}

func (f *FeedbackPublisher) publish(sessionID, messageID, outcome string, event events.Event) {
	payload, err := json.Marshal(dto.FeedbackEvent{
		SessionId: sessionID,
		MessageId: messageID,
		Outcome:   outcome,
		At:        time.Now(),
	})
	if err != nil {
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := f.pubSub.Publish(constant.FeedbackTopic, msg); err != nil {
		f.logger.Warn("FeedbackPublisher", "Failed to publish feedback event", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}

	if f.nats != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := f.nats.Publish(ctx, event); err != nil {
			f.logger.Warn("FeedbackPublisher", "Failed to mirror event to NATS", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		}
	}
}
