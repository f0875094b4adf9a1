// Package chat owns the transcript of the active session and drives each
// message through its lifecycle: pending -> delivering -> delivered, or
// pending -> failed. The simulated incremental delivery runs as a
// cancellable ticker task keyed by session id, so a reveal started for one
// session can never write into another.
package chat

import (
	"context"
	"sync"
	"time"

	"meddoc-assistant-be/internal/entity"
	"meddoc-assistant-be/internal/pkg/logger"
	"meddoc-assistant-be/pkg/router"

	"github.com/google/uuid"
)

// Saver persists a session snapshot without blocking the interaction path.
type Saver interface {
	SaveAsync(session entity.ChatSession)
}

// Feedback receives the auxiliary delivered/failed signals. The controller
// only invokes it when the sound preference allows.
type Feedback interface {
	Delivered(sessionID, messageID string)
	Failed(sessionID, messageID string)
}

// DeliveryListener observes transcript changes: every reveal tick and every
// terminal transition. The websocket hub implements this to push updates to
// the client.
type DeliveryListener interface {
	MessageUpdated(sessionID string, msg entity.Message)
}

// Preferences exposes the flag gating auxiliary feedback.
type Preferences interface {
	SoundEnabled(ctx context.Context, fallback bool) bool
}

// RevealTask is the handle of one running reveal loop. Cancel stops the loop
// before its next tick; Done closes when the loop has fully exited.
type RevealTask struct {
	sessionID string
	cancel    chan struct{}
	done      chan struct{}
	once      sync.Once
}

func (t *RevealTask) Cancel() {
	t.once.Do(func() { close(t.cancel) })
}

func (t *RevealTask) Done() <-chan struct{} {
	return t.done
}

type Controller struct {
	mu      sync.Mutex
	session *entity.ChatSession
	reveal  *RevealTask

	revealTick   time.Duration
	revealMax    time.Duration
	soundDefault bool

	saver    Saver
	feedback Feedback
	listener DeliveryListener
	prefs    Preferences
	logger   logger.ILogger
}

func NewController(
	saver Saver,
	feedback Feedback,
	listener DeliveryListener,
	prefs Preferences,
	revealTick, revealMax time.Duration,
	soundDefault bool,
	log logger.ILogger,
) *Controller {
	if revealTick <= 0 {
		revealTick = 30 * time.Millisecond
	}
	if revealMax <= 0 {
		revealMax = 2 * time.Second
	}
	return &Controller{
		revealTick:   revealTick,
		revealMax:    revealMax,
		soundDefault: soundDefault,
		saver:        saver,
		feedback:     feedback,
		listener:     listener,
		prefs:        prefs,
		logger:       log,
	}
}

// ActivateSession makes the given session the one the controller mutates.
// Any reveal loop still running for a different session is cancelled first,
// so stale ticks cannot leak into the new transcript.
func (c *Controller) ActivateSession(session *entity.ChatSession) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reveal != nil && (session == nil || c.reveal.sessionID != session.Id) {
		c.reveal.Cancel()
		c.reveal = nil
	}
	c.session = session
}

// ActiveSession returns a snapshot of the current session, or nil.
func (c *Controller) ActiveSession() *entity.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	snapshot := *c.session
	snapshot.Messages = append([]entity.Message(nil), c.session.Messages...)
	return &snapshot
}

// ActiveSessionID returns the id of the session currently owned, or "".
func (c *Controller) ActiveSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.Id
}

// AppendUserMessage records the question optimistically as pending, before
// any backend call is made, and persists the transcript.
func (c *Controller) AppendUserMessage(ctx context.Context, content string) *entity.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}

	msg := entity.Message{
		Id:            uuid.NewString(),
		Role:          entity.RoleUser,
		Content:       content,
		CreatedAt:     time.Now(),
		SourceMode:    c.session.Mode,
		DeliveryState: entity.DeliveryPending,
	}
	c.session.Messages = append(c.session.Messages, msg)
	c.saveLocked()
	c.notifyLocked(msg)
	return &msg
}

// MarkUserDelivered flips the user message to delivered once the outbound
// call was handed off. Cosmetic: it does not depend on the backend reply.
func (c *Controller) MarkUserDelivered(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return
	}
	for i := range c.session.Messages {
		msg := &c.session.Messages[i]
		if msg.Id == messageID && msg.DeliveryState == entity.DeliveryPending {
			msg.DeliveryState = entity.DeliveryDelivered
			c.notifyLocked(*msg)
			return
		}
	}
}

// CompleteWithResult takes the router's normalized result for the given
// session and either starts the incremental reveal of the answer or appends
// a single failed message. It is a no-op when the session is no longer
// active (the reply lost a race against a session switch).
func (c *Controller) CompleteWithResult(ctx context.Context, sessionID string, result router.QueryResult) *RevealTask {
	c.mu.Lock()
	if c.session == nil || c.session.Id != sessionID {
		c.mu.Unlock()
		return nil
	}

	if result.Failed() {
		msg := entity.Message{
			Id:            uuid.NewString(),
			Role:          entity.RoleAssistant,
			Content:       result.Answer,
			CreatedAt:     time.Now(),
			SourceMode:    c.session.Mode,
			DeliveryState: entity.DeliveryFailed,
		}
		c.session.Messages = append(c.session.Messages, msg)
		c.saveLocked()
		c.notifyLocked(msg)
		c.mu.Unlock()

		c.signalTerminal(ctx, sessionID, msg.Id, false)
		return nil
	}

	if result.ContinuationToken != "" {
		c.session.ContinuationToken = result.ContinuationToken
	}

	msg := entity.Message{
		Id:            uuid.NewString(),
		Role:          entity.RoleAssistant,
		Content:       "",
		CreatedAt:     time.Now(),
		SourceMode:    c.session.Mode,
		DeliveryState: entity.DeliveryDelivering,
		Sources:       result.Sources,
	}
	c.session.Messages = append(c.session.Messages, msg)
	c.notifyLocked(msg)

	task := &RevealTask{
		sessionID: sessionID,
		cancel:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	if c.reveal != nil {
		c.reveal.Cancel()
	}
	c.reveal = task
	c.mu.Unlock()

	go c.runReveal(ctx, task, msg.Id, result.Answer)
	return task
}

// CancelActiveReveal stops any running reveal loop; used on unmount and on
// explicit new-conversation.
func (c *Controller) CancelActiveReveal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reveal != nil {
		c.reveal.Cancel()
		c.reveal = nil
	}
}

// runReveal grows the assistant message by fixed prefix steps until the full
// answer is visible, then marks it delivered. Every tick re-checks that the
// task's session is still the active one; the loop exits without writing
// when it is not.
func (c *Controller) runReveal(ctx context.Context, task *RevealTask, messageID, answer string) {
	defer close(task.done)

	runes := []rune(answer)
	step := revealStep(len(runes), c.revealTick, c.revealMax)

	ticker := time.NewTicker(c.revealTick)
	defer ticker.Stop()

	shown := 0
	for shown < len(runes) {
		select {
		case <-task.cancel:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		shown += step
		if shown > len(runes) {
			shown = len(runes)
		}

		if !c.growMessage(task.sessionID, messageID, string(runes[:shown])) {
			// Session switched away mid-reveal; stop without touching it.
			return
		}
	}

	if delivered := c.finishMessage(task.sessionID, messageID, answer); delivered {
		c.signalTerminal(ctx, task.sessionID, messageID, true)
	}
}

// growMessage applies one prefix increment. Returns false when the session
// is no longer active or the message already reached a terminal state.
func (c *Controller) growMessage(sessionID, messageID, content string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.Id != sessionID {
		return false
	}
	for i := range c.session.Messages {
		msg := &c.session.Messages[i]
		if msg.Id != messageID {
			continue
		}
		if msg.DeliveryState != entity.DeliveryDelivering {
			return false
		}
		msg.Content = content
		c.notifyLocked(*msg)
		return true
	}
	return false
}

func (c *Controller) finishMessage(sessionID, messageID, answer string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.Id != sessionID {
		return false
	}
	for i := range c.session.Messages {
		msg := &c.session.Messages[i]
		if msg.Id != messageID {
			continue
		}
		if msg.DeliveryState != entity.DeliveryDelivering {
			return false
		}
		msg.Content = answer
		msg.DeliveryState = entity.DeliveryDelivered
		c.saveLocked()
		c.notifyLocked(*msg)
		return true
	}
	return false
}

func (c *Controller) signalTerminal(ctx context.Context, sessionID, messageID string, delivered bool) {
	if c.feedback == nil {
		return
	}
	if c.prefs != nil && !c.prefs.SoundEnabled(ctx, c.soundDefault) {
		return
	}
	if delivered {
		c.feedback.Delivered(sessionID, messageID)
	} else {
		c.feedback.Failed(sessionID, messageID)
	}
}

// saveLocked hands a snapshot to the saver. Caller holds the mutex.
func (c *Controller) saveLocked() {
	if c.saver == nil || c.session == nil {
		return
	}
	snapshot := *c.session
	snapshot.Messages = append([]entity.Message(nil), c.session.Messages...)
	c.saver.SaveAsync(snapshot)
}

func (c *Controller) notifyLocked(msg entity.Message) {
	if c.listener == nil || c.session == nil {
		return
	}
	c.listener.MessageUpdated(c.session.Id, msg)
}

// revealStep sizes the prefix increment so the whole answer is shown within
// the bounded reveal duration at the configured tick rate.
func revealStep(total int, tick, max time.Duration) int {
	if total == 0 {
		return 1
	}
	ticks := int(max / tick)
	if ticks <= 0 {
		ticks = 1
	}
	step := (total + ticks - 1) / ticks
	if step < 1 {
		step = 1
	}
	return step
}
