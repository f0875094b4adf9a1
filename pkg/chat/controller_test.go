package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"meddoc-assistant-be/internal/entity"
	"meddoc-assistant-be/pkg/apperr"
	"meddoc-assistant-be/pkg/router"
)

type nopLogger struct{}

func (nopLogger) Debug(module, message string, details map[string]interface{}) {}
func (nopLogger) Info(module, message string, details map[string]interface{})  {}
func (nopLogger) Warn(module, message string, details map[string]interface{})  {}
func (nopLogger) Error(module, message string, details map[string]interface{}) {}
func (nopLogger) Sync() error                                                  { return nil }

type recordingSaver struct {
	mu    sync.Mutex
	saves []entity.ChatSession
}

func (s *recordingSaver) SaveAsync(session entity.ChatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, session)
}

func (s *recordingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

type recordingFeedback struct {
	mu        sync.Mutex
	delivered []string
	failed    []string
}

func (f *recordingFeedback) Delivered(sessionID, messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, messageID)
}

func (f *recordingFeedback) Failed(sessionID, messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, messageID)
}

type recordingListener struct {
	mu      sync.Mutex
	updates []entity.Message
}

func (l *recordingListener) MessageUpdated(sessionID string, msg entity.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, msg)
}

func (l *recordingListener) countFor(messageID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, u := range l.updates {
		if u.Id == messageID {
			n++
		}
	}
	return n
}

type fixedPrefs struct{ enabled bool }

func (p fixedPrefs) SoundEnabled(ctx context.Context, fallback bool) bool { return p.enabled }

func newTestController(saver *recordingSaver, feedback *recordingFeedback, listener *recordingListener, sound bool) *Controller {
	return NewController(saver, feedback, listener, fixedPrefs{enabled: sound},
		5*time.Millisecond, 50*time.Millisecond, true, nopLogger{})
}

func testSession(id string) *entity.ChatSession {
	return &entity.ChatSession{
		Id:        id,
		Mode:      entity.ModeDatabase,
		CreatedAt: time.Now(),
	}
}

func TestAppendUserMessageLifecycle(t *testing.T) {
	saver := &recordingSaver{}
	listener := &recordingListener{}
	c := newTestController(saver, &recordingFeedback{}, listener, true)
	c.ActivateSession(testSession("database:c1:base"))

	msg := c.AppendUserMessage(context.Background(), "Hoeveel documenten?")
	if msg == nil {
		t.Fatal("AppendUserMessage returned nil with an active session")
	}
	if msg.DeliveryState != entity.DeliveryPending {
		t.Errorf("initial state = %s, want pending", msg.DeliveryState)
	}
	if msg.Role != entity.RoleUser {
		t.Errorf("role = %s, want user", msg.Role)
	}
	if saver.count() != 1 {
		t.Errorf("saves = %d, want 1 (persist before the backend call)", saver.count())
	}

	c.MarkUserDelivered(msg.Id)
	snapshot := c.ActiveSession()
	if got := snapshot.Messages[0].DeliveryState; got != entity.DeliveryDelivered {
		t.Errorf("state after MarkUserDelivered = %s, want delivered", got)
	}
}

func TestAppendUserMessageWithoutSession(t *testing.T) {
	c := newTestController(&recordingSaver{}, &recordingFeedback{}, &recordingListener{}, true)
	if msg := c.AppendUserMessage(context.Background(), "vraag"); msg != nil {
		t.Errorf("AppendUserMessage without session = %+v, want nil", msg)
	}
}

func TestCompleteWithResultReveal(t *testing.T) {
	saver := &recordingSaver{}
	feedback := &recordingFeedback{}
	listener := &recordingListener{}
	c := newTestController(saver, feedback, listener, true)
	c.ActivateSession(testSession("database:c1:base"))

	answer := "Er zijn 3 documenten gevonden voor deze cliënt."
	task := c.CompleteWithResult(context.Background(), "database:c1:base", router.QueryResult{Answer: answer})
	if task == nil {
		t.Fatal("CompleteWithResult returned nil task for a success result")
	}

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reveal did not finish")
	}

	snapshot := c.ActiveSession()
	last := snapshot.Messages[len(snapshot.Messages)-1]
	if last.Content != answer {
		t.Errorf("final content = %q, want full answer", last.Content)
	}
	if last.DeliveryState != entity.DeliveryDelivered {
		t.Errorf("final state = %s, want delivered", last.DeliveryState)
	}
	if listener.countFor(last.Id) < 2 {
		t.Errorf("listener saw %d updates, want at least initial + final", listener.countFor(last.Id))
	}
	if len(feedback.delivered) != 1 {
		t.Errorf("delivered signals = %d, want 1", len(feedback.delivered))
	}
	if saver.count() == 0 {
		t.Error("transcript never persisted after delivery")
	}
}

func TestCompleteWithResultFailure(t *testing.T) {
	feedback := &recordingFeedback{}
	c := newTestController(&recordingSaver{}, feedback, &recordingListener{}, true)
	c.ActivateSession(testSession("database:c1:base"))

	desc := apperr.New(apperr.KindNetwork, "refused")
	task := c.CompleteWithResult(context.Background(), "database:c1:base", router.QueryResult{
		Answer: desc.UserMessage(),
		Error:  desc,
	})
	if task != nil {
		t.Error("failure result must not start a reveal")
	}

	snapshot := c.ActiveSession()
	last := snapshot.Messages[len(snapshot.Messages)-1]
	if last.DeliveryState != entity.DeliveryFailed {
		t.Errorf("state = %s, want failed", last.DeliveryState)
	}
	if last.Content != desc.UserMessage() {
		t.Errorf("content = %q, want classified user message", last.Content)
	}
	if len(feedback.failed) != 1 {
		t.Errorf("failed signals = %d, want 1", len(feedback.failed))
	}
}

func TestCompleteWithResultStaleSession(t *testing.T) {
	c := newTestController(&recordingSaver{}, &recordingFeedback{}, &recordingListener{}, true)
	c.ActivateSession(testSession("database:c1:base"))

	if task := c.CompleteWithResult(context.Background(), "database:other:base", router.QueryResult{Answer: "laat"}); task != nil {
		t.Error("result for a non-active session must be dropped")
	}
	if snapshot := c.ActiveSession(); len(snapshot.Messages) != 0 {
		t.Errorf("stale result wrote %d messages into the active session", len(snapshot.Messages))
	}
}

func TestRevealCancelledBySessionSwitch(t *testing.T) {
	listener := &recordingListener{}
	c := NewController(&recordingSaver{}, &recordingFeedback{}, listener, fixedPrefs{enabled: true},
		10*time.Millisecond, 10*time.Second, true, nopLogger{})
	c.ActivateSession(testSession("database:c1:base"))

	task := c.CompleteWithResult(context.Background(), "database:c1:base", router.QueryResult{Answer: strings.Repeat("a", 4000)})
	if task == nil {
		t.Fatal("no reveal task")
	}

	// Let a few ticks land, then switch sessions mid-reveal.
	time.Sleep(30 * time.Millisecond)
	c.ActivateSession(testSession("uploaded:d9:base"))

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reveal loop did not stop after session switch")
	}

	listener.mu.Lock()
	writes := len(listener.updates)
	listener.mu.Unlock()
	time.Sleep(50 * time.Millisecond)

	listener.mu.Lock()
	after := len(listener.updates)
	listener.mu.Unlock()
	if after != writes {
		t.Errorf("updates kept arriving after cancellation: %d -> %d", writes, after)
	}

	// The new session never saw the old answer.
	if snapshot := c.ActiveSession(); len(snapshot.Messages) != 0 {
		t.Errorf("stale reveal wrote %d messages into the new session", len(snapshot.Messages))
	}
}

func TestCancelActiveReveal(t *testing.T) {
	c := NewController(&recordingSaver{}, &recordingFeedback{}, &recordingListener{}, fixedPrefs{enabled: true},
		10*time.Millisecond, 10*time.Second, true, nopLogger{})
	c.ActivateSession(testSession("database:c1:base"))

	task := c.CompleteWithResult(context.Background(), "database:c1:base", router.QueryResult{Answer: strings.Repeat("b", 4000)})
	if task == nil {
		t.Fatal("no reveal task")
	}

	c.CancelActiveReveal()

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reveal loop did not stop after explicit cancel")
	}

	snapshot := c.ActiveSession()
	last := snapshot.Messages[len(snapshot.Messages)-1]
	if last.DeliveryState == entity.DeliveryDelivered {
		t.Error("cancelled reveal still reached delivered")
	}
}

func TestContinuationTokenStoredOnSession(t *testing.T) {
	c := newTestController(&recordingSaver{}, &recordingFeedback{}, &recordingListener{}, true)
	c.ActivateSession(testSession("external:c1:base"))

	task := c.CompleteWithResult(context.Background(), "external:c1:base", router.QueryResult{
		Answer:            "antwoord",
		ContinuationToken: "chat-7",
	})
	<-task.Done()

	if got := c.ActiveSession().ContinuationToken; got != "chat-7" {
		t.Errorf("ContinuationToken = %q, want chat-7", got)
	}
}

func TestFeedbackGatedBySoundPreference(t *testing.T) {
	feedback := &recordingFeedback{}
	c := newTestController(&recordingSaver{}, feedback, &recordingListener{}, false)
	c.ActivateSession(testSession("database:c1:base"))

	task := c.CompleteWithResult(context.Background(), "database:c1:base", router.QueryResult{Answer: "stil antwoord"})
	<-task.Done()

	if len(feedback.delivered) != 0 {
		t.Errorf("feedback fired %d times with sound disabled", len(feedback.delivered))
	}

	// The message itself still completes normally.
	snapshot := c.ActiveSession()
	last := snapshot.Messages[len(snapshot.Messages)-1]
	if last.DeliveryState != entity.DeliveryDelivered {
		t.Errorf("state = %s, want delivered", last.DeliveryState)
	}
}

func TestRevealStepBoundsDuration(t *testing.T) {
	tests := []struct {
		name  string
		total int
		want  int
	}{
		{name: "empty answer", total: 0, want: 1},
		{name: "short answer", total: 5, want: 1},
		{name: "long answer", total: 1000, want: 10},
	}
	tick := 10 * time.Millisecond
	max := 1 * time.Second

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := revealStep(tt.total, tick, max); got != tt.want {
				t.Errorf("revealStep(%d) = %d, want %d", tt.total, got, tt.want)
			}
		})
	}
}
