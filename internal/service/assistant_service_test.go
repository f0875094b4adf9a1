package service

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"meddoc-assistant-be/internal/dto"
	"meddoc-assistant-be/internal/entity"
	"meddoc-assistant-be/pkg/apperr"
	"meddoc-assistant-be/pkg/chat"
	"meddoc-assistant-be/pkg/morphik"
	"meddoc-assistant-be/pkg/prober"
	"meddoc-assistant-be/pkg/router"
	"meddoc-assistant-be/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(module, message string, details map[string]interface{}) {}
func (nopLogger) Info(module, message string, details map[string]interface{})  {}
func (nopLogger) Warn(module, message string, details map[string]interface{})  {}
func (nopLogger) Error(module, message string, details map[string]interface{}) {}
func (nopLogger) Sync() error                                                  { return nil }

// syncSaver persists snapshots inline so tests observe the stored state
// without racing the async consumer.
type syncSaver struct {
	store *store.SessionStore
}

func (s *syncSaver) SaveAsync(session entity.ChatSession) {
	s.store.Save(context.Background(), &session)
}

type fixture struct {
	service      IAssistantService
	sessionStore *store.SessionStore
	controller   *chat.Controller
	prober       *prober.Prober
}

func newFixture(t *testing.T, backendURL string) *fixture {
	t.Helper()

	sessionStore := store.NewSessionStore(store.NewMemoryKV(), "test_chat", 5, 0, nopLogger{})
	saver := &syncSaver{store: sessionStore}
	controller := chat.NewController(saver, nil, nil, sessionStore,
		time.Millisecond, 20*time.Millisecond, true, nopLogger{})

	queryRouter := router.New(backendURL, backendURL,
		morphik.NewClient(backendURL, time.Second), time.Second, nopLogger{})
	svcProber := prober.New(backendURL, backendURL, backendURL, time.Second, nopLogger{})

	svc := NewAssistantService(sessionStore, queryRouter, controller, svcProber,
		2, true, rand.New(rand.NewSource(1)), nopLogger{})

	return &fixture{service: svc, sessionStore: sessionStore, controller: controller, prober: svcProber}
}

func databaseBackend(t *testing.T, answer string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/mcp/chatbot.query":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"response": answer,
				"sources":  []string{"dossier"},
			})
		case "/health":
			json.NewEncoder(w).Encode(map[string]interface{}{"status": "healthy"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestSendChatDeliversAnswer(t *testing.T) {
	srv := databaseBackend(t, "3 documenten gevonden voor deze cliënt.")
	defer srv.Close()
	f := newFixture(t, srv.URL)

	res, err := f.service.SendChat(context.Background(), &dto.SendChatRequest{
		Question: "Welke documenten heeft deze cliënt?",
		Mode:     "database",
		ClientId: "c42",
	})
	require.NoError(t, err)

	assert.Equal(t, "database:c42:base", res.SessionId)

	require.NotNil(t, res.Sent)
	assert.Equal(t, entity.RoleUser, res.Sent.Role)
	assert.Equal(t, entity.DeliveryDelivered, res.Sent.DeliveryState)

	require.NotNil(t, res.Reply)
	assert.Equal(t, entity.RoleAssistant, res.Reply.Role)
	assert.Equal(t, entity.DeliveryDelivered, res.Reply.DeliveryState)
	assert.Equal(t, "3 documenten gevonden voor deze cliënt.", res.Reply.Content)
	require.Len(t, res.Reply.Sources, 1)

	// Transcript persisted: welcome + question + answer.
	stored := f.sessionStore.Load(context.Background(), res.SessionId)
	require.NotNil(t, stored)
	assert.Len(t, stored.Messages, 3)
}

func TestSendChatBackendFailure(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:1")

	res, err := f.service.SendChat(context.Background(), &dto.SendChatRequest{
		Question: "Welke documenten heeft deze cliënt?",
		Mode:     "database",
		ClientId: "c42",
	})
	require.NoError(t, err, "a backend failure is a failed message, not a service error")

	require.NotNil(t, res.Reply)
	assert.Equal(t, entity.DeliveryFailed, res.Reply.DeliveryState)
	want := apperr.New(apperr.KindNetwork, "").UserMessage()
	assert.Equal(t, want, res.Reply.Content)

	// The question is still delivered; only the answer failed.
	require.NotNil(t, res.Sent)
	assert.Equal(t, entity.DeliveryDelivered, res.Sent.DeliveryState)
}

// A cached unavailable status is advisory: the dispatch still happens, and
// the outcome is whatever the backend answers now.
func TestSendChatDispatchesDespiteLastKnownUnavailable(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:1")
	ctx := context.Background()

	status := f.prober.Probe(ctx, entity.ModeDatabase)
	require.False(t, status.Available)
	cached, known := f.prober.LastKnown(entity.ModeDatabase)
	require.True(t, known)
	require.False(t, cached.Available)

	res, err := f.service.SendChat(ctx, &dto.SendChatRequest{
		Question: "Welke documenten heeft deze cliënt?",
		Mode:     "database",
		ClientId: "c42",
	})
	require.NoError(t, err)

	// The attempt reached the router: the reply is a failed message with
	// classified copy, not an early rejection.
	require.NotNil(t, res.Reply)
	assert.Equal(t, entity.DeliveryFailed, res.Reply.DeliveryState)
	require.NotNil(t, res.Sent)
	assert.Equal(t, entity.DeliveryDelivered, res.Sent.DeliveryState)
}

func TestSendChatValidation(t *testing.T) {
	srv := databaseBackend(t, "ok")
	defer srv.Close()
	f := newFixture(t, srv.URL)

	_, err := f.service.SendChat(context.Background(), &dto.SendChatRequest{Question: "vraag", Mode: "archief"})
	assert.ErrorContains(t, err, "invalid mode")

	_, err = f.service.SendChat(context.Background(), &dto.SendChatRequest{Question: "   ", Mode: "database"})
	assert.ErrorContains(t, err, "question is required")
}

func TestSendChatResumesImplicitSession(t *testing.T) {
	srv := databaseBackend(t, "antwoord")
	defer srv.Close()
	f := newFixture(t, srv.URL)

	ctx := context.Background()
	first, err := f.service.SendChat(ctx, &dto.SendChatRequest{Question: "eerste vraag", Mode: "database", ClientId: "c42"})
	require.NoError(t, err)
	second, err := f.service.SendChat(ctx, &dto.SendChatRequest{Question: "tweede vraag", Mode: "database", ClientId: "c42"})
	require.NoError(t, err)

	assert.Equal(t, first.SessionId, second.SessionId)

	stored := f.sessionStore.Load(ctx, first.SessionId)
	require.NotNil(t, stored)
	assert.Len(t, stored.Messages, 5) // welcome + 2 exchanges
}

func TestContextSwitchKeepsCommittedSession(t *testing.T) {
	srv := databaseBackend(t, "antwoord")
	defer srv.Close()
	f := newFixture(t, srv.URL)

	ctx := context.Background()
	first, err := f.service.SendChat(ctx, &dto.SendChatRequest{Question: "vraag over A", Mode: "database", ClientId: "clientA"})
	require.NoError(t, err)

	// Switching context after a real exchange leaves the old session intact.
	_, err = f.service.SendChat(ctx, &dto.SendChatRequest{Question: "vraag over B", Mode: "database", ClientId: "clientB"})
	require.NoError(t, err)

	assert.NotNil(t, f.sessionStore.Load(ctx, first.SessionId), "committed session was dropped on context switch")
}

func TestContextSwitchDropsFreshSession(t *testing.T) {
	srv := databaseBackend(t, "antwoord")
	defer srv.Close()
	f := newFixture(t, srv.URL)

	ctx := context.Background()
	fresh, err := f.service.NewConversation(ctx, &dto.NewConversationRequest{Mode: "database", ClientId: "clientA"})
	require.NoError(t, err)
	require.Len(t, fresh.Messages, 1, "new conversation starts with just the welcome")

	// Nothing beyond the welcome was said; changing context silently
	// replaces the session.
	_, err = f.service.SendChat(ctx, &dto.SendChatRequest{Question: "vraag", Mode: "database", ClientId: "clientB"})
	require.NoError(t, err)

	assert.Nil(t, f.sessionStore.Load(ctx, fresh.Id), "fresh session survived the context switch")
}

func TestNewConversationMintsUniqueSessions(t *testing.T) {
	srv := databaseBackend(t, "antwoord")
	defer srv.Close()
	f := newFixture(t, srv.URL)

	ctx := context.Background()
	a, err := f.service.NewConversation(ctx, &dto.NewConversationRequest{Mode: "uploaded", DocumentId: "d1"})
	require.NoError(t, err)
	b, err := f.service.NewConversation(ctx, &dto.NewConversationRequest{Mode: "uploaded", DocumentId: "d1"})
	require.NoError(t, err)

	assert.NotEqual(t, a.Id, b.Id)
	require.Len(t, b.Messages, 1)
	assert.Equal(t, entity.RoleAssistant, b.Messages[0].Role)
	assert.NotEmpty(t, b.Messages[0].Content)
}

func TestChatHistoryAndSessions(t *testing.T) {
	srv := databaseBackend(t, "antwoord")
	defer srv.Close()
	f := newFixture(t, srv.URL)

	ctx := context.Background()
	sent, err := f.service.SendChat(ctx, &dto.SendChatRequest{Question: "vraag", Mode: "database", ClientId: "c42"})
	require.NoError(t, err)

	history, err := f.service.GetChatHistory(ctx, sent.SessionId)
	require.NoError(t, err)
	assert.Equal(t, sent.SessionId, history.Id)
	assert.Len(t, history.Messages, 3)

	_, err = f.service.GetChatHistory(ctx, "database:onbekend:base")
	assert.ErrorContains(t, err, "not found")

	sessions, err := f.service.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, sent.SessionId, sessions[0].Id)
	assert.Equal(t, 3, sessions[0].MessageCount)
	assert.Contains(t, sessions[0].Summary, "vraag")
}

func TestDeleteSessionAndClearHistory(t *testing.T) {
	srv := databaseBackend(t, "antwoord")
	defer srv.Close()
	f := newFixture(t, srv.URL)

	ctx := context.Background()
	sent, err := f.service.SendChat(ctx, &dto.SendChatRequest{Question: "vraag", Mode: "database", ClientId: "c42"})
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteSession(ctx, sent.SessionId))
	assert.Nil(t, f.sessionStore.Load(ctx, sent.SessionId))
	assert.Empty(t, f.controller.ActiveSessionID(), "deleting the active session leaves no active session")

	sent, err = f.service.SendChat(ctx, &dto.SendChatRequest{Question: "vraag", Mode: "database", ClientId: "c43"})
	require.NoError(t, err)
	require.NoError(t, f.service.ClearHistory(ctx))

	sessions, err := f.service.ListSessions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestExportSession(t *testing.T) {
	srv := databaseBackend(t, "Er zijn 3 documenten.")
	defer srv.Close()
	f := newFixture(t, srv.URL)

	ctx := context.Background()
	sent, err := f.service.SendChat(ctx, &dto.SendChatRequest{Question: "Welke documenten heeft deze cliënt?", Mode: "database", ClientId: "c42"})
	require.NoError(t, err)

	transcript, err := f.service.ExportSession(ctx, sent.SessionId)
	require.NoError(t, err)
	assert.Contains(t, transcript, "Welke documenten heeft deze cliënt?")
	assert.Contains(t, transcript, "Er zijn 3 documenten.")

	_, err = f.service.ExportSession(ctx, "database:onbekend:base")
	assert.ErrorContains(t, err, "not found")
}

func TestGetServiceStatus(t *testing.T) {
	srv := databaseBackend(t, "antwoord")
	defer srv.Close()
	f := newFixture(t, srv.URL)

	res, err := f.service.GetServiceStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Statuses, 3)

	// The record backend serves /health; the Morphik proxy path does not
	// exist on this test server, so the external backend reads unavailable.
	assert.True(t, res.Statuses["database"].Available)
	assert.False(t, res.Statuses["external"].Available)
}

func TestSuggestionsAndPreferences(t *testing.T) {
	srv := databaseBackend(t, "antwoord")
	defer srv.Close()
	f := newFixture(t, srv.URL)

	ctx := context.Background()
	sugg, err := f.service.GetSuggestions(ctx, "database", []string{"J. de Vries"})
	require.NoError(t, err)
	assert.NotEmpty(t, sugg.Suggestions)

	_, err = f.service.GetSuggestions(ctx, "archief", nil)
	assert.ErrorContains(t, err, "invalid mode")

	prefs, err := f.service.GetPreferences(ctx)
	require.NoError(t, err)
	assert.True(t, prefs.SoundEnabled)
	assert.False(t, prefs.HasSeenWelcome)

	off := false
	seen := true
	updated, err := f.service.UpdatePreferences(ctx, &dto.UpdatePreferencesRequest{SoundEnabled: &off, HasSeenWelcome: &seen})
	require.NoError(t, err)
	assert.False(t, updated.SoundEnabled)
	assert.True(t, updated.HasSeenWelcome)
}

func TestGetStorageStats(t *testing.T) {
	srv := databaseBackend(t, "antwoord")
	defer srv.Close()
	f := newFixture(t, srv.URL)

	ctx := context.Background()
	_, err := f.service.SendChat(ctx, &dto.SendChatRequest{Question: "vraag", Mode: "database", ClientId: "c42"})
	require.NoError(t, err)

	stats, err := f.service.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalSessions)
	assert.Greater(t, stats.TotalBytes, 0)
}
