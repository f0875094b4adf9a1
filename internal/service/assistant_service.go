package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"meddoc-assistant-be/internal/constant"
	"meddoc-assistant-be/internal/dto"
	"meddoc-assistant-be/internal/entity"
	"meddoc-assistant-be/internal/pkg/logger"
	"meddoc-assistant-be/pkg/chat"
	"meddoc-assistant-be/pkg/prober"
	"meddoc-assistant-be/pkg/router"
	"meddoc-assistant-be/pkg/store"
	"meddoc-assistant-be/pkg/suggest"

	"github.com/google/uuid"
)

// IAssistantService defines the assistant service interface
type IAssistantService interface {
	SendChat(ctx context.Context, request *dto.SendChatRequest) (*dto.SendChatResponse, error)
	GetChatHistory(ctx context.Context, sessionId string) (*dto.ChatHistoryResponse, error)
	ListSessions(ctx context.Context, limit int) ([]*dto.SessionResponse, error)
	NewConversation(ctx context.Context, request *dto.NewConversationRequest) (*dto.ChatHistoryResponse, error)
	DeleteSession(ctx context.Context, sessionId string) error
	ClearHistory(ctx context.Context) error
	ExportSession(ctx context.Context, sessionId string) (string, error)
	GetServiceStatus(ctx context.Context) (*dto.ServiceStatusResponse, error)
	GetSuggestions(ctx context.Context, mode string, knownNames []string) (*dto.SuggestionsResponse, error)
	GetPreferences(ctx context.Context) (*dto.PreferencesResponse, error)
	UpdatePreferences(ctx context.Context, request *dto.UpdatePreferencesRequest) (*dto.PreferencesResponse, error)
	GetStorageStats(ctx context.Context) (*store.StorageStats, error)
}

// assistantService coordinates the session store, the query router, the
// message lifecycle controller and the prober behind one API surface.
type assistantService struct {
	sessionStore *store.SessionStore
	queryRouter  *router.Router
	controller   *chat.Controller
	svcProber    *prober.Prober
	logger       logger.ILogger

	freshThreshold int
	soundDefault   bool

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewAssistantService(
	sessionStore *store.SessionStore,
	queryRouter *router.Router,
	controller *chat.Controller,
	svcProber *prober.Prober,
	freshThreshold int,
	soundDefault bool,
	rng *rand.Rand,
	log logger.ILogger,
) IAssistantService {
	if freshThreshold <= 0 {
		freshThreshold = 2
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &assistantService{
		sessionStore:   sessionStore,
		queryRouter:    queryRouter,
		controller:     controller,
		svcProber:      svcProber,
		freshThreshold: freshThreshold,
		soundDefault:   soundDefault,
		rng:            rng,
		logger:         log,
	}
}

// SendChat records the question, dispatches it to the backend selected by
// the mode, and drives the reply through its delivery lifecycle. The reply
// returned here is the terminal message; incremental delivery is pushed over
// the websocket while the reveal runs.
func (as *assistantService) SendChat(ctx context.Context, request *dto.SendChatRequest) (*dto.SendChatResponse, error) {
	mode := entity.DocumentSourceMode(request.Mode)
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid mode: %s", request.Mode)
	}
	question := strings.TrimSpace(request.Question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}

	contextKey := composeContextKey(request.ClientId, request.DocumentId)
	session := as.ensureSession(ctx, mode, contextKey, false)

	userMsg := as.controller.AppendUserMessage(ctx, question)
	if userMsg == nil {
		return nil, fmt.Errorf("no active session")
	}
	// Outbound call handed off: the user message counts as delivered from
	// here on, regardless of what the backend replies.
	as.controller.MarkUserDelivered(userMsg.Id)

	// Advisory only: the backend may have recovered since the last probe,
	// so the query is still attempted either way.
	if status, known := as.svcProber.LastKnown(mode); known && !status.Available {
		as.logger.Warn("AssistantService", "Dispatching to backend last seen unavailable", map[string]interface{}{
			"backend":    string(mode),
			"checked_at": status.CheckedAt,
		})
	}

	qctx := router.QueryContext{
		ClientID:          request.ClientId,
		DocumentID:        request.DocumentId,
		ContinuationToken: session.ContinuationToken,
	}
	result := as.queryRouter.Send(ctx, question, mode, qctx)

	task := as.controller.CompleteWithResult(ctx, session.Id, result)
	if task != nil {
		select {
		case <-task.Done():
		case <-ctx.Done():
		}
	}

	snapshot := as.controller.ActiveSession()
	if snapshot == nil || snapshot.Id != session.Id {
		// The session was switched away mid-flight; the reply was dropped
		// by the stale-task guard and there is nothing more to report.
		return nil, fmt.Errorf("session no longer active")
	}

	var sent, reply *entity.Message
	for i := range snapshot.Messages {
		msg := snapshot.Messages[i]
		if msg.Id == userMsg.Id {
			sent = &msg
		}
	}
	if n := len(snapshot.Messages); n > 0 {
		last := snapshot.Messages[n-1]
		if last.Role == entity.RoleAssistant {
			reply = &last
		}
	}

	return &dto.SendChatResponse{
		SessionId: snapshot.Id,
		Sent:      sent,
		Reply:     reply,
	}, nil
}

// GetChatHistory returns the transcript of one session, preferring the live
// copy when the session is the active one.
func (as *assistantService) GetChatHistory(ctx context.Context, sessionId string) (*dto.ChatHistoryResponse, error) {
	session := as.controller.ActiveSession()
	if session == nil || session.Id != sessionId {
		session = as.sessionStore.Load(ctx, sessionId)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found")
	}
	return &dto.ChatHistoryResponse{
		Id:       session.Id,
		Mode:     string(session.Mode),
		Messages: session.Messages,
	}, nil
}

// ListSessions returns the recent-session index, newest first.
func (as *assistantService) ListSessions(ctx context.Context, limit int) ([]*dto.SessionResponse, error) {
	sessions := as.sessionStore.ListRecent(ctx, limit)

	response := make([]*dto.SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		response = append(response, &dto.SessionResponse{
			Id:           s.Id,
			Mode:         string(s.Mode),
			ContextKey:   s.ContextKey,
			Summary:      s.Summary(),
			MessageCount: len(s.Messages),
			LastUpdated:  s.LastUpdated,
		})
	}
	return response, nil
}

// NewConversation always mints a fresh session id, cancelling any reveal
// still running for the previous session.
func (as *assistantService) NewConversation(ctx context.Context, request *dto.NewConversationRequest) (*dto.ChatHistoryResponse, error) {
	mode := entity.DocumentSourceMode(request.Mode)
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid mode: %s", request.Mode)
	}

	as.controller.CancelActiveReveal()

	contextKey := composeContextKey(request.ClientId, request.DocumentId)
	session := as.ensureSession(ctx, mode, contextKey, true)

	return &dto.ChatHistoryResponse{
		Id:       session.Id,
		Mode:     string(session.Mode),
		Messages: session.Messages,
	}, nil
}

// DeleteSession removes one session. When it was the active one the caller
// must start a new conversation next.
func (as *assistantService) DeleteSession(ctx context.Context, sessionId string) error {
	if as.controller.ActiveSessionID() == sessionId {
		as.controller.CancelActiveReveal()
		as.controller.ActivateSession(nil)
	}
	as.sessionStore.Remove(ctx, sessionId)
	return nil
}

// ClearHistory wipes every session and preference the subsystem owns.
func (as *assistantService) ClearHistory(ctx context.Context) error {
	as.controller.CancelActiveReveal()
	as.controller.ActivateSession(nil)
	as.sessionStore.ClearAll(ctx)
	return nil
}

// ExportSession renders one transcript as plain text.
func (as *assistantService) ExportSession(ctx context.Context, sessionId string) (string, error) {
	session := as.controller.ActiveSession()
	if session == nil || session.Id != sessionId {
		session = as.sessionStore.Load(ctx, sessionId)
	}
	if session == nil {
		return "", fmt.Errorf("session not found")
	}
	return session.Export(), nil
}

// GetServiceStatus probes all three backends.
func (as *assistantService) GetServiceStatus(ctx context.Context) (*dto.ServiceStatusResponse, error) {
	statuses := as.svcProber.ProbeAll(ctx)

	response := &dto.ServiceStatusResponse{
		Statuses: make(map[string]prober.ServiceStatus, len(statuses)),
	}
	for backend, status := range statuses {
		response.Statuses[string(backend)] = status
	}
	return response, nil
}

// GetSuggestions derives prompt shortcuts for the mode.
func (as *assistantService) GetSuggestions(ctx context.Context, mode string, knownNames []string) (*dto.SuggestionsResponse, error) {
	m := entity.DocumentSourceMode(mode)
	if !m.Valid() {
		return nil, fmt.Errorf("invalid mode: %s", mode)
	}

	as.rngMu.Lock()
	suggestions := suggest.Suggestions(m, knownNames, as.rng)
	as.rngMu.Unlock()

	return &dto.SuggestionsResponse{Mode: mode, Suggestions: suggestions}, nil
}

func (as *assistantService) GetPreferences(ctx context.Context) (*dto.PreferencesResponse, error) {
	return &dto.PreferencesResponse{
		SoundEnabled:   as.sessionStore.SoundEnabled(ctx, as.soundDefault),
		HasSeenWelcome: as.sessionStore.HasSeenWelcome(ctx),
	}, nil
}

func (as *assistantService) UpdatePreferences(ctx context.Context, request *dto.UpdatePreferencesRequest) (*dto.PreferencesResponse, error) {
	if request.SoundEnabled != nil {
		as.sessionStore.SetSoundEnabled(ctx, *request.SoundEnabled)
	}
	if request.HasSeenWelcome != nil {
		as.sessionStore.SetHasSeenWelcome(ctx, *request.HasSeenWelcome)
	}
	return as.GetPreferences(ctx)
}

func (as *assistantService) GetStorageStats(ctx context.Context) (*store.StorageStats, error) {
	stats := as.sessionStore.Stats(ctx)
	return &stats, nil
}

// ensureSession makes the session for (mode, contextKey) the active one.
//
// Freshness rule: when the context changes while the active session holds
// nothing beyond the welcome message, that session is silently replaced. A
// committed session (>= threshold messages) stays in the store and the
// recent index; only the controller moves on.
func (as *assistantService) ensureSession(ctx context.Context, mode entity.DocumentSourceMode, contextKey string, forceNew bool) *entity.ChatSession {
	active := as.controller.ActiveSession()
	if !forceNew && active != nil && active.Mode == mode && active.ContextKey == contextKey {
		return active
	}

	if active != nil && active.Fresh(as.freshThreshold) && active.Id != store.ComputeSessionID(mode, contextKey) {
		// Nothing worth keeping: drop the pending session so it never
		// clutters the recent index.
		as.sessionStore.Remove(ctx, active.Id)
	}

	var session *entity.ChatSession
	if forceNew {
		session = as.newSession(store.MintSessionID(mode, contextKey), mode, contextKey, welcomeFor(mode))
		as.sessionStore.Save(ctx, session)
	} else {
		id := store.ComputeSessionID(mode, contextKey)
		session = as.sessionStore.Load(ctx, id)
		if session == nil {
			session = as.newSession(id, mode, contextKey, constant.WelcomeMessage)
		}
	}

	as.controller.ActivateSession(session)
	as.logger.Info("AssistantService", "Session activated", map[string]interface{}{
		"session_id": session.Id,
		"mode":       string(mode),
		"messages":   len(session.Messages),
	})
	return session
}

func (as *assistantService) newSession(id string, mode entity.DocumentSourceMode, contextKey, welcome string) *entity.ChatSession {
	now := time.Now()
	return &entity.ChatSession{
		Id:         id,
		Mode:       mode,
		ContextKey: contextKey,
		CreatedAt:  now,
		Messages: []entity.Message{{
			Id:            uuid.NewString(),
			Role:          entity.RoleAssistant,
			Content:       welcome,
			CreatedAt:     now,
			SourceMode:    mode,
			DeliveryState: entity.DeliveryDelivered,
		}},
	}
}

func welcomeFor(mode entity.DocumentSourceMode) string {
	switch mode {
	case entity.ModeUploaded:
		return constant.WelcomeMessageUploaded
	case entity.ModeDatabase:
		return constant.WelcomeMessageDatabase
	case entity.ModeExternal:
		return constant.WelcomeMessageExternal
	default:
		return constant.WelcomeMessage
	}
}

// composeContextKey encodes the client/document selection that scopes a
// session's identity.
func composeContextKey(clientId, documentId string) string {
	switch {
	case clientId != "" && documentId != "":
		return clientId + ":" + documentId
	case clientId != "":
		return clientId
	case documentId != "":
		return documentId
	default:
		return ""
	}
}
