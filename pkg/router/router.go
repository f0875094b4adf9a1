// Package router dispatches a user question to one of three structurally
// different backends and normalizes whatever comes back into a single
// QueryResult. Raw per-backend reply shapes never leak past this package.
//
// The router is stateless. Overlapping sends are not cancelled; both
// complete and the transcript takes them in completion order.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"meddoc-assistant-be/internal/entity"
	"meddoc-assistant-be/internal/pkg/logger"
	"meddoc-assistant-be/pkg/apperr"
	"meddoc-assistant-be/pkg/morphik"
)

// QueryContext carries the client/document selection scoping a question,
// plus the continuation token of the session when the external backend is in
// play. Passed explicitly; the router holds no ambient state.
type QueryContext struct {
	ClientID          string
	DocumentID        string
	ContinuationToken string
}

// QueryResult is the normalized reply regardless of backend. On failure,
// Error is set and Answer holds the user-facing explanation; the router
// never returns a Go error for a backend failure.
type QueryResult struct {
	Answer  string              `json:"answer"`
	Sources []entity.SourceRef  `json:"sources,omitempty"`
	Error   *apperr.Descriptor  `json:"error,omitempty"`
	// Fresh continuation token from the external backend. Session-scoped:
	// the caller stores it on the session, not on the message.
	ContinuationToken string `json:"continuation_token,omitempty"`
}

// Failed reports whether the result carries a classified failure.
func (r QueryResult) Failed() bool {
	return r.Error != nil
}

// Raw reply shapes, one per backend.

type uploadedReply struct {
	Answer  string       `json:"answer"`
	Sources []flexSource `json:"sources"`
}

type databaseReply struct {
	Response string       `json:"response"`
	Sources  []flexSource `json:"sources"`
	Error    string       `json:"error"`
	Message  string       `json:"message"`
	Code     string       `json:"code"`
}

// flexSource accepts either a bare string or a structured source object;
// the backends are not consistent about which they send.
type flexSource struct {
	entity.SourceRef
}

func (f *flexSource) UnmarshalJSON(data []byte) error {
	var title string
	if err := json.Unmarshal(data, &title); err == nil {
		f.SourceRef = entity.SourceRef{Title: title}
		return nil
	}
	var obj struct {
		Id             string  `json:"id"`
		Source         string  `json:"source"`
		Title          string  `json:"title"`
		Content        string  `json:"content"`
		RelevanceScore float64 `json:"relevance_score"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	title = obj.Title
	if title == "" {
		title = obj.Source
	}
	f.SourceRef = entity.SourceRef{
		Id:             obj.Id,
		Title:          title,
		Content:        obj.Content,
		RelevanceScore: obj.RelevanceScore,
	}
	return nil
}

type Router struct {
	ragBaseURL    string
	recordBaseURL string
	morphik       *morphik.Client
	client        *http.Client
	logger        logger.ILogger
}

func New(ragBaseURL, recordBaseURL string, morphikClient *morphik.Client, timeout time.Duration, log logger.ILogger) *Router {
	return &Router{
		ragBaseURL:    ragBaseURL,
		recordBaseURL: recordBaseURL,
		morphik:       morphikClient,
		client:        &http.Client{Timeout: timeout},
		logger:        log,
	}
}

// Send builds the request shape for the mode, dispatches it, and normalizes
// the reply.
func (r *Router) Send(ctx context.Context, question string, mode entity.DocumentSourceMode, qctx QueryContext) QueryResult {
	r.logger.Debug("Router", "Dispatching question", map[string]interface{}{
		"mode":      string(mode),
		"client_id": qctx.ClientID,
	})

	switch mode {
	case entity.ModeUploaded:
		return r.sendUploaded(ctx, question, qctx)
	case entity.ModeDatabase:
		return r.sendDatabase(ctx, question, qctx)
	case entity.ModeExternal:
		return r.sendExternal(ctx, question, qctx)
	default:
		return failureResult(apperr.New(apperr.KindConfig, "unknown mode: "+string(mode)))
	}
}

// sendUploaded queries the document-search backend over the uploaded
// document corpus.
func (r *Router) sendUploaded(ctx context.Context, question string, qctx QueryContext) QueryResult {
	payload := map[string]interface{}{
		"question":    question,
		"document_id": nullable(qctx.DocumentID),
		"client_id":   nullable(qctx.ClientID),
	}

	body, status, err := r.post(ctx, r.ragBaseURL+"/rag/chat", payload)
	if err != nil {
		return failureResult(apperr.Classify(err))
	}

	var reply uploadedReply
	if status < 200 || status >= 300 {
		return failureResult(apperr.ClassifyStatus(status, string(body), ""))
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return failureResult(apperr.New(apperr.KindAPI, "malformed reply: "+err.Error()).WithStatus(status))
	}

	answer := reply.Answer
	if answer == "" {
		answer = "Ik kon geen relevante informatie vinden voor uw vraag."
	}
	return QueryResult{Answer: answer, Sources: unwrapSources(reply.Sources)}
}

// sendDatabase queries the structured-record backend. Its non-2xx replies
// carry {error, message} used for classification.
func (r *Router) sendDatabase(ctx context.Context, question string, qctx QueryContext) QueryResult {
	payload := map[string]interface{}{
		"query":    question,
		"clientId": nullable(qctx.ClientID),
	}

	body, status, err := r.post(ctx, r.recordBaseURL+"/api/mcp/chatbot.query", payload)
	if err != nil {
		return failureResult(apperr.Classify(err))
	}

	var reply databaseReply
	if err := json.Unmarshal(body, &reply); err != nil && status >= 200 && status < 300 {
		return failureResult(apperr.New(apperr.KindAPI, "malformed reply: "+err.Error()).WithStatus(status))
	}

	if status < 200 || status >= 300 {
		errField := reply.Error
		if errField == "" {
			errField = reply.Message
		}
		return failureResult(apperr.ClassifyStatus(status, errField, reply.Code))
	}

	answer := reply.Response
	if answer == "" {
		answer = "Ik kon geen relevante informatie vinden in de database."
	}
	return QueryResult{Answer: answer, Sources: unwrapSources(reply.Sources)}
}

// sendExternal delegates to the Morphik client, forwarding the continuation
// token so multi-turn context is preserved server-side, and hands the fresh
// token back to the caller.
func (r *Router) sendExternal(ctx context.Context, question string, qctx QueryContext) QueryResult {
	result, err := r.morphik.Query(ctx, question, qctx.ClientID, qctx.ContinuationToken)
	if err != nil {
		return failureResult(apperr.Classify(err))
	}

	answer := result.Response
	if answer == "" {
		answer = "Ik kon geen relevante informatie vinden voor uw vraag."
	}
	return QueryResult{
		Answer:            answer,
		Sources:           result.Sources,
		ContinuationToken: result.ChatID,
	}
}

func (r *Router) post(ctx context.Context, url string, payload interface{}) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func failureResult(d *apperr.Descriptor) QueryResult {
	return QueryResult{Answer: d.UserMessage(), Error: d}
}

func unwrapSources(raw []flexSource) []entity.SourceRef {
	if len(raw) == 0 {
		return nil
	}
	sources := make([]entity.SourceRef, len(raw))
	for i, src := range raw {
		sources[i] = src.SourceRef
	}
	return sources
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
