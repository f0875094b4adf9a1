// Package morphik is the client for the external Morphik assistant, reached
// through its backend proxy. Morphik keeps multi-turn context server-side
// behind an opaque continuation token (chat id): the caller forwards the
// token it got from the previous turn and stores the one returned here
// against the session.
package morphik

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"meddoc-assistant-be/internal/entity"
	"meddoc-assistant-be/pkg/apperr"
)

// QueryRequest is the payload for the agent query endpoint.
type QueryRequest struct {
	Query       string  `json:"query"`
	Folder      string  `json:"folder,omitempty"`
	ChatID      string  `json:"chatId,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
}

// QueryResult is a successful Morphik reply.
type QueryResult struct {
	Response string
	ChatID   string
	Sources  []entity.SourceRef
}

type queryPayload struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	ChatID   string `json:"chatId"`
	Sources  []struct {
		DocumentID     string  `json:"documentId"`
		Title          string  `json:"title"`
		Content        string  `json:"content"`
		RelevanceScore float64 `json:"relevanceScore"`
	} `json:"sources"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Query sends one question. clientID scopes the search to that client's
// document folder; chatID, when non-empty, resumes the server-side
// conversation. Failures come back as classified *apperr.Descriptor values.
func (c *Client) Query(ctx context.Context, question, clientID, chatID string) (*QueryResult, error) {
	reqBody := QueryRequest{
		Query:       question,
		ChatID:      chatID,
		Temperature: 0.7,
		MaxTokens:   1000,
	}
	if clientID != "" {
		reqBody.Folder = folderName(clientID)
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperr.New(apperr.KindAPI, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/morphik/query", bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Classify(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.Classify(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var payload queryPayload
	_ = json.Unmarshal(body, &payload)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errField := payload.Error
		if errField == "" {
			errField = payload.Message
		}
		return nil, apperr.ClassifyStatus(resp.StatusCode, errField, payload.Code)
	}
	if !payload.Success && payload.Error != "" {
		return nil, apperr.ClassifyStatus(resp.StatusCode, payload.Error, payload.Code)
	}

	result := &QueryResult{
		Response: payload.Response,
		ChatID:   payload.ChatID,
	}
	for _, src := range payload.Sources {
		result.Sources = append(result.Sources, entity.SourceRef{
			Id:             src.DocumentID,
			Title:          src.Title,
			Content:        src.Content,
			RelevanceScore: src.RelevanceScore,
		})
	}
	return result, nil
}

// folderName mirrors the folder layout the document sync uses on the Morphik
// side: one folder per client.
func folderName(clientID string) string {
	return fmt.Sprintf("client-%s", clientID)
}
