// Package prober checks reachability of the three answer backends. A probe
// never fails: every outcome, including transport errors and malformed
// replies, is folded into a ServiceStatus with a classified error.
package prober

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"meddoc-assistant-be/internal/entity"
	"meddoc-assistant-be/internal/pkg/logger"
	"meddoc-assistant-be/pkg/apperr"

	"github.com/patrickmn/go-cache"
)

// ServiceStatus is the last-known reachability of one backend. Held in
// memory only; callers treat it as advisory and may still attempt a query
// against an unavailable backend.
type ServiceStatus struct {
	Backend      entity.DocumentSourceMode `json:"backend"`
	Available    bool                      `json:"available"`
	Error        *apperr.Descriptor        `json:"error,omitempty"`
	CheckedAt    time.Time                 `json:"checked_at"`
	ResponseTime time.Duration             `json:"response_time_ms"`
}

type healthPayload struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type Prober struct {
	client    *http.Client
	endpoints map[entity.DocumentSourceMode]string
	statuses  *cache.Cache
	logger    logger.ILogger
}

// New builds a prober over the three health endpoints. The Morphik check goes
// through its backend proxy, which reports configuration problems in the
// error payload rather than as a status code.
func New(ragBaseURL, recordBaseURL, morphikBaseURL string, timeout time.Duration, log logger.ILogger) *Prober {
	return &Prober{
		client: &http.Client{Timeout: timeout},
		endpoints: map[entity.DocumentSourceMode]string{
			entity.ModeUploaded: ragBaseURL + "/health",
			entity.ModeDatabase: recordBaseURL + "/health",
			entity.ModeExternal: morphikBaseURL + "/api/morphik/health",
		},
		statuses: cache.New(1*time.Hour, 10*time.Minute),
		logger:   log,
	}
}

// Probe checks one backend and caches the result. It always returns a
// status, never an error.
func (p *Prober) Probe(ctx context.Context, backend entity.DocumentSourceMode) ServiceStatus {
	status := p.probe(ctx, backend)
	p.statuses.Set(string(backend), status, cache.DefaultExpiration)

	if !status.Available && status.Error != nil {
		p.logger.Warn("Prober", "Backend unavailable", map[string]interface{}{
			"backend": string(backend),
			"kind":    string(status.Error.Kind),
			"details": status.Error.Details,
		})
	}
	return status
}

// ProbeAll checks every backend sequentially and returns the statuses keyed
// by mode.
func (p *Prober) ProbeAll(ctx context.Context) map[entity.DocumentSourceMode]ServiceStatus {
	result := make(map[entity.DocumentSourceMode]ServiceStatus, len(p.endpoints))
	for backend := range p.endpoints {
		result[backend] = p.Probe(ctx, backend)
	}
	return result
}

// LastKnown returns the cached status from the most recent probe, if any.
func (p *Prober) LastKnown(backend entity.DocumentSourceMode) (ServiceStatus, bool) {
	if x, found := p.statuses.Get(string(backend)); found {
		return x.(ServiceStatus), true
	}
	return ServiceStatus{}, false
}

func (p *Prober) probe(ctx context.Context, backend entity.DocumentSourceMode) ServiceStatus {
	start := time.Now()
	status := ServiceStatus{Backend: backend, CheckedAt: start}

	endpoint, ok := p.endpoints[backend]
	if !ok {
		status.Error = apperr.New(apperr.KindConfig, "unknown backend: "+string(backend))
		return status
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		status.Error = apperr.Classify(err)
		return status
	}

	resp, err := p.client.Do(req)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.Error = apperr.Classify(err)
		return status
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload healthPayload
	_ = json.Unmarshal(body, &payload)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errField := payload.Error
		if errField == "" {
			errField = payload.Message
		}
		status.Error = apperr.ClassifyStatus(resp.StatusCode, errField, payload.Code)
		return status
	}

	// A 2xx with an explicit unhealthy body still counts as unavailable.
	if payload.Status != "" && payload.Status != "healthy" && payload.Status != "ok" {
		status.Error = apperr.New(apperr.KindAPI, "health status: "+payload.Status).WithStatus(resp.StatusCode)
		return status
	}

	status.Available = true
	return status
}
