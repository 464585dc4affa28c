package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/Strob0t/ForgeBot/internal/adapter/litellm"
	"github.com/Strob0t/ForgeBot/internal/domain/build"
	"github.com/Strob0t/ForgeBot/internal/domain/routing"
	"github.com/Strob0t/ForgeBot/internal/resilience"
	"github.com/Strob0t/ForgeBot/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// RequestHandler serves a user request end to end.
type RequestHandler interface {
	Handle(ctx context.Context, req service.Request) (*service.Reply, error)
	Route(msg string, recentFiles []string) routing.Plan
}

// BuildLogReader reads the per-build stage log.
type BuildLogReader interface {
	List(ctx context.Context, buildID string) ([]build.Record, error)
}

// IssueReader supplies the rolling summary of recent issue codes.
type IssueReader interface {
	RecentIssues(ctx context.Context) ([]build.IssueCount, error)
}

// ModelSelector reads and changes the default model.
type ModelSelector interface {
	Current() string
	SwitchModel(ctx context.Context, name string) error
}

// HealthChecker reports the model proxy's endpoint health.
type HealthChecker interface {
	HealthDetailed(ctx context.Context) (*litellm.HealthReport, error)
}

// BreakerReader exposes the model provider's circuit breaker position.
type BreakerReader interface {
	State() resilience.State
}

// Handlers holds the services behind the REST API. Requests is required;
// nil optional services make their endpoints answer 503.
type Handlers struct {
	Requests RequestHandler
	BuildLog BuildLogReader
	Issues   IssueReader
	Models   ModelSelector
	Health   HealthChecker
	Breaker  BreakerReader
}

// HandleRequest handles POST /api/v1/requests.
func (h *Handlers) HandleRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.Request](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, strings.TrimSpace(req.Message), "message") {
		return
	}

	reply, err := h.Requests.Handle(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err, "request failed")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type routeRequest struct {
	Message     string   `json:"message"`
	RecentFiles []string `json:"recent_files,omitempty"`
}

// RouteMessage handles POST /api/v1/route. It classifies without acting.
func (h *Handlers) RouteMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[routeRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, strings.TrimSpace(req.Message), "message") {
		return
	}
	writeJSON(w, http.StatusOK, h.Requests.Route(req.Message, req.RecentFiles))
}

// GetBuildLog handles GET /api/v1/builds/{id}/log.
func (h *Handlers) GetBuildLog(w http.ResponseWriter, r *http.Request) {
	if h.BuildLog == nil {
		writeError(w, http.StatusServiceUnavailable, "build log not configured")
		return
	}
	records, err := h.BuildLog.List(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err, "build not found")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// RecentIssues handles GET /api/v1/issues/recent.
func (h *Handlers) RecentIssues(w http.ResponseWriter, r *http.Request) {
	if h.Issues == nil {
		writeError(w, http.StatusServiceUnavailable, "issue summary not configured")
		return
	}
	issues, err := h.Issues.RecentIssues(r.Context())
	if err != nil {
		writeDomainError(w, r, err, "no issues")
		return
	}
	if issues == nil {
		issues = []build.IssueCount{}
	}
	writeJSON(w, http.StatusOK, issues)
}

type modelResponse struct {
	Model string `json:"model"`
}

// GetModel handles GET /api/v1/model.
func (h *Handlers) GetModel(w http.ResponseWriter, _ *http.Request) {
	if h.Models == nil {
		writeError(w, http.StatusServiceUnavailable, "model selection not configured")
		return
	}
	writeJSON(w, http.StatusOK, modelResponse{Model: h.Models.Current()})
}

// SwitchModel handles PUT /api/v1/model.
func (h *Handlers) SwitchModel(w http.ResponseWriter, r *http.Request) {
	if h.Models == nil {
		writeError(w, http.StatusServiceUnavailable, "model selection not configured")
		return
	}
	req, ok := readJSON[modelResponse](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.Model, "model") {
		return
	}
	if err := h.Models.SwitchModel(r.Context(), req.Model); err != nil {
		writeDomainError(w, r, err, "model is not served")
		return
	}
	writeJSON(w, http.StatusOK, modelResponse{Model: h.Models.Current()})
}

type healthResponse struct {
	Status  string                `json:"status"`
	Breaker resilience.State      `json:"breaker,omitempty"`
	LiteLLM *litellm.HealthReport `json:"litellm,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// HealthCheck handles GET /health. The process is healthy as long as it
// serves; an unreachable model proxy or an open breaker only degrades it.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.Breaker != nil {
		resp.Breaker = h.Breaker.State()
		if resp.Breaker == resilience.StateOpen {
			resp.Status = "degraded"
		}
	}
	if h.Health != nil {
		report, err := h.Health.HealthDetailed(r.Context())
		switch {
		case err != nil:
			resp.Status, resp.Error = "degraded", err.Error()
		case report.HealthyCount == 0 && report.UnhealthyCount > 0:
			resp.Status, resp.LiteLLM = "degraded", report
		default:
			resp.LiteLLM = report
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
