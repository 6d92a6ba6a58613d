package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/haasonsaas/toolgated/internal/controlplane"
	"github.com/haasonsaas/toolgated/internal/registry"
	"github.com/haasonsaas/toolgated/internal/supervisor"
	"github.com/haasonsaas/toolgated/pkg/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is /status's aggregated snapshot: registry size, per-tool
// dispatch counters from C4, and spawned-process states from C5, matching
// §4.8's "aggregated per-tool dispatch counters ... and ProviderProcess
// states" expansion.
type statusResponse struct {
	ToolCount int                          `json:"tool_count"`
	ToolStats map[string]dispatchToolStats `json:"tool_stats"`
	Processes []models.ProviderProcess     `json:"processes"`
}

type dispatchToolStats struct {
	Successes      uint64 `json:"successes"`
	Failures       uint64 `json:"failures"`
	AverageLatency string `json:"average_latency"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.dispatcher.Stats()
	toolStats := make(map[string]dispatchToolStats, len(stats))
	for id, st := range stats {
		toolStats[id] = dispatchToolStats{
			Successes:      st.Successes,
			Failures:       st.Failures,
			AverageLatency: st.AverageLatency.String(),
		}
	}
	resp := statusResponse{
		ToolCount: s.registry.Count(),
		ToolStats: toolStats,
		Processes: s.supervisor.ProcessSnapshots(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := registry.Filter{
		Kind:        models.Kind(q.Get("kind")),
		Tag:         q.Get("tag"),
		NamePattern: q.Get("name"),
	}
	if enabled := q.Get("enabled"); enabled == "true" {
		filter.EnabledOnly = true
	}

	descriptors := s.registry.Enumerate(filter)
	tools := make([]controlplane.WireDescriptor, len(descriptors))
	for i, d := range descriptors {
		tools[i] = controlplane.ToWireDescriptor(d)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools":       tools,
		"total_count": len(tools),
	})
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d, ok := s.registry.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "tool not found")
		return
	}
	writeJSON(w, http.StatusOK, controlplane.ToWireDescriptor(d))
}

func (s *Server) handleUnregisterTool(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.supervisor.Unregister(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRegisterTool(w http.ResponseWriter, r *http.Request) {
	var wire controlplane.WireDescriptor
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wire.ToolType = controlplane.WireTypeFunction

	descriptor, err := controlplane.FromWireDescriptor(wire)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	descriptor.Enabled = true
	descriptor.RegisteredAt = time.Now()

	outcome, err := s.registry.Register(descriptor)
	if err != nil {
		status := http.StatusBadRequest
		if outcome == registry.OutcomeAlreadyExists {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"tool_id": descriptor.RegistryID})
}

// mcpRegisterRequest is /admin/mcp/register's request body: a pre-running
// RemoteServer the gateway should probe and adopt, not spawn itself.
type mcpRegisterRequest struct {
	ToolID        string               `json:"tool_id"`
	Name          string               `json:"name"`
	Description   string               `json:"description"`
	Endpoint      string               `json:"endpoint"`
	ConnectParams models.ConnectParams `json:"connection_params"`
	Tags          []string             `json:"tags"`
}

func (s *Server) handleRegisterMCP(w http.ResponseWriter, r *http.Request) {
	var req mcpRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	descriptor, err := s.supervisor.RegisterExternal(r.Context(), supervisor.ExternalRegisterRequest{
		RegistryID:    req.ToolID,
		DisplayName:   req.Name,
		Description:   req.Description,
		Endpoint:      req.Endpoint,
		ConnectParams: req.ConnectParams,
		Tags:          req.Tags,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, controlplane.ToWireDescriptor(descriptor))
}

type searchInstallRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSearchInstall(w http.ResponseWriter, r *http.Request) {
	var req searchInstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	descriptor, err := s.supervisor.SearchInstall(r.Context(), req.Query)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, controlplane.ToWireDescriptor(descriptor))
}

type executeRequest struct {
	ToolID     string         `json:"tool_id"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result := s.dispatcher.Dispatch(r.Context(), req.ToolID, req.Action, req.Parameters)
	status := http.StatusOK
	if !result.Success {
		status = statusForErrorKind(result.ErrorKind)
	}
	writeJSON(w, status, controlplane.ToWireResult(result))
}

func statusForErrorKind(kind models.ErrorKind) int {
	switch kind {
	case models.ErrorToolNotFound:
		return http.StatusNotFound
	case models.ErrorActionNotSupported, models.ErrorInvalidArgument:
		return http.StatusBadRequest
	case models.ErrorDisabled:
		return http.StatusConflict
	case models.ErrorProviderUnavailable, models.ErrorTimeout:
		return http.StatusBadGateway
	case models.ErrorRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
