package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sentinela/sentinela/internal/auth"
	"github.com/sentinela/sentinela/internal/middleware"
	"github.com/sentinela/sentinela/internal/models"
	"github.com/sentinela/sentinela/internal/queue"
)

// Store is the slice of the data layer the API reads from. Writes go
// through the queue as requests, the executor applies them.
type Store interface {
	ListMonitors(ctx context.Context) ([]models.Monitor, error)
	GetMonitorByName(ctx context.Context, name string) (*models.Monitor, error)
}

type handler struct {
	deps *Dependencies
}

// Health reports liveness.
func (h *handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// stallTolerance is how long a component loop can go quiet before /status
// reports the process degraded.
const stallTolerance = 5 * time.Minute

// Status reports the diagnostics of every running component.
func (h *handler) Status(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	components := make(map[string]any, len(h.deps.Components))
	for name, component := range h.deps.Components {
		diag := component.Diagnostics()
		components[name] = diag

		if last, ok := diag["last_tick"].(time.Time); ok && time.Since(last) > stallTolerance {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"monitors_bound": h.deps.Registry.Size(),
		"components":     components,
	})
}

// Login issues a JWT for the configured admin credentials.
func (h *handler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.SendError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid login payload")
		return
	}

	resp, err := h.deps.Auth.Login(req.Username, req.Password)
	if err != nil {
		middleware.SendError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListMonitors returns every monitor row.
func (h *handler) ListMonitors(w http.ResponseWriter, r *http.Request) {
	monitors, err := h.deps.Store.ListMonitors(r.Context())
	if err != nil {
		h.deps.Logger.Error("failed to list monitors", "error", err)
		middleware.SendError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list monitors")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"monitors": monitors})
}

// GetMonitor returns one monitor row by name.
func (h *handler) GetMonitor(w http.ResponseWriter, r *http.Request) {
	name := models.NormalizeMonitorName(chi.URLParam(r, "name"))

	monitor, err := h.deps.Store.GetMonitorByName(r.Context(), name)
	if err != nil {
		h.deps.Logger.Error("failed to get monitor", "monitor", name, "error", err)
		middleware.SendError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get monitor")
		return
	}
	if monitor == nil {
		middleware.SendError(w, r, http.StatusNotFound, "NOT_FOUND", "Monitor not found")
		return
	}
	writeJSON(w, http.StatusOK, monitor)
}

// ValidateMonitor reports whether the name resolves to a registered,
// valid definition and an existing row.
func (h *handler) ValidateMonitor(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "name")
	name := models.NormalizeMonitorName(raw)

	result := map[string]any{
		"name":            raw,
		"normalized_name": name,
	}

	def, registered := h.deps.Catalog.Get(name)
	result["registered"] = registered
	if registered {
		if err := def.Validate(); err != nil {
			result["valid"] = false
			result["validation_error"] = err.Error()
		} else {
			result["valid"] = true
		}
	}

	monitor, err := h.deps.Store.GetMonitorByName(r.Context(), name)
	if err != nil {
		middleware.SendError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to look up monitor")
		return
	}
	result["exists"] = monitor != nil

	writeJSON(w, http.StatusOK, result)
}

// RegisterMonitor enqueues the registration of a monitor row.
func (h *handler) RegisterMonitor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		middleware.SendError(w, r, http.StatusBadRequest, "BAD_REQUEST", "A monitor name is required")
		return
	}

	h.enqueueRequest(w, r, queue.RequestPayload{
		Action: "monitor_register",
		Params: map[string]any{"monitor_name": req.Name},
	})
}

// EnableMonitor enqueues enabling a monitor.
func (h *handler) EnableMonitor(w http.ResponseWriter, r *http.Request) {
	h.monitorAction(w, r, "monitor_enable")
}

// DisableMonitor enqueues disabling a monitor.
func (h *handler) DisableMonitor(w http.ResponseWriter, r *http.Request) {
	h.monitorAction(w, r, "monitor_disable")
}

func (h *handler) monitorAction(w http.ResponseWriter, r *http.Request, action string) {
	name := models.NormalizeMonitorName(chi.URLParam(r, "name"))
	h.enqueueRequest(w, r, queue.RequestPayload{
		Action: action,
		Params: map[string]any{"monitor_name": name},
	})
}

// AlertAction builds a handler that enqueues one alert request.
func (h *handler) AlertAction(template queue.RequestPayload) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			middleware.SendError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid alert id")
			return
		}
		h.enqueueRequest(w, r, queue.RequestPayload{
			Action: template.Action,
			Params: map[string]any{"alert_id": id},
		})
	}
}

// DropIssue enqueues dropping an issue.
func (h *handler) DropIssue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		middleware.SendError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid issue id")
		return
	}
	h.enqueueRequest(w, r, queue.RequestPayload{
		Action: "issue_drop",
		Params: map[string]any{"issue_id": id},
	})
}

// SubmitRequest enqueues an arbitrary request action, including namespaced
// plugin actions.
func (h *handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req queue.RequestPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == "" {
		middleware.SendError(w, r, http.StatusBadRequest, "BAD_REQUEST", "A request action is required")
		return
	}
	h.enqueueRequest(w, r, req)
}

func (h *handler) enqueueRequest(w http.ResponseWriter, r *http.Request, payload queue.RequestPayload) {
	if err := h.deps.Queue.Send(r.Context(), queue.KindRequest, payload); err != nil {
		h.deps.Logger.Error("failed to enqueue request", "action", payload.Action, "error", err)
		middleware.SendError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to enqueue request")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "action": payload.Action})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
