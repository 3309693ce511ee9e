package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	alertapp "carewatch-cloud/internal/alerts/application"
	"carewatch-cloud/internal/alerts/application/events"
	alerts "carewatch-cloud/internal/alerts/domain"
	"carewatch-cloud/internal/audit"
	"carewatch-cloud/internal/auth"
	"carewatch-cloud/internal/eventing"
	"carewatch-cloud/internal/observability/metrics"
)

// Handler provides the alert HTTP endpoints.
type Handler struct {
	service *alertapp.Service
	bus     eventing.EventBus
	auditor audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *alertapp.Service, bus eventing.EventBus, auditor audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alerts handler: nil service")
	}
	if bus == nil {
		return nil, errors.New("alerts handler: nil bus")
	}
	return &Handler{service: service, bus: bus, auditor: auditor}, nil
}

// ServeHTTP handles /api/v1/vitals and /api/v1/alerts subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/vitals":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleVitals(w, r)
	case r.URL.Path == "/api/v1/alerts":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
	case r.URL.Path == "/api/v1/alerts/cleanup":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCleanup(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/alerts/"):
		h.handleAction(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleVitals(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		metrics.IncIngest(false, time.Since(started).Seconds())
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	userID := ""
	if idRaw, ok := raw["user_id"]; ok {
		_ = json.Unmarshal(idRaw, &userID)
		delete(raw, "user_id")
	}
	if userID == "" {
		userID = auth.UserIDFromContext(r.Context())
	}
	if userID == "" {
		metrics.IncIngest(false, time.Since(started).Seconds())
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	// Patients may only submit their own vitals.
	if auth.RoleFromContext(r.Context()) == auth.RolePatient {
		if ctxUser := auth.UserIDFromContext(r.Context()); ctxUser != "" && ctxUser != userID {
			metrics.IncIngest(false, time.Since(started).Seconds())
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	snapshot := make(alerts.Snapshot, len(raw))
	for name, value := range raw {
		var reading alerts.Reading
		if err := json.Unmarshal(value, &reading); err != nil {
			continue
		}
		snapshot[name] = reading
	}

	err := h.bus.Publish(r.Context(), events.VitalsReceived{
		UserID:     userID,
		Snapshot:   snapshot,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		metrics.IncIngest(false, time.Since(started).Seconds())
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.IncIngest(true, time.Since(started).Seconds())
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = alerts.StatusActive
	}
	userID := r.URL.Query().Get("user_id")
	if auth.RoleFromContext(r.Context()) == auth.RolePatient {
		userID = auth.UserIDFromContext(r.Context())
	}

	var list []alerts.Alert
	switch status {
	case alerts.StatusActive:
		list = h.service.GetActiveAlerts(userID)
	case alerts.StatusAcknowledged:
		list = h.service.GetAcknowledgedAlerts(userID)
	default:
		http.Error(w, "status must be active or acknowledged", http.StatusBadRequest)
		return
	}
	if list == nil {
		list = []alerts.Alert{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	hours, err := strconv.Atoi(r.URL.Query().Get("hours"))
	if err != nil || hours <= 0 {
		http.Error(w, "hours must be a positive integer", http.StatusBadRequest)
		return
	}
	removed := h.service.CleanupExpiredAlerts(time.Duration(hours) * time.Hour)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"removed": removed})
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[0]
	action := parts[1]

	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var (
		alert alerts.Alert
		err   error
	)
	switch action {
	case "ack":
		alert, err = h.service.AcknowledgeAlert(r.Context(), id, userID)
	case "resolve":
		var body struct {
			Note string `json:"note"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		alert, err = h.service.ResolveAlert(r.Context(), id, userID, body.Note)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if errors.Is(err, alerts.ErrUnauthorized) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeAudit(r, action, alert)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alert)
}

func (h *Handler) writeAudit(r *http.Request, action string, alert alerts.Alert) {
	if h.auditor == nil {
		return
	}
	metadata, _ := json.Marshal(map[string]string{
		"rule_id":  alert.RuleID,
		"severity": alert.Severity,
	})
	_ = h.auditor.Log(r.Context(), audit.Entry{
		Actor:         auth.UserIDFromContext(r.Context()),
		Role:          string(auth.RoleFromContext(r.Context())),
		Action:        "alert." + action,
		ResourceType:  "alert",
		ResourceID:    alert.ID,
		SubjectUserID: alert.UserID,
		Metadata:      metadata,
		IP:            r.RemoteAddr,
		UserAgent:     r.UserAgent(),
	})
}
