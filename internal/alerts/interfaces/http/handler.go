package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"homewatch-cloud/internal/alerts/application"
	alerts "homewatch-cloud/internal/alerts/domain"
	"homewatch-cloud/internal/auth"
	"homewatch-cloud/internal/observability/metrics"
)

const timeLayout = time.RFC3339

// Handler provides alert HTTP endpoints.
type Handler struct {
	service *application.Service
	logger  *zap.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *application.Service, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alerts handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}, nil
}

// ServeHTTP handles /api/v1/alerts and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/alerts/ingest":
		h.post(w, r, h.handleIngest)
	case r.URL.Path == "/api/v1/alerts/search":
		h.post(w, r, h.handleSearch)
	case r.URL.Path == "/api/v1/alerts/bulk-ack":
		h.post(w, r, h.handleBulkAck)
	case r.URL.Path == "/api/v1/alerts/stats":
		h.get(w, r, h.handleStats)
	case r.URL.Path == "/api/v1/alerts/export":
		h.get(w, r, h.handleExport)
	case strings.HasPrefix(r.URL.Path, "/api/v1/alerts/"):
		h.handleAlertSubroute(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	next(w, r)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	next(w, r)
}

type ingestRequest struct {
	HouseID  string  `json:"house_id"`
	DeviceID string  `json:"device_id"`
	Type     string  `json:"type"`
	Message  string  `json:"message"`
	Score    float64 `json:"score"`
	Duration float64 `json:"duration"`
	Severity string  `json:"severity"`
	TS       string  `json:"ts"`
}

type ingestAcceptedResponse struct {
	AlertID    string    `json:"alert_id"`
	Severity   string    `json:"severity"`
	State      string    `json:"state"`
	Score      float64   `json:"score"`
	OccurredAt time.Time `json:"occurred_at"`
}

type ingestDedupResponse struct {
	AlertID      string `json:"alert_id"`
	Deduplicated bool   `json:"deduplicated"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	defer func() { metrics.ObserveIngestLatency(time.Since(started)) }()

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	input := application.IngestInput{
		HouseID:  req.HouseID,
		DeviceID: req.DeviceID,
		Type:     req.Type,
		Message:  req.Message,
		Score:    req.Score,
		Duration: time.Duration(req.Duration * float64(time.Second)),
		Severity: req.Severity,
	}
	if req.TS != "" {
		ts, err := time.Parse(timeLayout, req.TS)
		if err != nil {
			http.Error(w, "ts must be RFC3339", http.StatusBadRequest)
			return
		}
		input.OccurredAt = ts
	}

	result, err := h.service.Ingest(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if result.Deduplicated {
		writeJSON(w, http.StatusOK, ingestDedupResponse{
			AlertID:      result.AlertID,
			Deduplicated: true,
		})
		return
	}
	writeJSON(w, http.StatusCreated, ingestAcceptedResponse{
		AlertID:    result.Alert.ID,
		Severity:   result.Alert.Severity,
		State:      result.Alert.State,
		Score:      result.Alert.Score,
		OccurredAt: result.Alert.OccurredAt,
	})
}

type searchRequest struct {
	Severity string `json:"severity"`
	Status   string `json:"status"`
	State    string `json:"state"`
	Type     string `json:"type"`
	Since    string `json:"since"`
	HouseID  string `json:"house_id"`
	DeviceID string `json:"device_id"`
	Limit    int    `json:"limit"`
}

type searchResponse struct {
	Items []alerts.Alert `json:"items"`
	Count int            `json:"count"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	query, err := searchQueryFrom(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	items, err := h.service.Search(r.Context(), query)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if items == nil {
		items = []alerts.Alert{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Items: items, Count: len(items)})
}

func searchQueryFrom(req searchRequest) (alerts.SearchQuery, error) {
	state := req.State
	if state == "" {
		state = req.Status
	}
	query := alerts.SearchQuery{
		HouseID:  req.HouseID,
		DeviceID: req.DeviceID,
		Type:     req.Type,
		Severity: req.Severity,
		State:    state,
		Limit:    req.Limit,
	}
	if req.Since != "" {
		since, err := time.Parse(timeLayout, req.Since)
		if err != nil {
			return alerts.SearchQuery{}, errors.New("since must be RFC3339")
		}
		query.Since = since.UTC()
	}
	return query, nil
}

type bulkAckRequest struct {
	HouseID  string `json:"house_id"`
	Severity string `json:"severity"`
	Actor    string `json:"actor"`
	Note     string `json:"note"`
}

func (h *Handler) handleBulkAck(w http.ResponseWriter, r *http.Request) {
	var req bulkAckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Severity != "" && !alerts.ValidSeverity(req.Severity) {
		http.Error(w, "unknown severity", http.StatusBadRequest)
		return
	}

	result, err := h.service.BulkAcknowledge(r.Context(),
		alerts.BulkScope{HouseID: req.HouseID, Severity: req.Severity},
		h.actor(r, req.Actor), req.Note)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type detailResponse struct {
	Alert   *alerts.Alert         `json:"alert"`
	History []alerts.HistoryEntry `json:"history"`
}

type transitionRequest struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

func (h *Handler) handleAlertSubroute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	parts := strings.Split(path, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleDetail(w, r, parts[0])
	case len(parts) == 2 && parts[0] != "":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTransition(w, r, parts[0], parts[1])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request, id string) {
	alert, history, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if history == nil {
		history = []alerts.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, detailResponse{Alert: alert, History: history})
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, id, action string) {
	var req transitionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	}
	actor := h.actor(r, req.Actor)

	var (
		alert *alerts.Alert
		err   error
	)
	switch action {
	case "ack":
		alert, err = h.service.Acknowledge(r.Context(), id, actor, req.Note)
	case "escalate":
		alert, err = h.service.Escalate(r.Context(), id, actor, req.Note)
	case "resolve":
		alert, err = h.service.Resolve(r.Context(), id, actor, req.Note)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// actor prefers the explicit request actor, falling back to the
// authenticated subject.
func (h *Handler) actor(r *http.Request, requested string) string {
	if requested != "" {
		return requested
	}
	return auth.ActorFromContext(r.Context())
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var validation *alerts.ValidationError
	if errors.As(err, &validation) {
		http.Error(w, validation.Error(), http.StatusBadRequest)
		return
	}
	if errors.Is(err, alerts.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var conflict *alerts.ConflictError
	if errors.As(err, &conflict) {
		http.Error(w, conflict.Error(), http.StatusConflict)
		return
	}
	if errors.Is(err, auth.ErrTenantMismatch) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	h.logger.Error("alert request failed", zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
