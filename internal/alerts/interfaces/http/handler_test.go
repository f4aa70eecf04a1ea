package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"homewatch-cloud/internal/alerts/application"
	alerts "homewatch-cloud/internal/alerts/domain"
	"homewatch-cloud/internal/alerts/infrastructure/memory"
	alerthttp "homewatch-cloud/internal/alerts/interfaces/http"
)

func newTestHandler(t *testing.T) *alerthttp.Handler {
	t.Helper()
	service, err := application.NewService(
		memory.NewAlertRepository(),
		memory.NewHistoryRepository(),
		"tenant-1",
	)
	require.NoError(t, err)
	handler, err := alerthttp.NewHandler(service, zap.NewNop())
	require.NoError(t, err)
	return handler
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func ingestAlert(t *testing.T, handler http.Handler, deviceID, eventType string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/alerts/ingest", map[string]any{
		"house_id":  "house-1",
		"device_id": deviceID,
		"type":      eventType,
		"score":     0.95,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["alert_id"].(string)
}

func TestIngestAcceptsAndClassifies(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/alerts/ingest", map[string]any{
		"house_id":  "house-1",
		"device_id": "smoke-1",
		"type":      "smoke_alarm",
		"score":     0.99,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["alert_id"])
	assert.Equal(t, alerts.SeverityCritical, resp["severity"])
	assert.Equal(t, alerts.StateNew, resp["state"])
}

func TestIngestSuppressesDuplicate(t *testing.T) {
	handler := newTestHandler(t)
	firstID := ingestAlert(t, handler, "smoke-1", "smoke_alarm")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/alerts/ingest", map[string]any{
		"house_id":  "house-1",
		"device_id": "smoke-1",
		"type":      "smoke_alarm",
		"score":     0.99,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, firstID, resp["alert_id"])
	assert.Equal(t, true, resp["deduplicated"])
}

func TestIngestRejectsMissingFields(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/alerts/ingest", map[string]any{
		"house_id": "house-1",
		"type":     "smoke_alarm",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestRejectsBadTimestamp(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/alerts/ingest", map[string]any{
		"house_id":  "house-1",
		"device_id": "smoke-1",
		"type":      "smoke_alarm",
		"ts":        "yesterday",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetailReturnsAlertWithHistory(t *testing.T) {
	handler := newTestHandler(t)
	id := ingestAlert(t, handler, "smoke-1", "smoke_alarm")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/alerts/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Alert   alerts.Alert          `json:"alert"`
		History []alerts.HistoryEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.Alert.ID)
	require.Len(t, resp.History, 1)
	assert.Equal(t, alerts.ActionCreate, resp.History[0].Action)
}

func TestDetailUnknownAlertReturns404(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/alerts/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAcknowledgeTransition(t *testing.T) {
	handler := newTestHandler(t)
	id := ingestAlert(t, handler, "smoke-1", "smoke_alarm")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/alerts/"+id+"/ack", map[string]any{
		"actor": "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var alert alerts.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alert))
	assert.Equal(t, alerts.StateAcked, alert.State)
	assert.Equal(t, "alice", alert.AcknowledgedBy)
}

func TestResolveRequiresNote(t *testing.T) {
	handler := newTestHandler(t)
	id := ingestAlert(t, handler, "smoke-1", "smoke_alarm")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/alerts/"+id+"/resolve", map[string]any{
		"actor": "alice",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransitionAfterResolveConflicts(t *testing.T) {
	handler := newTestHandler(t)
	id := ingestAlert(t, handler, "smoke-1", "smoke_alarm")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/alerts/"+id+"/resolve", map[string]any{
		"actor": "alice",
		"note":  "false alarm",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/alerts/"+id+"/ack", map[string]any{
		"actor": "bob",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUnknownTransitionReturns404(t *testing.T) {
	handler := newTestHandler(t)
	id := ingestAlert(t, handler, "smoke-1", "smoke_alarm")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/alerts/"+id+"/snooze", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchFiltersBySeverity(t *testing.T) {
	handler := newTestHandler(t)
	ingestAlert(t, handler, "smoke-1", "smoke_alarm")
	ingestAlert(t, handler, "mic-1", "dog_bark")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/alerts/search", map[string]any{
		"severity": alerts.SeverityCritical,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Items []alerts.Alert `json:"items"`
		Count int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "smoke_alarm", resp.Items[0].Type)
}

func TestSearchRejectsUnknownSeverity(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/alerts/search", map[string]any{
		"severity": "apocalyptic",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkAckAcknowledgesOpenAlerts(t *testing.T) {
	handler := newTestHandler(t)
	first := ingestAlert(t, handler, "smoke-1", "smoke_alarm")
	second := ingestAlert(t, handler, "cam-1", "glass_break")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/alerts/bulk-ack", map[string]any{
		"actor": "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Acknowledged []string `json:"acknowledged"`
		Skipped      int      `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{first, second}, resp.Acknowledged)
	assert.Zero(t, resp.Skipped)
}

func TestStatsReportsOpenCount(t *testing.T) {
	handler := newTestHandler(t)
	ingestAlert(t, handler, "smoke-1", "smoke_alarm")
	ingestAlert(t, handler, "cam-1", "glass_break")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/alerts/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stats alerts.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Open)
	assert.Equal(t, 2, stats.ByState[alerts.StateNew])
}

func TestExportProducesWorkbook(t *testing.T) {
	handler := newTestHandler(t)
	ingestAlert(t, handler, "smoke-1", "smoke_alarm")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/alerts/export?format=xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	assert.NotZero(t, rec.Body.Len())
}

func TestExportProducesPDF(t *testing.T) {
	handler := newTestHandler(t)
	ingestAlert(t, handler, "smoke-1", "smoke_alarm")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/alerts/export?format=pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.NotZero(t, rec.Body.Len())
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/alerts/export?format=csv", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t)

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/alerts/ingest"},
		{http.MethodGet, "/api/v1/alerts/search"},
		{http.MethodPost, "/api/v1/alerts/stats"},
	} {
		rec := doJSON(t, handler, route.method, route.path, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code,
			fmt.Sprintf("%s %s", route.method, route.path))
	}
}
